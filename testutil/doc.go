// Package testutil provides test doubles and fixtures for the health monitor.
//
// # Mock Implementations
//
// MockGateway - In-memory messaging gateway:
//   - Thread-safe for concurrent use
//   - Records every published envelope for verification
//   - Answers requests through a configurable RequestFunc
//   - Error injection for disconnected or failing brokers
//
// MockProber - Scripted target checks:
//   - Fixed result per target name
//   - Optional per-target delay (honours context cancellation)
//   - Optional per-target panic to exercise failure isolation
//   - Per-target call counts
//
// # Fixtures
//
// HTTPTarget, TCPTarget and SampleConfig build valid configuration values with
// defaults applied.
//
// # Usage
//
//	gw := testutil.NewMockGateway()
//	gw.RequestFunc = testutil.ReplyWith(map[string]any{"status": "healthy"})
//
//	prober := testutil.NewMockProber()
//	prober.SetStatus("svc-a", health.StatusUnhealthy, "HTTP 500")
//
//	o, err := orchestrator.New(cfg, gw, orchestrator.WithProber(prober))
package testutil
