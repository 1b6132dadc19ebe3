// Package metric provides the agent's Prometheus metrics and the HTTP endpoint
// that exposes them.
//
// MetricsRegistry owns a private prometheus.Registry with the agent's core
// metrics (Metrics), the Go runtime and process collectors, and any extra
// collectors registered by name. Server serves the registry on a configurable
// path plus a /health endpoint backed by a caller-supplied function:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, agent.HealthStatus)
//	go func() {
//		if err := server.Start(); err != nil {
//			logger.Error("metrics server failed", "error", err)
//		}
//	}()
//	defer server.Stop()
//
// All Record methods accept a nil *Metrics, so components can run without
// metrics wiring.
package metric
