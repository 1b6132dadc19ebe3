package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/alert"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/config"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/health"
)

// MockProber returns scripted results per target name. Targets without a script
// are healthy with a 10ms response time.
// Thread-safe for concurrent use from multiple goroutines.
type MockProber struct {
	mu      sync.Mutex
	results map[string]health.CheckResult
	delays  map[string]time.Duration
	panics  map[string]any
	calls   map[string]int
}

// NewMockProber creates a prober where every target is healthy
func NewMockProber() *MockProber {
	return &MockProber{
		results: make(map[string]health.CheckResult),
		delays:  make(map[string]time.Duration),
		panics:  make(map[string]any),
		calls:   make(map[string]int),
	}
}

// SetResult scripts the result for a target
func (p *MockProber) SetResult(target string, r health.CheckResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[target] = r
}

// SetStatus scripts a result with the given status and error text
func (p *MockProber) SetStatus(target string, status health.CheckStatus, errText string) {
	p.SetResult(target, health.CheckResult{Status: status, Error: errText, ResponseTimeMs: 10})
}

// SetDelay makes checks of target block for d or until the context ends
func (p *MockProber) SetDelay(target string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays[target] = d
}

// SetPanic makes checks of target panic with v
func (p *MockProber) SetPanic(target string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.panics[target] = v
}

// Check implements the orchestrator's prober
func (p *MockProber) Check(ctx context.Context, target config.Target) health.CheckResult {
	p.mu.Lock()
	p.calls[target.Name]++
	r, scripted := p.results[target.Name]
	delay := p.delays[target.Name]
	pv, panics := p.panics[target.Name]
	p.mu.Unlock()

	if panics {
		panic(pv)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return health.CheckResult{
				Target: target.Name,
				Kind:   target.Kind,
				Status: health.StatusUnhealthy,
				Error:  ctx.Err().Error(),
			}
		}
	}

	if !scripted {
		r = health.CheckResult{Status: health.StatusHealthy, ResponseTimeMs: 10}
	}
	r.Target = target.Name
	r.Kind = target.Kind
	if r.ObservedAt.IsZero() {
		r.ObservedAt = time.Now()
	}
	return r
}

// Calls returns how often target was checked
func (p *MockProber) Calls(target string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[target]
}

// TotalCalls returns the number of checks across all targets
func (p *MockProber) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

// RecordingSink collects emitted alerts.
// Thread-safe for concurrent use from multiple goroutines.
type RecordingSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

// Emit implements alert.Sink
func (s *RecordingSink) Emit(_ context.Context, a alert.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

// Alerts returns a copy of the recorded alerts
func (s *RecordingSink) Alerts() []alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alert.Alert(nil), s.alerts...)
}

// Count returns the number of recorded alerts
func (s *RecordingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}
