package probe

import (
	"context"
	"net"

	"k8s.io/utils/clock"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/config"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/health"
)

// ContextDialer opens network connections
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TCP probes tcp targets: a completed connect within the timeout is healthy,
// anything else unhealthy.
type TCP struct {
	dialer ContextDialer
	clock  clock.PassiveClock
}

// TCPOption configures the TCP checker
type TCPOption func(*TCP)

// WithDialer replaces the dialer
func WithDialer(d ContextDialer) TCPOption {
	return func(t *TCP) {
		if d != nil {
			t.dialer = d
		}
	}
}

// WithTCPClock sets the clock measuring connect time
func WithTCPClock(clk clock.PassiveClock) TCPOption {
	return func(t *TCP) {
		if clk != nil {
			t.clock = clk
		}
	}
}

// NewTCP creates a TCP checker
func NewTCP(opts ...TCPOption) *TCP {
	t := &TCP{
		dialer: &net.Dialer{},
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Check implements Checker
func (t *TCP) Check(ctx context.Context, target config.Target) health.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeoutOf(target))
	defer cancel()

	start := t.clock.Now()
	conn, err := t.dialer.DialContext(ctx, "tcp", target.Address())
	elapsed := t.clock.Since(start)

	result := health.CheckResult{
		Target:         target.Name,
		Kind:           target.Kind,
		ResponseTimeMs: elapsed.Milliseconds(),
		ObservedAt:     t.clock.Now(),
	}
	if err != nil {
		result.Status = health.StatusUnhealthy
		result.Error = err.Error()
		return result
	}
	_ = conn.Close()

	result.Status = health.StatusHealthy
	return result
}
