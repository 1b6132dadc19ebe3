// Package probe implements the reachability checks run against targets.
//
// A Checker is a stateless strategy for one target kind. Checkers never return
// errors: every outcome, including a failure to run the probe at all, is a
// health.CheckResult.
package probe

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/config"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/health"
)

// DefaultTimeout applies to targets without a timeout
const DefaultTimeout = 5 * time.Second

// Checker probes one kind of target
type Checker interface {
	Check(ctx context.Context, target config.Target) health.CheckResult
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context, target config.Target) health.CheckResult

// Check calls f
func (f CheckerFunc) Check(ctx context.Context, target config.Target) health.CheckResult {
	return f(ctx, target)
}

// Prober dispatches a target to the Checker registered for its kind
type Prober struct {
	checkers map[string]Checker
	clock    clock.PassiveClock
}

// Option configures a Prober
type Option func(*Prober)

// WithChecker registers c for kind, replacing any existing one
func WithChecker(kind string, c Checker) Option {
	return func(p *Prober) {
		p.checkers[kind] = c
	}
}

// WithClock sets the clock used to stamp results
func WithClock(clk clock.PassiveClock) Option {
	return func(p *Prober) {
		if clk != nil {
			p.clock = clk
		}
	}
}

// New returns a Prober with the HTTP and TCP checkers registered
func New(opts ...Option) *Prober {
	p := &Prober{
		checkers: make(map[string]Checker),
		clock:    clock.RealClock{},
	}
	p.checkers[config.KindHTTP] = NewHTTP()
	p.checkers[config.KindTCP] = NewTCP()

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check runs the checker for target.Kind. Unknown kinds and panicking checkers
// yield an error result.
func (p *Prober) Check(ctx context.Context, target config.Target) (result health.CheckResult) {
	checker, ok := p.checkers[target.Kind]
	if !ok {
		return p.errorResult(target, fmt.Errorf("no checker for kind %q", target.Kind))
	}

	defer func() {
		if r := recover(); r != nil {
			result = p.errorResult(target, fmt.Errorf("probe panicked: %v", r))
		}
	}()

	result = checker.Check(ctx, target)
	result.Target = target.Name
	result.Kind = target.Kind
	if result.ObservedAt.IsZero() {
		result.ObservedAt = p.clock.Now()
	}
	return result
}

func (p *Prober) errorResult(target config.Target, err error) health.CheckResult {
	return ErrorResult(target, err, p.clock.Now())
}

// ErrorResult is the result for a probe that could not be carried out
func ErrorResult(target config.Target, err error, at time.Time) health.CheckResult {
	return health.CheckResult{
		Target:     target.Name,
		Kind:       target.Kind,
		Status:     health.StatusError,
		Error:      err.Error(),
		ObservedAt: at,
	}
}

func timeoutOf(target config.Target) time.Duration {
	if t := target.Timeout(); t > 0 {
		return t
	}
	return DefaultTimeout
}
