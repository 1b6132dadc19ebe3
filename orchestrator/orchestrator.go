package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/alert"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/config"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/health"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/message"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/metric"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/natsclient"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/pkg/schedule"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/probe"
)

// ComponentName identifies the orchestrator in logs, metrics and health reports
const ComponentName = "orchestrator"

// Gateway is the slice of the messaging gateway the orchestrator uses
type Gateway interface {
	Publish(ctx context.Context, exchange, routingKey string, env *message.Envelope) error
	Request(ctx context.Context, exchange, routingKey, msgType string, query any, timeout time.Duration) (*message.Envelope, error)
}

// Prober checks a single target
type Prober interface {
	Check(ctx context.Context, target config.Target) health.CheckResult
}

// State is the orchestrator lifecycle state
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DatabaseCheck configures the broker-delegated database check
type DatabaseCheck struct {
	Name     string
	QueryID  string
	Value    any
	Timeout  time.Duration
	Interval time.Duration
	Critical bool
}

// Config configures an Orchestrator
type Config struct {
	Source          string
	Targets         []config.Target
	SweepInterval   time.Duration
	MetricsInterval time.Duration
	Concurrency     int
	AlertHistory    int
	Database        *DatabaseCheck
}

// ConfigFrom maps the agent configuration onto an orchestrator Config
func ConfigFrom(c *config.Config) Config {
	cfg := Config{
		Source:          c.Source,
		Targets:         append([]config.Target(nil), c.Targets...),
		SweepInterval:   config.Ms(c.Monitoring.SweepIntervalMs),
		MetricsInterval: config.Ms(c.Monitoring.MetricsIntervalMs),
		Concurrency:     c.Monitoring.Concurrency,
		AlertHistory:    c.Monitoring.AlertHistory,
	}
	if d := c.Database; d.Enabled {
		cfg.Database = &DatabaseCheck{
			Name:     d.Name,
			QueryID:  d.QueryID,
			Value:    d.Value,
			Timeout:  config.Ms(d.TimeoutMs),
			Interval: config.Ms(d.IntervalMs),
			Critical: d.Critical,
		}
	}
	return cfg
}

// timerSpec is one recurring job
type timerSpec struct {
	name     string
	schedule schedule.Schedule
	run      func(ctx context.Context)
}

// Orchestrator coordinates scheduled checks. It is safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	gateway  Gateway
	prober   Prober
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metric.Metrics
	results  *health.Store
	alerts   *alert.History
	sink     alert.Sink
	dbSchema *gojsonschema.Schema
	selfFn   func() (any, bool)
	timers   []timerSpec

	// softFail throttles warnings for best-effort publishing
	softFail *rate.Limiter

	statsMu sync.Mutex
	stats   statsAccumulator

	mu          sync.Mutex
	state       State
	baseCancel  context.CancelFunc
	baseCtx     context.Context
	timerCancel context.CancelFunc
	loops       sync.WaitGroup
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithProber replaces the default HTTP/TCP prober
func WithProber(p Prober) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.prober = p
		}
	}
}

// WithClock replaces the clock driving the timers
func WithClock(clk clock.Clock) Option {
	return func(o *Orchestrator) {
		if clk != nil {
			o.clock = clk
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger.With("component", ComponentName)
		}
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metric.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithAlertSink adds a sink receiving every alert next to the broker publication
func WithAlertSink(s alert.Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sink = alert.Multi(o.sink, s)
		}
	}
}

// WithSelfSnapshot supplies the latest self-monitor snapshot for metrics publication
func WithSelfSnapshot(fn func() (any, bool)) Option {
	return func(o *Orchestrator) {
		o.selfFn = fn
	}
}

// New creates a stopped orchestrator publishing through gw
func New(cfg Config, gw Gateway, opts ...Option) (*Orchestrator, error) {
	if gw == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Orchestrator", "New", "validate gateway")
	}
	if cfg.Source == "" {
		cfg.Source = "health-monitor"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.AlertHistory <= 0 {
		cfg.AlertHistory = alert.DefaultHistorySize
	}

	seen := make(map[string]bool, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if seen[t.Name] {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: duplicate target name %q", errors.ErrInvalidConfig, t.Name),
				"Orchestrator", "New", "validate targets")
		}
		seen[t.Name] = true
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(databaseReplySchema))
	if err != nil {
		return nil, errors.WrapFatal(err, "Orchestrator", "New", "compile database reply schema")
	}

	o := &Orchestrator{
		cfg:      cfg,
		gateway:  gw,
		clock:    clock.RealClock{},
		logger:   slog.Default().With("component", ComponentName),
		results:  health.NewStore(),
		alerts:   alert.NewHistory(cfg.AlertHistory),
		dbSchema: schema,
		softFail: rate.NewLimiter(rate.Every(time.Minute), 1),
	}
	o.sink = alert.NewBrokerSink(gw, natsclient.ExchangeHealth, cfg.Source, o.logger)

	for _, opt := range opts {
		opt(o)
	}
	if o.prober == nil {
		o.prober = probe.New(probe.WithClock(o.clock))
	}

	if err := o.buildTimers(); err != nil {
		return nil, err
	}
	return o, nil
}

// buildTimers converts every configured interval to a schedule
func (o *Orchestrator) buildTimers() error {
	add := func(name string, interval time.Duration, run func(ctx context.Context)) error {
		sched, err := schedule.FromInterval(interval)
		if err != nil {
			return errors.Wrap(err, "Orchestrator", "New", "schedule "+name)
		}
		o.timers = append(o.timers, timerSpec{name: name, schedule: sched, run: run})
		return nil
	}

	for _, t := range o.cfg.Targets {
		if t.Interval() <= 0 {
			continue
		}
		target := t
		if err := add("target:"+t.Name, t.Interval(), func(ctx context.Context) {
			o.CheckTarget(ctx, target)
		}); err != nil {
			return err
		}
	}

	if err := add("sweep", o.cfg.SweepInterval, func(ctx context.Context) {
		o.RunFullCheck(ctx)
	}); err != nil {
		return err
	}

	if db := o.cfg.Database; db != nil && db.Interval > 0 {
		if err := add("database", db.Interval, func(ctx context.Context) {
			o.runDatabaseCheck(ctx)
		}); err != nil {
			return err
		}
	}

	if o.cfg.MetricsInterval > 0 {
		if err := add("metrics", o.cfg.MetricsInterval, func(ctx context.Context) {
			_ = o.PublishMetrics(ctx)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Start moves stopped → running and arms every timer. The first checks happen
// one interval later; use ForceCheck for an immediate sweep.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateStopped {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Orchestrator", "Start",
			fmt.Sprintf("start from %s", o.state))
	}

	o.baseCtx, o.baseCancel = context.WithCancel(context.WithoutCancel(ctx))
	o.startTimersLocked()
	o.state = StateRunning
	o.logger.Info("Orchestrator started", "targets", len(o.cfg.Targets), "timers", len(o.timers))
	return nil
}

// Pause moves running → paused. Timers stop; in-flight checks complete.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateRunning {
		return errors.WrapInvalid(fmt.Errorf("cannot pause while %s", o.state), "Orchestrator", "Pause", "pause")
	}
	o.timerCancel()
	o.timerCancel = nil
	o.state = StatePaused
	o.logger.Info("Orchestrator paused")
	return nil
}

// Resume moves paused → running, re-arming timers without an immediate check
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StatePaused {
		return errors.WrapInvalid(fmt.Errorf("cannot resume while %s", o.state), "Orchestrator", "Resume", "resume")
	}
	o.startTimersLocked()
	o.state = StateRunning
	o.logger.Info("Orchestrator resumed")
	return nil
}

// Stop halts all timers, cancels in-flight checks and waits for the timer loops
// to exit. Stopping a stopped orchestrator does nothing.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state == StateStopped {
		o.mu.Unlock()
		return
	}
	if o.timerCancel != nil {
		o.timerCancel()
		o.timerCancel = nil
	}
	o.baseCancel()
	o.state = StateStopped
	o.mu.Unlock()

	o.loops.Wait()
	o.logger.Info("Orchestrator stopped")
}

// State returns the lifecycle state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// startTimersLocked launches one loop per timer; o.mu must be held. Jobs run on
// the base context so pausing does not cancel them.
func (o *Orchestrator) startTimersLocked() {
	timerCtx, cancel := context.WithCancel(o.baseCtx)
	o.timerCancel = cancel
	base := o.baseCtx

	for _, spec := range o.timers {
		spec := spec
		o.loops.Add(1)
		go func() {
			defer o.loops.Done()
			schedule.Run(timerCtx, o.clock, spec.schedule, func(time.Time) {
				spec.run(base)
			})
		}()
		o.logger.Debug("Timer armed", "timer", spec.name, "schedule", spec.schedule.String())
	}
}

// ForceCheck runs a full sweep now, in any lifecycle state
func (o *Orchestrator) ForceCheck(ctx context.Context) SweepSummary {
	return o.RunFullCheck(ctx)
}

// Targets returns the configured targets
func (o *Orchestrator) Targets() []config.Target {
	return append([]config.Target(nil), o.cfg.Targets...)
}

// Results returns the latest result per target, ordered by name
func (o *Orchestrator) Results() []health.CheckResult {
	return o.results.All()
}

// Result returns the latest result for one target
func (o *Orchestrator) Result(name string) (health.CheckResult, bool) {
	return o.results.Get(name)
}

// Alerts returns the newest n alerts, oldest first
func (o *Orchestrator) Alerts(n int) []alert.Alert {
	return o.alerts.Recent(n)
}

// History exposes the bounded alert history
func (o *Orchestrator) History() *alert.History {
	return o.alerts
}

// Health summarises the targets: healthy, degraded when some fail, unhealthy
// when all fail
func (o *Orchestrator) Health() health.Status {
	return o.results.Summary(ComponentName)
}

// Reset clears statistics, results and alert history
func (o *Orchestrator) Reset() {
	o.statsMu.Lock()
	o.stats = statsAccumulator{}
	o.statsMu.Unlock()

	o.results.Clear()
	o.alerts.Reset()
	o.logger.Info("Orchestrator statistics reset")
}
