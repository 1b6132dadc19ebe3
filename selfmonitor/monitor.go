package selfmonitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/alert"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/config"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/health"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/metric"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/pkg/schedule"
)

// ComponentName identifies the self-monitor in health reports and alerts
const ComponentName = "self-monitor"

const bytesPerMB = 1024 * 1024

// Defaults
const (
	DefaultInterval  = 30 * time.Second
	DefaultRetention = time.Hour
	DefaultLagSample = 100 * time.Millisecond
)

// Thresholds above which an alert is raised
type Thresholds struct {
	MemoryMB         float64 `json:"memoryMB"`
	CPUPercent       float64 `json:"cpuPercent"`
	EventLoopDelayMs float64 `json:"eventLoopDelayMs"`
}

// Config configures a Monitor
type Config struct {
	Interval     time.Duration
	Retention    time.Duration
	LagSample    time.Duration
	AlertHistory int
	Thresholds   Thresholds
	Source       string
}

// ConfigFrom maps the agent configuration onto a monitor Config
func ConfigFrom(c config.SelfMonitorConfig, source string) Config {
	return Config{
		Interval:     config.Ms(c.IntervalMs),
		Retention:    config.Ms(c.RetentionMs),
		LagSample:    config.Ms(c.LagSampleMs),
		AlertHistory: c.AlertHistory,
		Thresholds: Thresholds{
			MemoryMB:         c.Thresholds.MemoryMB,
			CPUPercent:       c.Thresholds.CPUPercent,
			EventLoopDelayMs: c.Thresholds.EventLoopDelayMs,
		},
		Source: source,
	}
}

// MemoryUsage is process memory in megabytes
type MemoryUsage struct {
	HeapAllocMB float64 `json:"heapAllocMB"`
	HeapSysMB   float64 `json:"heapSysMB"`
	SysMB       float64 `json:"sysMB"`
	RSSMB       float64 `json:"rssMB"`
}

// Snapshot is one collection cycle's measurements
type Snapshot struct {
	ObservedAt       time.Time          `json:"observedAt"`
	Memory           MemoryUsage        `json:"processMemory"`
	CPUPercent       float64            `json:"processCpu"`
	EventLoopDelayMs float64            `json:"eventLoopDelayMs"`
	SystemLoad       LoadAverage        `json:"systemLoad"`
	Goroutines       int                `json:"goroutines"`
	Health           health.CheckStatus `json:"health"`
}

// Monitor runs the self-monitoring cycle. It is safe for concurrent use.
type Monitor struct {
	cfg     Config
	clock   clock.Clock
	sampler Sampler
	logger  *slog.Logger
	metrics *metric.Metrics
	sink    alert.Sink
	history *alert.History
	lag     *lagSampler

	mu        sync.RWMutex
	snapshots []Snapshot // ordered by ObservedAt
	lastCPU   time.Duration
	lastWall  time.Time
	baseline  bool

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock replaces the clock driving the cycle and lag timers
func WithClock(clk clock.Clock) Option {
	return func(m *Monitor) {
		if clk != nil {
			m.clock = clk
		}
	}
}

// WithSampler replaces the platform sampler
func WithSampler(s Sampler) Option {
	return func(m *Monitor) {
		if s != nil {
			m.sampler = s
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger.With("component", ComponentName)
		}
	}
}

// WithMetrics enables Prometheus gauges
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// WithSink forwards every raised alert to s, in addition to the local history
func WithSink(s alert.Sink) Option {
	return func(m *Monitor) {
		if s != nil {
			m.sink = s
		}
	}
}

// New creates a stopped Monitor
func New(cfg Config, opts ...Option) (*Monitor, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.LagSample <= 0 {
		cfg.LagSample = DefaultLagSample
	}
	if cfg.Source == "" {
		cfg.Source = ComponentName
	}

	th := cfg.Thresholds
	if th.MemoryMB <= 0 || th.CPUPercent <= 0 || th.EventLoopDelayMs <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: thresholds must be positive: %+v", errors.ErrInvalidConfig, th),
			"Monitor", "New", "validate thresholds")
	}

	m := &Monitor{
		cfg:     cfg,
		clock:   clock.RealClock{},
		sampler: NewSampler(),
		logger:  slog.Default().With("component", ComponentName),
		sink:    alert.Discard,
		history: alert.NewHistory(cfg.AlertHistory),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lag = newLagSampler(m.clock, cfg.LagSample)
	return m, nil
}

// Start begins sampling every interval (the configured interval when zero). Starting
// a running monitor logs a warning and does nothing.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		m.logger.Warn("Self-monitor already running")
		return nil
	}

	if interval <= 0 {
		interval = m.cfg.Interval
	}
	sched, err := schedule.FromInterval(interval)
	if err != nil {
		return errors.Wrap(err, "Monitor", "Start", "build schedule")
	}

	m.takeBaseline()
	m.lag.start()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.running = true
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		schedule.Run(runCtx, m.clock, sched, func(time.Time) {
			if _, err := m.Collect(runCtx); err != nil {
				m.logger.Warn("Self-monitor sampling incomplete", "error", err)
			}
		})
	}()

	m.logger.Info("Self-monitor started", "schedule", sched.String(),
		"retention", m.cfg.Retention, "lag_sample", m.cfg.LagSample)
	return nil
}

// Stop halts sampling. Stopping a stopped monitor does nothing.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return
	}
	m.cancel()
	<-m.done
	m.lag.stop()

	m.running = false
	m.cancel = nil
	m.done = nil
	m.logger.Info("Self-monitor stopped")
}

// IsRunning reports whether the sampling timer is active
func (m *Monitor) IsRunning() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

func (m *Monitor) takeBaseline() {
	cpu, err := m.sampler.CPUTime()
	if err != nil {
		m.logger.Debug("CPU baseline unavailable", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCPU = cpu
	m.lastWall = m.clock.Now()
	m.baseline = true
}

// Collect runs one cycle: sample, evict expired snapshots, store, evaluate
// thresholds and emit alerts. Sampler failures are returned but the snapshot is
// still recorded with the fields that could be read.
func (m *Monitor) Collect(ctx context.Context) (Snapshot, error) {
	now := m.clock.Now()
	var errs error

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := Snapshot{
		ObservedAt: now,
		Memory: MemoryUsage{
			HeapAllocMB: float64(ms.HeapAlloc) / bytesPerMB,
			HeapSysMB:   float64(ms.HeapSys) / bytesPerMB,
			SysMB:       float64(ms.Sys) / bytesPerMB,
		},
		EventLoopDelayMs: m.lag.current(),
		Goroutines:       runtime.NumGoroutine(),
	}

	if rss, err := m.sampler.RSS(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("rss: %w", err))
	} else {
		snap.Memory.RSSMB = float64(rss) / bytesPerMB
	}
	if load, err := m.sampler.Load(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("load average: %w", err))
	} else {
		snap.SystemLoad = load
	}
	if cpu, err := m.sampler.CPUTime(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("cpu time: %w", err))
	} else {
		snap.CPUPercent = m.cpuPercent(cpu, now)
	}

	alerts := m.EvaluateThresholds(snap)
	snap.Health = health.StatusHealthy
	if len(alerts) > 0 {
		snap.Health = health.StatusUnhealthy
	}

	m.store(snap)

	for _, a := range alerts {
		a = m.history.Add(a)
		m.sink.Emit(ctx, a)
		m.metrics.RecordAlert(ComponentName, a.Type, string(a.Severity))
		m.logger.Warn("Self-monitor threshold breached", "type", a.Type, "message", a.Message)
	}
	m.metrics.RecordSelf(snap.Memory.HeapAllocMB, snap.CPUPercent, snap.EventLoopDelayMs,
		snap.Goroutines, snap.Health == health.StatusHealthy)

	return snap, errs
}

// cpuPercent returns CPU use since the previous baseline and moves the baseline
func (m *Monitor) cpuPercent(cpu time.Duration, now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pct float64
	if m.baseline {
		if wall := now.Sub(m.lastWall); wall > 0 {
			pct = float64(cpu-m.lastCPU) / float64(wall) * 100
		}
	}
	if pct < 0 {
		pct = 0
	}
	m.lastCPU = cpu
	m.lastWall = now
	m.baseline = true
	return pct
}

// store appends snap and evicts snapshots older than the retention window
func (m *Monitor) store(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.snapshots); n > 0 && snap.ObservedAt.Before(m.snapshots[n-1].ObservedAt) {
		snap.ObservedAt = m.snapshots[n-1].ObservedAt
	}
	m.snapshots = append(m.snapshots, snap)
	m.evictLocked(snap.ObservedAt)
}

func (m *Monitor) evictLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Retention)
	i := 0
	for i < len(m.snapshots) && m.snapshots[i].ObservedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.snapshots = append(m.snapshots[:0:0], m.snapshots[i:]...)
	}
}

// EvaluateThresholds returns one alert for each metric in s above its threshold
func (m *Monitor) EvaluateThresholds(s Snapshot) []alert.Alert {
	th := m.cfg.Thresholds
	var alerts []alert.Alert

	if s.Memory.HeapAllocMB > th.MemoryMB {
		alerts = append(alerts, alert.New(alert.TypeHighMemory, alert.SeverityWarning, "",
			fmt.Sprintf("Memory usage %.1fMB exceeds threshold %.0fMB", s.Memory.HeapAllocMB, th.MemoryMB),
			m.cfg.Source, s.ObservedAt))
	}
	if s.CPUPercent > th.CPUPercent {
		alerts = append(alerts, alert.New(alert.TypeHighCPU, alert.SeverityWarning, "",
			fmt.Sprintf("CPU usage %.1f%% exceeds threshold %.0f%%", s.CPUPercent, th.CPUPercent),
			m.cfg.Source, s.ObservedAt))
	}
	if s.EventLoopDelayMs > th.EventLoopDelayMs {
		alerts = append(alerts, alert.New(alert.TypeEventLoopDelay, alert.SeverityWarning, "",
			fmt.Sprintf("Scheduler delay %.0fms exceeds threshold %.0fms", s.EventLoopDelayMs, th.EventLoopDelayMs),
			m.cfg.Source, s.ObservedAt))
	}
	return alerts
}

// Health reports unhealthy iff the latest snapshot breaches a threshold
func (m *Monitor) Health() health.Status {
	snap, ok := m.Latest()
	if !ok {
		return health.NewHealthy(ComponentName, "No samples collected yet")
	}

	breaches := m.EvaluateThresholds(snap)
	if len(breaches) == 0 {
		return health.NewHealthy(ComponentName, "All metrics within thresholds")
	}

	types := make([]string, len(breaches))
	for i, a := range breaches {
		types[i] = a.Type
	}
	return health.NewUnhealthy(ComponentName, "Thresholds breached: "+strings.Join(types, ", "))
}

// Latest returns the most recent snapshot
func (m *Monitor) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.snapshots) == 0 {
		return Snapshot{}, false
	}
	return m.snapshots[len(m.snapshots)-1], true
}

// Snapshots returns the retained snapshots, oldest first
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Snapshot(nil), m.snapshots...)
}

// Alerts returns the newest n self-monitor alerts, oldest first
func (m *Monitor) Alerts(n int) []alert.Alert {
	return m.history.Recent(n)
}

// History exposes the bounded alert history
func (m *Monitor) History() *alert.History {
	return m.history
}

// Thresholds returns the configured thresholds
func (m *Monitor) Thresholds() Thresholds {
	return m.cfg.Thresholds
}
