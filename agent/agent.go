package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/alert"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/config"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/metric"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/natsclient"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/orchestrator"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/pkg/tlsutil"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/probe"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/selfmonitor"
)

// ComponentName identifies the agent in logs and the aggregate health report
const ComponentName = "health-monitor"

// Gateway is the broker connection as the agent drives it. *natsclient.Client
// implements it.
type Gateway interface {
	orchestrator.Gateway
	Connect(ctx context.Context) error
	DeclareTopology(ctx context.Context) error
	ScheduleReconnect()
	GetStatus() natsclient.Status
	Close(ctx context.Context) error
}

// Agent is the assembled health monitor
type Agent struct {
	cfg      *config.Config
	logger   *slog.Logger
	clock    clock.Clock
	registry *metric.MetricsRegistry
	gateway  Gateway
	self     *selfmonitor.Monitor
	orch     *orchestrator.Orchestrator
	server   *metric.Server
	prober   orchestrator.Prober

	mu      sync.Mutex
	started bool
	serving sync.WaitGroup
}

// Option configures an Agent
type Option func(*Agent)

// WithLogger sets the logger handed to every part of the agent
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithGateway replaces the NATS gateway built from the configuration
func WithGateway(g Gateway) Option {
	return func(a *Agent) {
		a.gateway = g
	}
}

// WithProber replaces the default HTTP/TCP prober
func WithProber(p orchestrator.Prober) Option {
	return func(a *Agent) {
		a.prober = p
	}
}

// WithClock drives every timer of the agent from clk
func WithClock(clk clock.Clock) Option {
	return func(a *Agent) {
		if clk != nil {
			a.clock = clk
		}
	}
}

// WithRegistry shares an existing metrics registry
func WithRegistry(r *metric.MetricsRegistry) Option {
	return func(a *Agent) {
		if r != nil {
			a.registry = r
		}
	}
}

// New validates cfg and wires the agent. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Agent", "New", "validate configuration")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:    cfg,
		logger: slog.Default(),
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = metric.NewMetricsRegistry()
	}
	metrics := a.registry.CoreMetrics()

	if a.gateway == nil {
		opts, err := gatewayOptions(cfg, a.logger, a.clock, metrics)
		if err != nil {
			return nil, err
		}
		client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
		if err != nil {
			return nil, err
		}
		a.gateway = client
	}

	if cfg.SelfMonitorEnabled() {
		sink := alert.NewBrokerSink(a.gateway, natsclient.ExchangeHealth, cfg.Source,
			a.logger.With("component", selfmonitor.ComponentName))
		self, err := selfmonitor.New(selfmonitor.ConfigFrom(cfg.SelfMonitor, cfg.Source),
			selfmonitor.WithLogger(a.logger),
			selfmonitor.WithClock(a.clock),
			selfmonitor.WithMetrics(metrics),
			selfmonitor.WithSink(sink))
		if err != nil {
			return nil, err
		}
		a.self = self
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(a.logger),
		orchestrator.WithClock(a.clock),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithSelfSnapshot(a.latestSelf),
	}
	if a.prober == nil && cfg.Monitoring.TLS.Enabled {
		tc, err := tlsutil.LoadClientConfig(cfg.Monitoring.TLS)
		if err != nil {
			return nil, err
		}
		a.prober = probe.New(
			probe.WithClock(a.clock),
			probe.WithChecker(config.KindHTTP, probe.NewHTTP(probe.WithTLSConfig(tc), probe.WithHTTPClock(a.clock))))
	}
	if a.prober != nil {
		orchOpts = append(orchOpts, orchestrator.WithProber(a.prober))
	}
	orch, err := orchestrator.New(orchestrator.ConfigFrom(cfg), a.gateway, orchOpts...)
	if err != nil {
		return nil, err
	}
	a.orch = orch

	if cfg.Metrics.Enabled {
		a.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry, a.Health)
	}
	return a, nil
}

// gatewayOptions maps the nats section of the configuration onto client options
func gatewayOptions(cfg *config.Config, logger *slog.Logger, clk clock.Clock, m *metric.Metrics) ([]natsclient.ClientOption, error) {
	n := cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithClock(clk),
		natsclient.WithMetrics(m),
		natsclient.WithName(n.Name),
		natsclient.WithSource(cfg.Source),
		natsclient.WithMaxReconnects(n.ReconnectBudget()),
	}
	if d := config.Ms(n.ConnectTimeoutMs); d > 0 {
		opts = append(opts, natsclient.WithConnectTimeout(d))
	}
	if d := config.Ms(n.ReconnectBaseDelayMs); d > 0 {
		opts = append(opts, natsclient.WithReconnectBaseDelay(d))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithUserInfo(n.Username, n.Password))
	}
	if n.TLS.Enabled {
		tc, err := tlsutil.LoadClientConfig(n.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, natsclient.WithTLSConfig(tc))
	}
	return opts, nil
}

func (a *Agent) latestSelf() (any, bool) {
	if a.self == nil {
		return nil, false
	}
	snap, ok := a.self.Latest()
	if !ok {
		return nil, false
	}
	return snap, true
}

// Start connects to the broker, then starts self-monitoring and the orchestrator.
// An unreachable broker is logged and retried in the background.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Agent", "Start", "start agent")
	}

	if a.server != nil {
		a.serving.Add(1)
		go func() {
			defer a.serving.Done()
			if err := a.server.Start(); err != nil {
				a.logger.Error("Metrics server failed", "error", err)
			}
		}()
		a.logger.Info("Metrics server listening", "address", a.server.Address())
	}

	a.connect(ctx)

	if a.self != nil {
		if err := a.self.Start(ctx, 0); err != nil {
			return multierr.Append(err, a.release(ctx))
		}
	}
	if err := a.orch.Start(ctx); err != nil {
		if a.self != nil {
			a.self.Stop()
		}
		return multierr.Append(err, a.release(ctx))
	}

	a.started = true
	a.logger.Info("Health monitor started",
		"source", a.cfg.Source,
		"targets", len(a.cfg.Targets),
		"self_monitor", a.self != nil,
		"database_check", a.cfg.Database.Enabled)
	return nil
}

// connect makes the first connection attempt and declares the topology
func (a *Agent) connect(ctx context.Context) {
	if err := a.gateway.Connect(ctx); err != nil {
		a.logger.Warn("Broker unavailable at startup, reconnecting in background", "error", err)
		a.gateway.ScheduleReconnect()
		return
	}
	if err := a.gateway.DeclareTopology(ctx); err != nil {
		a.logger.Error("Failed to declare broker topology", "error", err)
	}
}

// Stop halts the orchestrator and self-monitor, then closes the gateway and the
// metrics server. Stopping a stopped agent does nothing.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	a.started = false

	a.orch.Stop()
	if a.self != nil {
		a.self.Stop()
	}

	if errs := a.release(ctx); errs != nil {
		a.logger.Warn("Health monitor stopped with errors", "error", errs)
		return errs
	}
	a.logger.Info("Health monitor stopped")
	return nil
}

// release closes the gateway and the metrics server
func (a *Agent) release(ctx context.Context) error {
	errs := a.gateway.Close(ctx)
	if a.server != nil {
		errs = multierr.Append(errs, a.server.Stop())
		a.serving.Wait()
	}
	return errs
}

// Run starts the agent, blocks until ctx is done and stops it within
// shutdownTimeout
func (a *Agent) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("Shutting down health monitor")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return a.Stop(shutdownCtx)
}

// Pause suspends scheduled checks
func (a *Agent) Pause() error {
	return a.orch.Pause()
}

// Resume restarts scheduled checks
func (a *Agent) Resume() error {
	return a.orch.Resume()
}

// ForceCheck runs a full sweep immediately
func (a *Agent) ForceCheck(ctx context.Context) orchestrator.SweepSummary {
	return a.orch.ForceCheck(ctx)
}

// Orchestrator exposes the orchestrator
func (a *Agent) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// SelfMonitor exposes the self-monitor; nil when disabled
func (a *Agent) SelfMonitor() *selfmonitor.Monitor {
	return a.self
}

// Registry exposes the metrics registry
func (a *Agent) Registry() *metric.MetricsRegistry {
	return a.registry
}
