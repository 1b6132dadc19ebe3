package orchestrator

import (
	"context"
	"time"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/message"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/natsclient"
)

// Routing keys and message types of published events
const (
	SweepRoutingKey   = "status.sweep"
	MetricsRoutingKey = "metrics.snapshot"
)

// MetricsReport is the periodic metrics publication
type MetricsReport struct {
	ObservedAt time.Time `json:"observedAt"`
	State      State     `json:"state"`
	Stats      Stats     `json:"stats"`
	Targets    int       `json:"targets"`
	Healthy    int       `json:"healthy"`
	Self       any       `json:"self,omitempty"`
}

// sweepEvent is the status.sweep payload
type sweepEvent struct {
	Summary SweepSummary `json:"summary"`
	Stats   Stats        `json:"stats"`
}

// PublishMetrics publishes a metrics snapshot on the health exchange. Failure is
// returned for the caller to log; the timer job ignores it.
func (o *Orchestrator) PublishMetrics(ctx context.Context) error {
	snap := MetricsReport{
		ObservedAt: o.clock.Now(),
		State:      o.State(),
		Stats:      o.Stats(),
	}
	for _, r := range o.results.All() {
		snap.Targets++
		if r.IsHealthy() {
			snap.Healthy++
		}
	}
	if o.selfFn != nil {
		if self, ok := o.selfFn(); ok {
			snap.Self = self
		}
	}

	env, err := message.New(MetricsRoutingKey, o.cfg.Source, snap, message.WithTime(snap.ObservedAt))
	if err != nil {
		return err
	}
	return o.publish(ctx, natsclient.ExchangeHealth, MetricsRoutingKey, env)
}

func (o *Orchestrator) publishSweep(ctx context.Context, s SweepSummary) {
	env, err := message.New(SweepRoutingKey, o.cfg.Source, sweepEvent{Summary: s, Stats: o.Stats()},
		message.WithTime(s.StartedAt))
	if err != nil {
		o.logger.Error("Failed to build sweep event", "error", err)
		return
	}
	_ = o.publish(ctx, natsclient.ExchangeSystem, SweepRoutingKey, env)
}

// publish sends env best effort. Failures are logged at most once a minute at
// warn level, otherwise at debug.
func (o *Orchestrator) publish(ctx context.Context, exchange, routingKey string, env *message.Envelope) error {
	err := o.gateway.Publish(ctx, exchange, routingKey, env)
	if err == nil {
		return nil
	}
	if o.softFail.Allow() {
		o.logger.Warn("Publish failed; continuing without broker", "routing_key", routingKey, "error", err)
	} else {
		o.logger.Debug("Publish failed", "routing_key", routingKey, "error", err)
	}
	return err
}
