package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/alert"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/config"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/health"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/probe"
)

// SweepSummary aggregates one full check of every target
type SweepSummary struct {
	StartedAt             time.Time            `json:"startedAt"`
	Duration              time.Duration        `json:"-"`
	DurationMs            int64                `json:"durationMs"`
	Total                 int                  `json:"total"`
	Healthy               int                  `json:"healthy"`
	Unhealthy             int                  `json:"unhealthy"`
	Errors                int                  `json:"errors"`
	AverageResponseTimeMs float64              `json:"averageResponseTimeMs"`
	Results               []health.CheckResult `json:"results"`
	Alerts                []alert.Alert        `json:"alerts,omitempty"`
}

// RunFullCheck probes every target concurrently, waits for all of them, stores
// the results, raises alerts for failures and updates statistics. One target's
// failure never prevents the others from being recorded.
func (o *Orchestrator) RunFullCheck(ctx context.Context) SweepSummary {
	start := o.clock.Now()
	targets := o.cfg.Targets
	results := make([]health.CheckResult, len(targets))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			results[i] = o.CheckTarget(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	summary := summarize(results)
	summary.StartedAt = start
	summary.Duration = o.clock.Since(start)
	summary.DurationMs = summary.Duration.Milliseconds()

	for i, r := range results {
		if r.IsHealthy() {
			continue
		}
		a := o.classify(targets[i], r)
		o.emit(ctx, a)
		summary.Alerts = append(summary.Alerts, a)
	}

	o.recordSweep(results, start)
	o.metrics.RecordSweep(summary.Duration)
	o.publishSweep(ctx, summary)

	o.logger.Info("Sweep completed",
		"total", summary.Total,
		"healthy", summary.Healthy,
		"unhealthy", summary.Unhealthy,
		"avg_response_ms", summary.AverageResponseTimeMs,
		"alerts", len(summary.Alerts),
		"duration", summary.Duration)
	return summary
}

// CheckTarget probes one target and stores the result as its latest. A panicking
// probe yields an error result.
func (o *Orchestrator) CheckTarget(ctx context.Context, target config.Target) (result health.CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Probe panicked", "target", target.Name, "panic", r)
			result = probe.ErrorResult(target, fmt.Errorf("probe panicked: %v", r), o.clock.Now())
		}
		o.results.Put(result)
		o.metrics.RecordCheck(result.Target, result.Kind, string(result.Status),
			time.Duration(result.ResponseTimeMs)*time.Millisecond)
	}()

	result = o.prober.Check(ctx, target)
	result.Target = target.Name
	result.Kind = target.Kind
	if result.ObservedAt.IsZero() {
		result.ObservedAt = o.clock.Now()
	}

	if !result.IsHealthy() {
		o.logger.Debug("Target check failed", "target", target.Name, "status", result.Status,
			"error", health.Sanitize(result.Error))
	}
	return result
}

// summarize counts results. The average covers results that carry a response time.
func summarize(results []health.CheckResult) SweepSummary {
	s := SweepSummary{
		Total:   len(results),
		Results: results,
	}

	var sum int64
	var timed int
	for _, r := range results {
		switch r.Status {
		case health.StatusHealthy:
			s.Healthy++
		case health.StatusError:
			s.Errors++
		}
		if r.HasResponseTime() {
			sum += r.ResponseTimeMs
			timed++
		}
	}
	s.Unhealthy = s.Total - s.Healthy
	if timed > 0 {
		s.AverageResponseTimeMs = float64(sum) / float64(timed)
	}
	return s
}

// classify turns a failed result into an alert by target criticality
func (o *Orchestrator) classify(target config.Target, r health.CheckResult) alert.Alert {
	reason := health.Sanitize(r.Error)
	if reason == "" {
		reason = string(r.Status)
	}

	if target.Critical {
		return alert.New(alert.TypeServiceDown, alert.SeverityCritical, target.Name,
			fmt.Sprintf("Critical service %s is down: %s", target.Name, reason),
			o.cfg.Source, r.ObservedAt)
	}
	return alert.New(alert.TypeServiceDegraded, alert.SeverityWarning, target.Name,
		fmt.Sprintf("Service %s is degraded: %s", target.Name, reason),
		o.cfg.Source, r.ObservedAt)
}

// emit records a locally and hands it to the sinks
func (o *Orchestrator) emit(ctx context.Context, a alert.Alert) {
	a = o.alerts.Add(a)
	o.sink.Emit(ctx, a)
	o.metrics.RecordAlert(ComponentName, a.Type, string(a.Severity))
	o.logger.Warn("Alert raised", "type", a.Type, "severity", a.Severity, "target", a.Target, "message", a.Message)
}
