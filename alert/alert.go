// Package alert defines severity-classified alerts, their bounded history and the
// sinks that deliver them.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Severity classifies how urgent an alert is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert types raised by the agent
const (
	TypeServiceDown     = "service-down"
	TypeServiceDegraded = "service-degraded"
	TypeHighMemory      = "high-memory"
	TypeHighCPU         = "high-cpu"
	TypeEventLoopDelay  = "event-loop-delay"
)

// DefaultHistorySize is the number of alerts kept when no bound is configured
const DefaultHistorySize = 100

// Alert is a single severity-classified notification
type Alert struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Severity   Severity  `json:"severity"`
	Target     string    `json:"target,omitempty"`
	Message    string    `json:"message"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observedAt"`
}

// New creates an alert with a fresh id
func New(alertType string, severity Severity, target, message, source string, at time.Time) Alert {
	return Alert{
		ID:         uuid.NewString(),
		Type:       alertType,
		Severity:   severity,
		Target:     target,
		Message:    message,
		Source:     source,
		ObservedAt: at,
	}
}

// Sink receives alerts. Emit must not block on slow delivery for long; failures are
// the sink's own concern.
type Sink interface {
	Emit(ctx context.Context, a Alert)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, a Alert)

// Emit calls f
func (f SinkFunc) Emit(ctx context.Context, a Alert) {
	f(ctx, a)
}

// Multi fans an alert out to every non-nil sink in order
func Multi(sinks ...Sink) Sink {
	targets := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			targets = append(targets, s)
		}
	}
	return SinkFunc(func(ctx context.Context, a Alert) {
		for _, s := range targets {
			s.Emit(ctx, a)
		}
	})
}

// Discard is a Sink that drops every alert
var Discard Sink = SinkFunc(func(context.Context, Alert) {})
