// Package orchestrator schedules and runs target health checks.
//
// Every target gets its own recurring timer at its configured interval. A
// coarser full-sweep timer probes all targets together, classifies failures by
// criticality and raises alerts; optional timers run the broker-delegated
// database check and publish a metrics snapshot.
//
// # Lifecycle
//
//	stopped → running → paused → running → stopped
//
// Pause halts the timers only: checks already dispatched complete and accumulated
// results, alerts and statistics stay. Resume restarts the timers without an
// immediate check. Stop is idempotent.
//
// # Failure isolation
//
// Probes run concurrently, bounded by the configured concurrency. A probe that
// fails, times out or panics yields a result for its own target and never
// affects the others; a sweep waits for every dispatched probe before it
// classifies alerts.
//
// # Alerts
//
// An unhealthy or error result for a critical target raises a critical
// "service-down" alert; for any other target a warning "service-degraded" alert.
// Alerts are kept in a bounded local history and published on the health
// exchange. Publishing is best effort: a disconnected gateway never stops
// checking.
package orchestrator
