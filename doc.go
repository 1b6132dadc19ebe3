// Package healthmonitor is the CoreBridge health-monitoring agent: a pluggable
// process that probes HTTP and TCP services, watches its own resource usage and
// reports both over a NATS message bus.
//
// # Architecture
//
// The agent is four cooperating parts:
//
//   - natsclient: the messaging gateway. It owns one NATS connection, declares the
//     JetStream streams that back the alert and request queues, publishes envelopes,
//     correlates request/reply traffic and runs a bounded linear reconnect loop.
//   - selfmonitor: samples process memory, CPU, host load and scheduler delay on a
//     fixed-rate timer, keeps a retention window of snapshots and alerts on
//     threshold breaches.
//   - probe: HTTP and TCP checkers producing one CheckResult per target.
//   - orchestrator: schedules per-target checks, full sweeps, the broker-delegated
//     database check and metrics publication, then classifies failures into alerts.
//
// Package agent wires them together from a config.Config; cmd/healthmon is the
// command-line entry point.
//
// # Messaging model
//
// Exchanges map onto subject namespaces (health, system). Each bounded queue is a
// JetStream stream with a one-hour maximum age and a 10,000 message cap. Alerts go
// to health.alerts.<type>; requests carry a Correlation-Id header and a private
// reply inbox.
//
// # Failure model
//
// A broker outage never stops probing or self-monitoring. Alerts raised while the
// gateway reconnects stay in the local histories and appear in the agent status
// report. Probe failures are results, never errors.
package healthmonitor
