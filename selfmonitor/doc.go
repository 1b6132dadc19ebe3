// Package selfmonitor samples the agent's own resource usage on a fixed cadence,
// compares it with configured thresholds and raises alerts when a threshold is
// breached.
//
// Each collection cycle records a Snapshot: Go heap and runtime memory, process
// CPU percentage since the previous cycle, host load averages, goroutine count
// and the scheduler delay reported by the lag sampler. Snapshots older than the
// retention window are evicted on every cycle.
//
// The lag sampler is the Go analogue of event-loop delay: it arms a short timer
// (100ms by default) and records how late it actually fired. Under CPU starvation
// or long GC pauses the delay grows.
//
// Every breached threshold yields exactly one alert per cycle. There is no
// deduplication across cycles; callers that want throttling layer it on the sink.
package selfmonitor
