package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "healthmon"

// Metrics contains all agent-level metrics
type Metrics struct {
	// Target checks
	ChecksTotal   *prometheus.CounterVec
	CheckDuration *prometheus.HistogramVec
	TargetUp      *prometheus.GaugeVec
	SweepsTotal   prometheus.Counter
	SweepDuration prometheus.Histogram
	AlertsTotal   *prometheus.CounterVec

	// Messaging gateway
	GatewayState      prometheus.Gauge
	GatewayReconnects *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram

	// Self-monitoring
	SelfMemoryMB       prometheus.Gauge
	SelfCPUPercent     prometheus.Gauge
	SelfEventLoopDelay prometheus.Gauge
	SelfGoroutines     prometheus.Gauge
	SelfHealthy        prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all agent metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "target",
				Name:      "checks_total",
				Help:      "Total number of target checks by outcome",
			},
			[]string{"target", "status"},
		),

		CheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "target",
				Name:      "check_duration_seconds",
				Help:      "Target probe response time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"target", "kind"},
		),

		TargetUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "target",
				Name:      "up",
				Help:      "Latest target status (0=unhealthy or error, 1=healthy)",
			},
			[]string{"target"},
		),

		SweepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "sweeps_total",
				Help:      "Total number of full sweeps",
			},
		),

		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "sweep_duration_seconds",
				Help:      "Full sweep wall time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "total",
				Help:      "Total number of alerts raised",
			},
			[]string{"source", "type", "severity"},
		),

		GatewayState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "state",
				Help:      "Broker connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=failed)",
			},
		),

		GatewayReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "reconnect_attempts_total",
				Help:      "Reconnect attempts by outcome",
			},
			[]string{"outcome"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "published_total",
				Help:      "Total number of messages published",
			},
			[]string{"exchange"},
		),

		PublishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "publish_errors_total",
				Help:      "Total number of failed publishes",
			},
			[]string{"exchange"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Request/reply calls by outcome (success, timeout, error)",
			},
			[]string{"outcome"},
		),

		RequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Request/reply round trip in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		SelfMemoryMB: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "self",
				Name:      "memory_megabytes",
				Help:      "Heap memory in use by the agent",
			},
		),

		SelfCPUPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "self",
				Name:      "cpu_percent",
				Help:      "Agent CPU usage since the previous sample",
			},
		),

		SelfEventLoopDelay: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "self",
				Name:      "scheduler_delay_milliseconds",
				Help:      "Most recent timer wake-up drift",
			},
		),

		SelfGoroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "self",
				Name:      "goroutines",
				Help:      "Goroutines at the latest sample",
			},
		),

		SelfHealthy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "self",
				Name:      "healthy",
				Help:      "Self-monitor health (0=threshold breached, 1=healthy)",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ChecksTotal, m.CheckDuration, m.TargetUp, m.SweepsTotal, m.SweepDuration, m.AlertsTotal,
		m.GatewayState, m.GatewayReconnects, m.MessagesPublished, m.PublishErrors,
		m.RequestsTotal, m.RequestDuration,
		m.SelfMemoryMB, m.SelfCPUPercent, m.SelfEventLoopDelay, m.SelfGoroutines, m.SelfHealthy,
	}
}

// RecordCheck records one target probe outcome
func (m *Metrics) RecordCheck(target, kind, status string, responseTime time.Duration) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(target, status).Inc()
	m.CheckDuration.WithLabelValues(target, kind).Observe(responseTime.Seconds())
	m.TargetUp.WithLabelValues(target).Set(boolGauge(status == "healthy"))
}

// RecordSweep records a completed full sweep
func (m *Metrics) RecordSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.SweepsTotal.Inc()
	m.SweepDuration.Observe(duration.Seconds())
}

// RecordAlert counts a raised alert
func (m *Metrics) RecordAlert(source, alertType, severity string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(source, alertType, severity).Inc()
}

// RecordGatewayState sets the connection state gauge
func (m *Metrics) RecordGatewayState(state int) {
	if m == nil {
		return
	}
	m.GatewayState.Set(float64(state))
}

// RecordReconnectAttempt counts a reconnect attempt; outcome is "success" or "failure"
func (m *Metrics) RecordReconnectAttempt(outcome string) {
	if m == nil {
		return
	}
	m.GatewayReconnects.WithLabelValues(outcome).Inc()
}

// RecordPublish counts a publish attempt on exchange
func (m *Metrics) RecordPublish(exchange string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishErrors.WithLabelValues(exchange).Inc()
		return
	}
	m.MessagesPublished.WithLabelValues(exchange).Inc()
}

// RecordRequest records a request/reply outcome and its duration
func (m *Metrics) RecordRequest(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
	m.RequestDuration.Observe(duration.Seconds())
}

// RecordSelf updates the self-monitoring gauges
func (m *Metrics) RecordSelf(memoryMB, cpuPercent, delayMs float64, goroutines int, healthy bool) {
	if m == nil {
		return
	}
	m.SelfMemoryMB.Set(memoryMB)
	m.SelfCPUPercent.Set(cpuPercent)
	m.SelfEventLoopDelay.Set(delayMs)
	m.SelfGoroutines.Set(float64(goroutines))
	m.SelfHealthy.Set(boolGauge(healthy))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
