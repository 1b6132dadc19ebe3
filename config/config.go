package config

import (
	"net"
	"strconv"
	"time"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/pkg/tlsutil"
)

// SupportedVersion is the only configuration contract version this agent reads
const SupportedVersion = "1"

// Target kinds
const (
	KindHTTP = "http"
	KindTCP  = "tcp"
)

// Auth types for HTTP targets
const (
	AuthBasic  = "basic"
	AuthBearer = "bearer"
)

// Config is the complete agent configuration
type Config struct {
	Version     string            `yaml:"version" json:"version" validate:"required"`
	Source      string            `yaml:"source" json:"source"`
	NATS        NATSConfig        `yaml:"nats" json:"nats"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" json:"monitoring"`
	SelfMonitor SelfMonitorConfig `yaml:"selfMonitor" json:"selfMonitor"`
	Database    DatabaseConfig    `yaml:"database" json:"database"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Targets     []Target          `yaml:"targets" json:"targets" validate:"dive"`
}

// NATSConfig holds the broker connection settings
type NATSConfig struct {
	URL                  string         `yaml:"url" json:"url" validate:"required,url"`
	Name                 string         `yaml:"name" json:"name"`
	Token                string         `yaml:"token" json:"-"`
	Username             string         `yaml:"username" json:"username,omitempty"`
	Password             string         `yaml:"password" json:"-"`
	ConnectTimeoutMs     int            `yaml:"connectTimeoutMs" json:"connectTimeoutMs" validate:"gte=0"`
	ReconnectBaseDelayMs int            `yaml:"reconnectBaseDelayMs" json:"reconnectBaseDelayMs" validate:"gte=0"`
	MaxReconnects        *int           `yaml:"maxReconnects" json:"maxReconnects" validate:"omitempty,gte=0"`
	TLS                  tlsutil.Config `yaml:"tls" json:"tls"`
}

// MonitoringConfig controls the orchestrator
type MonitoringConfig struct {
	SweepIntervalMs   int            `yaml:"sweepIntervalMs" json:"sweepIntervalMs" validate:"gte=0"`
	MetricsIntervalMs int            `yaml:"metricsIntervalMs" json:"metricsIntervalMs" validate:"gte=0"`
	Concurrency       int            `yaml:"concurrency" json:"concurrency" validate:"gte=0,lte=1000"`
	AlertHistory      int            `yaml:"alertHistory" json:"alertHistory" validate:"gte=0"`
	DefaultTimeoutMs  int            `yaml:"defaultTimeoutMs" json:"defaultTimeoutMs" validate:"gte=0"`
	DefaultIntervalMs int            `yaml:"defaultIntervalMs" json:"defaultIntervalMs" validate:"gte=0"`
	TLS               tlsutil.Config `yaml:"tls" json:"tls"`
}

// SelfMonitorConfig controls the self-monitoring engine
type SelfMonitorConfig struct {
	Enabled      *bool      `yaml:"enabled" json:"enabled"`
	IntervalMs   int        `yaml:"intervalMs" json:"intervalMs" validate:"gte=0"`
	RetentionMs  int        `yaml:"retentionMs" json:"retentionMs" validate:"gte=0"`
	LagSampleMs  int        `yaml:"lagSampleMs" json:"lagSampleMs" validate:"gte=0"`
	AlertHistory int        `yaml:"alertHistory" json:"alertHistory" validate:"gte=0"`
	Thresholds   Thresholds `yaml:"thresholds" json:"thresholds"`
}

// Thresholds are the self-monitoring alert limits
type Thresholds struct {
	MemoryMB         float64 `yaml:"memoryMB" json:"memoryMB"`
	CPUPercent       float64 `yaml:"cpuPercent" json:"cpuPercent"`
	EventLoopDelayMs float64 `yaml:"eventLoopDelayMs" json:"eventLoopDelayMs"`
}

// DatabaseConfig controls the broker-delegated database check
type DatabaseConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Name       string `yaml:"name" json:"name"`
	QueryID    string `yaml:"queryId" json:"queryId"`
	Value      any    `yaml:"value" json:"value"`
	TimeoutMs  int    `yaml:"timeoutMs" json:"timeoutMs" validate:"gte=0"`
	IntervalMs int    `yaml:"intervalMs" json:"intervalMs" validate:"gte=0"`
	Critical   bool   `yaml:"critical" json:"critical"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
	Path    string `yaml:"path" json:"path" validate:"omitempty,startswith=/"`
}

// Target describes one monitored endpoint
type Target struct {
	Name           string `yaml:"name" json:"name" validate:"required"`
	Kind           string `yaml:"kind" json:"kind" validate:"required,oneof=http tcp"`
	URL            string `yaml:"url" json:"url,omitempty" validate:"omitempty,url"`
	Method         string `yaml:"method" json:"method,omitempty" validate:"omitempty,oneof=GET HEAD POST PUT OPTIONS"`
	Host           string `yaml:"host" json:"host,omitempty" validate:"omitempty,hostname_rfc1123|ip"`
	Port           int    `yaml:"port" json:"port,omitempty" validate:"gte=0,lte=65535"`
	ExpectedStatus int    `yaml:"expectedStatus" json:"expectedStatus,omitempty" validate:"omitempty,min=100,max=599"`
	TimeoutMs      int    `yaml:"timeoutMs" json:"timeoutMs" validate:"gte=0"`
	Critical       bool   `yaml:"critical" json:"critical"`
	IntervalMs     int    `yaml:"intervalMs" json:"intervalMs" validate:"gte=0"`
	Auth           *Auth  `yaml:"auth" json:"-"`
}

// Auth carries credentials for HTTP targets
type Auth struct {
	Type     string `yaml:"type" json:"type" validate:"required,oneof=basic bearer"`
	Username string `yaml:"username" json:"username,omitempty"`
	Password string `yaml:"password" json:"-"`
	Token    string `yaml:"token" json:"-"`
}

// Address returns the descriptor's address: the URL for http targets, host:port for tcp
func (t Target) Address() string {
	if t.Kind == KindTCP {
		return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	}
	return t.URL
}

// Timeout returns the probe timeout
func (t Target) Timeout() time.Duration {
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// Interval returns the per-target check cadence
func (t Target) Interval() time.Duration {
	return time.Duration(t.IntervalMs) * time.Millisecond
}

// Ms converts a millisecond setting to a duration
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// ReconnectBudget is the automatic reconnect attempt budget. Zero disables
// automatic reconnects.
func (n NATSConfig) ReconnectBudget() int {
	if n.MaxReconnects == nil {
		return 10
	}
	return *n.MaxReconnects
}

// SelfMonitorEnabled reports whether the self-monitor should run (default true)
func (c *Config) SelfMonitorEnabled() bool {
	return c.SelfMonitor.Enabled == nil || *c.SelfMonitor.Enabled
}

// ApplyDefaults fills fields the configuration leaves out
func (c *Config) ApplyDefaults() {
	if c.Source == "" {
		c.Source = "health-monitor"
	}

	n := &c.NATS
	setDefault(&n.ConnectTimeoutMs, 5000)
	setDefault(&n.ReconnectBaseDelayMs, 1000)
	if n.MaxReconnects == nil {
		budget := 10
		n.MaxReconnects = &budget
	}
	if n.Name == "" {
		n.Name = c.Source
	}

	m := &c.Monitoring
	setDefault(&m.SweepIntervalMs, 60000)
	setDefault(&m.MetricsIntervalMs, 60000)
	setDefault(&m.Concurrency, 10)
	setDefault(&m.AlertHistory, 100)
	setDefault(&m.DefaultTimeoutMs, 5000)
	setDefault(&m.DefaultIntervalMs, 30000)

	s := &c.SelfMonitor
	setDefault(&s.IntervalMs, 30000)
	setDefault(&s.RetentionMs, 3600000)
	setDefault(&s.LagSampleMs, 100)
	setDefault(&s.AlertHistory, 100)
	if s.Thresholds.MemoryMB == 0 {
		s.Thresholds.MemoryMB = 512
	}
	if s.Thresholds.CPUPercent == 0 {
		s.Thresholds.CPUPercent = 80
	}
	if s.Thresholds.EventLoopDelayMs == 0 {
		s.Thresholds.EventLoopDelayMs = 100
	}

	d := &c.Database
	if d.Name == "" {
		d.Name = "database"
	}
	if d.QueryID == "" {
		d.QueryID = "health-check"
	}
	if d.Value == nil {
		d.Value = "SELECT 1"
	}
	setDefault(&d.TimeoutMs, 5000)
	setDefault(&d.IntervalMs, 60000)

	setDefault(&c.Metrics.Port, 9090)
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	for i := range c.Targets {
		t := &c.Targets[i]
		setDefault(&t.TimeoutMs, m.DefaultTimeoutMs)
		setDefault(&t.IntervalMs, m.DefaultIntervalMs)
		if t.Kind == KindHTTP && t.Method == "" {
			t.Method = "GET"
		}
	}
}

func setDefault(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}
