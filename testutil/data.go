package testutil

import (
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/config"
)

// HTTPTarget returns an http target with a 1s timeout and 30s interval
func HTTPTarget(name, url string, critical bool) config.Target {
	return config.Target{
		Name:       name,
		Kind:       config.KindHTTP,
		URL:        url,
		Method:     "GET",
		TimeoutMs:  1000,
		IntervalMs: 30000,
		Critical:   critical,
	}
}

// TCPTarget returns a tcp target with a 1s timeout and 30s interval
func TCPTarget(name, host string, port int, critical bool) config.Target {
	return config.Target{
		Name:       name,
		Kind:       config.KindTCP,
		Host:       host,
		Port:       port,
		TimeoutMs:  1000,
		IntervalMs: 30000,
		Critical:   critical,
	}
}

// SampleYAML is a complete, valid configuration document
const SampleYAML = `version: "1"
source: health-monitor
nats:
  url: nats://localhost:4222
monitoring:
  sweepIntervalMs: 60000
  concurrency: 4
database:
  enabled: true
  critical: true
targets:
  - name: svc-a
    kind: http
    url: http://svc-a.internal/health
    expectedStatus: 200
    critical: true
  - name: cache
    kind: tcp
    host: cache.internal
    port: 6379
`

// SampleConfig returns a valid configuration with defaults applied
func SampleConfig(targets ...config.Target) *config.Config {
	if len(targets) == 0 {
		targets = []config.Target{
			HTTPTarget("svc-a", "http://svc-a.internal/health", true),
			TCPTarget("cache", "cache.internal", 6379, false),
		}
	}
	cfg := &config.Config{
		Version: config.SupportedVersion,
		NATS:    config.NATSConfig{URL: "nats://localhost:4222"},
		Targets: targets,
	}
	cfg.ApplyDefaults()
	return cfg
}
