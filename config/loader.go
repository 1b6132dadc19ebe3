package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
)

// DefaultEnvPrefix is the prefix for environment overrides
const DefaultEnvPrefix = "HEALTHMON"

// Loader reads a configuration file, applies defaults and environment overrides,
// and validates the result
type Loader struct {
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader reading HEALTHMON_* overrides from the process environment
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithEnv replaces the environment lookup, mainly for tests
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// Load reads path with the default loader
func Load(path string) (*Config, error) {
	return NewLoader().LoadFile(path)
}

// LoadFile reads, decodes and validates the configuration at path
func (l *Loader) LoadFile(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrConfigNotFound, err), "Loader", "LoadFile", "read "+filepath.Base(path))
		}
		return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "read "+filepath.Base(path))
	}
	return l.Parse(data)
}

// Parse decodes YAML or JSON configuration data
func (l *Loader) Parse(data []byte) (*Config, error) {
	cfg := &Config{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err), "Loader", "Parse", "decode configuration")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) env(key string) (string, bool, error) {
	name := l.envPrefix + "_" + key
	val, ok := l.lookupEnv(name)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(name, val); err != nil {
		return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+name)
	}
	return val, true, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strOverrides := []struct {
		key   string
		field *string
	}{
		{"NATS_URL", &cfg.NATS.URL},
		{"NATS_TOKEN", &cfg.NATS.Token},
		{"NATS_USERNAME", &cfg.NATS.Username},
		{"NATS_PASSWORD", &cfg.NATS.Password},
		{"SOURCE", &cfg.Source},
	}
	for _, o := range strOverrides {
		val, ok, err := l.env(o.key)
		if err != nil {
			return err
		}
		if ok {
			*o.field = strings.TrimSpace(val)
		}
	}

	if val, ok, err := l.env("METRICS_PORT"); err != nil {
		return err
	} else if ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_METRICS_PORT=%q", errors.ErrInvalidConfig, l.envPrefix, val),
				"Loader", "applyEnvOverrides", "parse metrics port")
		}
		cfg.Metrics.Port = port
		cfg.Metrics.Enabled = true
	}
	return nil
}
