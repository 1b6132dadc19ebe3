package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	MetricsPort     int
	ShutdownTimeout time.Duration
}

// bindFlags registers the persistent flags, each falling back to a HEALTHMON_*
// environment variable
func bindFlags(fs *pflag.FlagSet, cfg *CLIConfig) {
	fs.StringVarP(&cfg.ConfigPath, "config", "c",
		getEnv("HEALTHMON_CONFIG", "config.yaml"),
		"Path to configuration file (env: HEALTHMON_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("HEALTHMON_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: HEALTHMON_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("HEALTHMON_LOG_FORMAT", "json"),
		"Log format: json, text (env: HEALTHMON_LOG_FORMAT)")

	fs.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("HEALTHMON_METRICS_PORT", 0),
		"Serve Prometheus metrics on this port, 0 keeps the config file setting (env: HEALTHMON_METRICS_PORT)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("HEALTHMON_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: HEALTHMON_SHUTDOWN_TIMEOUT)")
}

func validateFlags(cfg *CLIConfig) error {
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	return nil
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
