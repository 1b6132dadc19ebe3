// Package main implements healthmon, the CoreBridge health-monitoring agent.
// It probes the configured HTTP and TCP targets, watches its own process and
// reports both over NATS.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/agent"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/config"
)

// Build information constants
const (
	Version   = "1.0.0"
	BuildTime = "dev"
	appName   = "healthmon"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	cli := &CLIConfig{}

	root := &cobra.Command{
		Use:           appName,
		Short:         "CoreBridge health-monitoring agent",
		Version:       fmt.Sprintf("%s (build %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindFlags(root.PersistentFlags(), cli)

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the agent until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runAgent(cmd.Context(), out, cli)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration file and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := initializeConfiguration(cli)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: %d targets, source %q\n",
					len(cfg.Targets), cfg.Source)
				return nil
			},
		},
	)
	return root
}

// initializeConfiguration validates the flags and loads the configuration file
func initializeConfiguration(cli *CLIConfig) (*config.Config, error) {
	if err := validateFlags(cli); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cli.MetricsPort > 0 {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = cli.MetricsPort
	}
	return cfg, nil
}

func runAgent(ctx context.Context, out io.Writer, cli *CLIConfig) error {
	cfg, err := initializeConfiguration(cli)
	if err != nil {
		return err
	}

	logger := setupLogger(out, cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting health monitor",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"nats_url", cfg.NATS.URL)

	a, err := agent.New(cfg, agent.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(signalCtx, cli.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("Health monitor shutdown complete")
	return nil
}
