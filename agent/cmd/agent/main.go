// Package main is the entry point for the fleet-agent binary.
// It wires all internal packages together and starts the agent's loops.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Load persisted config (env > file > defaults) and offline queue
//  4. Register with the server if no credentials are persisted yet
//  5. Start the heartbeat and command-poll loops
//  6. Block until SIGINT/SIGTERM, then graceful shutdown (flush queue)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greenwatt/fleet/agent/internal/client"
	"github.com/greenwatt/fleet/agent/internal/config"
	"github.com/greenwatt/fleet/agent/internal/identity"
	"github.com/greenwatt/fleet/agent/internal/queue"
	"github.com/greenwatt/fleet/agent/internal/runtime"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cliConfig struct {
	configPath string
	serverURL  string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:   "fleet-agent",
		Short: "Fleet agent — reports idle/energy telemetry and accepts gated shutdown commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.configPath, "config", envOrDefault("FLEET_CONFIG", defaultConfigPath()), "Path to the agent's JSON config file")
	root.PersistentFlags().StringVar(&cfg.serverURL, "server-url", "", "Fleet server base URL (overrides config file if set)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("FLEET_LOG_LEVEL", ""), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleet-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cli *cliConfig) error {
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cli.serverURL != "" {
		cfg.ServerURL = cli.serverURL
	}
	if cli.logLevel != "" {
		cfg.LogLevel = cli.logLevel
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting fleet agent",
		zap.String("version", version),
		zap.String("server", cfg.ServerURL),
		zap.String("config", cli.configPath),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	queuePath := queueFilePath(cli.configPath)
	q, err := queue.Load(queuePath, cfg.OfflineQueueMax)
	if err != nil {
		return fmt.Errorf("failed to load offline queue: %w", err)
	}

	httpClient := client.New(cfg.ServerURL, cfg.AgentToken, logger)
	agent := runtime.New(cfg, httpClient, q, logger)

	fingerprint, err := identity.Fingerprint()
	if err != nil {
		return fmt.Errorf("failed to derive device fingerprint: %w", err)
	}

	if err := agent.EnsureRegistered(ctx, fingerprint, identity.Hostname(), goruntime.GOOS, "", version); err != nil {
		return fmt.Errorf("failed to register with server: %w", err)
	}
	logger.Info("registered with server", zap.String("machine_id", cfg.MachineID))

	agent.Run(ctx)

	logger.Info("fleet agent stopped")
	return nil
}

// defaultConfigPath returns the platform-appropriate default config path.
// On Linux/macOS: ~/.fleet-agent/config.json
// On Windows:     %APPDATA%\fleet-agent\config.json
func defaultConfigPath() string {
	if goruntime.GOOS == "windows" {
		if dir, err := os.UserConfigDir(); err == nil {
			return dir + `\fleet-agent\config.json`
		}
	}
	if dir, err := os.UserHomeDir(); err == nil {
		return dir + "/.fleet-agent/config.json"
	}
	return ".fleet-agent/config.json"
}

// queueFilePath derives the offline queue's on-disk path from the config
// file's directory so both survive in the same state directory.
func queueFilePath(configPath string) string {
	dir := configPath
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' || dir[i] == '\\' {
			dir = dir[:i]
			break
		}
	}
	if dir == configPath {
		return "queue.json"
	}
	return dir + "/queue.json"
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
