package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/greenwatt/fleet/server/internal/api"
	"github.com/greenwatt/fleet/server/internal/auth"
	"github.com/greenwatt/fleet/server/internal/commands"
	"github.com/greenwatt/fleet/server/internal/db"
	"github.com/greenwatt/fleet/server/internal/liveness"
	"github.com/greenwatt/fleet/server/internal/ratelimit"
	"github.com/greenwatt/fleet/server/internal/registry"
	"github.com/greenwatt/fleet/server/internal/repository"
	"github.com/greenwatt/fleet/server/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr      string
	dbDriver      string
	dbDSN         string
	jwtSecret     string
	jwtIssuer     string
	logLevel      string
	adminUsername string
	adminPassword string

	idleThresholdSeconds     int64
	heartbeatIntervalSeconds int64
	idlePowerWatts           float64
	costPerKWh               float64
	co2FactorPerKWh          float64

	offlineWindow time.Duration
	reaperTick    time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "fleet-server",
		Short: "Fleet server — central energy-telemetry and shutdown-control plane",
		Long: `Fleet server ingests agent heartbeats, accounts for wasted idle energy,
classifies machine liveness, and dispatches gated remote-shutdown commands
back to idle machines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("FLEET_HTTP_ADDR", ":8080"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("FLEET_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("FLEET_DB_DSN", "./fleet.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.jwtSecret, "jwt-secret", envOrDefault("FLEET_JWT_SECRET", ""), "HMAC signing secret for operator access tokens, >= 32 bytes (required)")
	root.PersistentFlags().StringVar(&cfg.jwtIssuer, "jwt-issuer", envOrDefault("FLEET_JWT_ISSUER", "fleet-server"), "JWT issuer claim")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("FLEET_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.adminUsername, "admin-username", envOrDefault("FLEET_ADMIN_USERNAME", "admin"), "Username for the bootstrapped initial admin operator")
	root.PersistentFlags().StringVar(&cfg.adminPassword, "admin-password", envOrDefault("FLEET_ADMIN_PASSWORD", ""), "Password for the bootstrapped initial admin operator (required on first run)")

	root.PersistentFlags().Int64Var(&cfg.idleThresholdSeconds, "idle-threshold-seconds", envOrDefaultInt64("FLEET_IDLE_THRESHOLD_SECONDS", 300), "Reported idle_seconds at or above which a machine is classified idle")
	root.PersistentFlags().Int64Var(&cfg.heartbeatIntervalSeconds, "heartbeat-interval-seconds", envOrDefaultInt64("FLEET_HEARTBEAT_INTERVAL_SECONDS", 60), "Expected gap between agent heartbeats")
	root.PersistentFlags().Float64Var(&cfg.idlePowerWatts, "idle-power-watts", envOrDefaultFloat64("FLEET_IDLE_POWER_WATTS", 65), "Assumed power draw of an idle machine, in watts")
	root.PersistentFlags().Float64Var(&cfg.costPerKWh, "cost-per-kwh", envOrDefaultFloat64("FLEET_COST_PER_KWH", 0.15), "Monetary cost per kWh")
	root.PersistentFlags().Float64Var(&cfg.co2FactorPerKWh, "co2-factor-per-kwh", envOrDefaultFloat64("FLEET_CO2_FACTOR_PER_KWH", 0.4), "Grid CO2 kg emitted per kWh")

	root.PersistentFlags().DurationVar(&cfg.offlineWindow, "offline-window", envOrDefaultDuration("FLEET_OFFLINE_WINDOW", 5*time.Minute), "How long a machine may go without a heartbeat before the liveness reaper marks it offline")
	root.PersistentFlags().DurationVar(&cfg.reaperTick, "reaper-tick", envOrDefaultDuration("FLEET_REAPER_TICK", 30*time.Second), "How often the liveness reaper sweeps for stale machines")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleet-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if len(cfg.jwtSecret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 bytes — set --jwt-secret or FLEET_JWT_SECRET")
	}
	if cfg.adminPassword == "" {
		return fmt.Errorf("admin password is required on first run — set --admin-password or FLEET_ADMIN_PASSWORD")
	}

	logger.Info("starting fleet server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	if err := db.VerifySchema(gormDB); err != nil {
		return err
	}

	// --- Repositories ---
	operatorRepo := repository.NewOperatorRepository(gormDB)
	refreshTokenRepo := repository.NewRefreshTokenRepository(gormDB)
	machineRepo := repository.NewMachineRepository(gormDB)
	agentTokenRepo := repository.NewAgentTokenRepository(gormDB)
	heartbeatRepo := repository.NewHeartbeatRepository(gormDB)

	// --- Auth ---
	jwtMgr, err := auth.NewJWTManager([]byte(cfg.jwtSecret), cfg.jwtIssuer)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}
	authSvc := auth.NewService(operatorRepo, refreshTokenRepo, jwtMgr)

	if err := auth.BootstrapAdmin(ctx, gormDB, operatorRepo, cfg.dbDriver, cfg.adminUsername, cfg.adminPassword); err != nil {
		return fmt.Errorf("failed to bootstrap admin operator: %w", err)
	}
	auth.LogBootstrapResult(logger, operatorRepo, cfg.adminUsername)

	// --- Domain components ---
	reg := registry.New(machineRepo, agentTokenRepo)
	ingestor := telemetry.New(machineRepo, heartbeatRepo, telemetry.Config{
		IdleThresholdSeconds:     cfg.idleThresholdSeconds,
		HeartbeatIntervalSeconds: cfg.heartbeatIntervalSeconds,
		IdlePowerWatts:           cfg.idlePowerWatts,
		CostPerKWh:               cfg.costPerKWh,
		CO2FactorPerKWh:          cfg.co2FactorPerKWh,
	})
	dispatcher := commands.New(gormDB)

	reaper, err := liveness.New(machineRepo, cfg.offlineWindow, cfg.reaperTick, logger)
	if err != nil {
		return fmt.Errorf("failed to create liveness reaper: %w", err)
	}
	if err := reaper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start liveness reaper: %w", err)
	}
	defer func() {
		if err := reaper.Stop(); err != nil {
			logger.Warn("liveness reaper shutdown error", zap.Error(err))
		}
	}()

	// --- Rate limiters ---
	// General bucket covers every route; the login bucket additionally
	// throttles the login endpoint, per spec.md's two-bucket policy.
	generalLimiter := ratelimit.New(100, time.Minute, 20, logger)
	loginLimiter := ratelimit.New(10, 5*time.Minute, 3, logger)
	stopGeneralCleanup := generalLimiter.StartCleanup(10 * time.Minute)
	stopLoginCleanup := loginLimiter.StartCleanup(10 * time.Minute)
	defer stopGeneralCleanup()
	defer stopLoginCleanup()

	// --- HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Auth:           authSvc,
		Registry:       reg,
		Ingestor:       ingestor,
		Dispatcher:     dispatcher,
		Machines:       machineRepo,
		GeneralLimiter: generalLimiter,
		LoginLimiter:   loginLimiter,
		Logger:         logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down fleet server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("fleet server stopped")
	return nil
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
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

func envOrDefaultInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func envOrDefaultFloat64(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return parsed
}
