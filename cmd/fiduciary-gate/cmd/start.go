package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	adminapi "github.com/Fiduciary-Gate/Fiduciarygate/internal/adapter/inbound/admin"
	httpadapter "github.com/Fiduciary-Gate/Fiduciarygate/internal/adapter/inbound/http"
	celadapter "github.com/Fiduciary-Gate/Fiduciarygate/internal/adapter/outbound/cel"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/adapter/outbound/memory"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/adapter/outbound/sqlite"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/config"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/auth"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/breaker"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/rule"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/session"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/service"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the governance server",
	Long: `Start the Fiduciary Gate governance server.

The server exposes:
  /v1/governance/evaluate   transaction governance decisions
  /v1/governance/preview    dry-run rule evaluation
  /v1/sessions              session issuance and revocation
  /admin/api/v1/            escalation review and audit (role-gated)
  /metrics                  Prometheus metrics
  /healthz, /readyz         health probes

Examples:
  # Start with config file settings
  fiduciary-gate start

  # Start with a specific config file
  fiduciary-gate --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("fiduciary-gate stopped")
	return nil
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tracerShutdown, err := telemetry.Setup(cfg.Telemetry.TracesEnabled, "fiduciary-gate", Version)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	// ===== Stores =====
	sessionStore := memory.NewSessionStoreWithConfig(
		config.Duration(cfg.Session.Retention, memory.DefaultRetention),
		config.Duration(cfg.Session.CleanupInterval, memory.DefaultCleanupInterval),
	)
	sessionStore.StartCleanup(ctx)
	defer sessionStore.Stop()

	counterStore := memory.NewCounterStore()
	escalationStore := memory.NewEscalationStore()

	trail, trailClose, err := createEvaluationStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create evaluation store: %w", err)
	}
	defer func() { _ = trailClose() }()

	// ===== Domain =====
	sessions := session.NewManager(sessionStore, session.Config{
		DefaultTTL: config.Duration(cfg.Session.DefaultTTL, 24*time.Hour),
		MaxTTL:     config.Duration(cfg.Session.MaxTTL, 7*24*time.Hour),
	})

	breakers := breaker.NewRegistry(breaker.Config{
		EscalationTimeout: config.Duration(cfg.Breaker.EscalationTimeout, time.Hour),
		TimeoutAction:     risk.EscalationDecision(cfg.Breaker.TimeoutAction),
		CloseAfter:        cfg.Breaker.CloseAfter,
	})

	evaluator := rule.NewEvaluator()
	evaluator.WarnFraction = cfg.Rules.WarnFraction

	conditions, err := celadapter.NewConditionEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	// ===== Services =====
	escalationService := service.NewEscalationService(escalationStore, breakers, logger,
		config.Duration(cfg.Breaker.SweepInterval, service.DefaultSweepInterval))
	escalationService.Start(ctx)
	defer escalationService.Stop()

	governanceService := service.NewGovernanceService(
		sessions, breakers, counterStore, evaluator, conditions,
		escalationStore, trail, escalationService.Notify, logger,
	)
	sessionAdminService := service.NewSessionAdminService(sessions, breakers, trail, logger)

	// ===== Admin auth =====
	authService, err := createAuthService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}
	if authService == nil {
		logger.Warn("no admin API keys configured; admin API is localhost-only")
	}

	adminHandler := adminapi.NewHandler(escalationService, sessionAdminService, authService, logger,
		adminapi.WithConfigExport(cfg.Redacted()))

	// ===== HTTP server =====
	var ready atomic.Bool
	health := httpadapter.NewHealthChecker(sessionStore, Version, ready.Load)

	server := httpadapter.NewServer(nil,
		httpadapter.WithAddr(cfg.Server.HTTPAddr),
		httpadapter.WithLogger(logger),
		httpadapter.WithAdminHandler(adminHandler.Routes()),
		httpadapter.WithHealthChecker(health),
	)
	if cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != "" {
		httpadapter.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)(server)
	}

	governanceHandler := httpadapter.NewGovernanceHandler(governanceService, sessionAdminService, server.Metrics())
	server.SetHandler(governanceHandler)

	httpadapter.RegisterActiveSessions(server.Registry(), func() float64 {
		n, err := sessionAdminService.CountActive(context.Background())
		if err != nil {
			return 0
		}
		return float64(n)
	})

	logger.Info("fiduciary-gate starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"audit_backend", cfg.Audit.Backend,
		"escalation_timeout", cfg.Breaker.EscalationTimeout,
		"timeout_action", cfg.Breaker.TimeoutAction,
		"traces_enabled", cfg.Telemetry.TracesEnabled,
	)

	ready.Store(true)
	return server.Start(ctx)
}

// createEvaluationStore selects the audit-trail backend. The returned
// close func is a no-op for the memory backend.
func createEvaluationStore(cfg *config.Config, logger *slog.Logger) (risk.EvaluationStore, func() error, error) {
	switch cfg.Audit.Backend {
	case "sqlite":
		store, err := sqlite.Open(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("audit backend: sqlite", "path", cfg.Audit.SQLitePath)
		return store, store.Close, nil
	default:
		logger.Debug("audit backend: memory", "capacity", cfg.Audit.Capacity)
		return memory.NewEvaluationStore(cfg.Audit.Capacity), func() error { return nil }, nil
	}
}

// createAuthService seeds reviewers and API keys from config. Returns
// nil when no keys are configured, which makes the admin API
// localhost-only.
func createAuthService(cfg *config.Config) (*auth.Service, error) {
	if len(cfg.Auth.APIKeys) == 0 {
		return nil, nil
	}

	store := memory.NewAuthStore()
	for _, r := range cfg.Auth.Reviewers {
		roles := make([]auth.Role, len(r.Roles))
		for i, role := range r.Roles {
			roles[i] = auth.Role(role)
		}
		store.AddReviewer(&auth.Reviewer{
			ID:    r.ID,
			Name:  r.Name,
			Roles: roles,
		})
	}
	for _, k := range cfg.Auth.APIKeys {
		store.AddAPIKey(&auth.APIKey{
			Hash:       k.KeyHash,
			ReviewerID: k.ReviewerID,
			CreatedAt:  time.Now().UTC(),
		})
	}
	return auth.NewService(store), nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
