package presaled

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rados-io/saturn-presale/config"
	"github.com/rados-io/saturn-presale/core/events"
	"github.com/rados-io/saturn-presale/core/state"
	"github.com/rados-io/saturn-presale/custody"
	"github.com/rados-io/saturn-presale/gateway/middleware"
	"github.com/rados-io/saturn-presale/integrations/audit"
	"github.com/rados-io/saturn-presale/integrations/webhooks"
	"github.com/rados-io/saturn-presale/native/presale"
	"github.com/rados-io/saturn-presale/observability"
	"github.com/rados-io/saturn-presale/observability/logging"
	telemetry "github.com/rados-io/saturn-presale/observability/otel"
	"github.com/rados-io/saturn-presale/storage"
)

const serviceName = "presaled"

// Main initialises and runs the presale daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/presaled/config.yaml", "path to presaled configuration (.yaml or .toml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.Setup(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Run(stopCtx, cfg, logger)
}

// Run wires the ledger and serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	saleCfg, err := cfg.Sale.Presale()
	if err != nil {
		return err
	}

	db, err := OpenDatabase(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := NewLedger(db, saleCfg)
	if err != nil {
		return err
	}
	engine.SetLogger(logger.With(slog.String("component", "ledger")))

	payout, forward, err := custodian(cfg.Custody, logger)
	if err != nil {
		return err
	}
	engine.SetTokenPayout(payout)
	engine.SetValueForwarder(forward)

	auditDB, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		return err
	}
	auditStore, err := audit.NewStore(auditDB, logger.With(slog.String("component", "audit")))
	if err != nil {
		return err
	}

	hub := events.NewHub(cfg.Stream.Buffer)
	emitters := events.Fanout{hub, auditStore, observability.Presale()}
	if cfg.Webhook.URL != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret),
			webhooks.WithLogger(logger.With(slog.String("component", "webhook"))),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0),
			webhooks.WithDrainTimeout(cfg.ShutdownTimeout.Duration),
			webhooks.WithHTTPClient(&http.Client{Timeout: cfg.Webhook.Timeout.Duration}))
		if err != nil {
			return err
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}
	engine.SetEmitter(emitters)

	idempotency, err := middleware.NewIdempotency(auditDB, logger)
	if err != nil {
		return err
	}
	server, err := NewServer(Options{
		Engine: engine,
		Hub:    hub,
		Audit:  auditStore,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.Leeway.Duration,
		}, logger),
		RateLimiter:        middleware.NewRateLimiter(rateLimits(cfg.RateLimit), logger),
		Idempotency:        idempotency,
		Observability:      middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: serviceName, LogRequests: true}, logger),
		CORS:               middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		Logger:             logger,
		StreamWriteTimeout: cfg.Stream.WriteTimeout.Duration,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server, serviceName),
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("presaled listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("mode", saleCfg.Mode.String()),
			slog.String("storage", cfg.Storage.Backend))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// OpenDatabase opens the configured ledger backend.
func OpenDatabase(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "leveldb":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		return storage.NewLevelDB(cfg.Path)
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		return storage.NewBoltDB(cfg.Path, &bbolt.Options{Timeout: time.Second})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// NewLedger checks the stored schema version and sale fingerprint and returns
// an engine bound to db. Collaborators and emitters are left to the caller.
func NewLedger(db storage.Database, saleCfg presale.SaleConfig) (*presale.Engine, error) {
	manager := state.NewManager(db)
	if err := manager.EnsureStateVersion(); err != nil {
		return nil, fmt.Errorf("state version: %w", err)
	}
	if err := manager.PresaleEnsureConfig(saleCfg); err != nil {
		return nil, fmt.Errorf("sale config: %w", err)
	}
	engine, err := presale.NewEngine(saleCfg)
	if err != nil {
		return nil, err
	}
	engine.SetState(manager)
	return engine, nil
}

func custodian(cfg config.CustodyConfig, logger *slog.Logger) (presale.TokenPayout, presale.ValueForwarder, error) {
	if cfg.DryRun {
		logger.Warn("custody dry run enabled; no tokens or value will move")
		payout, forward := custody.DryRun(logger)
		return payout, forward, nil
	}
	client, err := custody.NewClient(custody.Config{
		URL:     cfg.Endpoint,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout.Duration,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}

func rateLimits(cfg config.RateLimitConfig) map[string]middleware.RateLimit {
	limit := middleware.RateLimit{RatePerSecond: cfg.RatePerSecond, Burst: cfg.Burst}
	return map[string]middleware.RateLimit{
		"deposits":  limit,
		"purchases": limit,
		"grants":    limit,
		"admin":     limit,
	}
}
