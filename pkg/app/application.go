package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/falconandrea/FileSolvers/internal/metrics"
	"github.com/falconandrea/FileSolvers/internal/middleware"
	"github.com/falconandrea/FileSolvers/internal/providers"
	"github.com/falconandrea/FileSolvers/internal/ratelimit"
	"github.com/falconandrea/FileSolvers/internal/services"
	"github.com/falconandrea/FileSolvers/internal/tracing"
	"github.com/falconandrea/FileSolvers/pkg/auth"
	_ "github.com/falconandrea/FileSolvers/pkg/auth/jwks"
	_ "github.com/falconandrea/FileSolvers/pkg/auth/static"
	"github.com/falconandrea/FileSolvers/pkg/config"
	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/falconandrea/FileSolvers/pkg/persistence"
	_ "github.com/falconandrea/FileSolvers/pkg/persistence/memory"
	_ "github.com/falconandrea/FileSolvers/pkg/persistence/postgres"
	_ "github.com/falconandrea/FileSolvers/pkg/persistence/redis"
	_ "github.com/falconandrea/FileSolvers/pkg/persistence/sqlite"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Store       persistence.PluginPersistence
	Ledger      services.LedgerService
	Content     services.ContentService
	Sweeper     services.SweeperService
	Notifier    services.NotifierService
	Logger      *slog.Logger
	Validator   auth.Validator
	RateLimiter ratelimit.Limiter
	// Metrics holds the scrape-time gauges for this application's ledger.
	Metrics *prometheus.Registry

	TracingShutdown func(context.Context) error

	now    func() time.Time
	nc     *nats.Conn
	cancel context.CancelFunc
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator sets a custom bearer token validator
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		return nil
	}
}

// WithStore replaces the configured persistence backend.
func WithStore(store persistence.PluginPersistence) ApplicationOption {
	return func(app *Application) error {
		app.Store = store
		return nil
	}
}

// WithClock overrides the ledger clock.
func WithClock(now func() time.Time) ApplicationOption {
	return func(app *Application) error {
		app.now = now
		return nil
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "filesolvers", "env", cfg.Env)
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	app := &Application{Config: cfg, Logger: logger, now: time.Now}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	tracingShutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "filesolvers",
		Environment:  cfg.Env,
		StoreBackend: cfg.PersistenceType,
		OTLPEndpoint: cfg.OtlpEndpoint,
		OTLPInsecure: cfg.OtlpInsecure,
		SampleRatio:  cfg.TraceSampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	app.TracingShutdown = tracingShutdown

	if app.Store == nil {
		pc, err := cfg.PersistenceConfig()
		if err != nil {
			return nil, err
		}
		store, err := persistence.NewPersistence(pc, persistence.PluginConfig{Now: app.now, MaxRetries: cfg.StoreMaxRetries})
		if err != nil {
			return nil, fmt.Errorf("persistence: %w", err)
		}
		app.Store = store
	}

	if cfg.PersistenceType == "redis" {
		app.RateLimiter = ratelimit.NewTokenBucketLimiter(providers.NewRedisProviderDB(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), cfg.KeyPrefix)
	} else {
		app.RateLimiter = ratelimit.NewLocalLimiter(nil)
	}

	if cfg.NatsURL != "" {
		nc, err := providers.NewNATSProvider(cfg.NatsURL, "filesolvers", logger)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		app.nc = nc
	}

	hooks := make([]services.Webhook, 0, len(cfg.Webhooks))
	for _, w := range cfg.Webhooks {
		hook := services.Webhook{URL: w.URL}
		for _, e := range w.Events {
			hook.Events = append(hook.Events, domain.EventType(e))
		}
		hooks = append(hooks, hook)
	}
	notifierCfg := services.NotifierConfig{
		Webhooks:      hooks,
		Secret:        cfg.WebhookHmacSecret,
		MaxAttempts:   cfg.WebhookMaxAttempts,
		Retry:         cfg.WebhookRetryPolicy(),
		QueueSize:     cfg.EventQueueSize,
		SubjectPrefix: cfg.NatsSubjectPrefix,
		Limiter:       app.RateLimiter,
		Bucket:        ratelimit.Bucket(cfg.RateLimit.Webhook),
	}
	// A nil *nats.Conn must not reach the interface.
	if app.nc != nil {
		app.Notifier = services.NewNotifierService(notifierCfg, app.nc, logger)
	} else {
		app.Notifier = services.NewNotifierService(notifierCfg, nil, logger)
	}

	app.Ledger = services.NewLedgerService(app.Store, app.Notifier, logger, app.now)
	app.Sweeper = services.NewSweeperService(app.Ledger, logger, cfg.SweepIntervalSeconds)
	app.Content = services.NewContentService(providers.NewLocalContentStore(cfg.ContentDir), cfg.MaxUploadBytes, logger)
	app.Metrics = metrics.NewLedgerRegistry(app.Ledger, logger)

	if app.Validator == nil {
		ap, err := cfg.AuthProviderConfig()
		if err != nil {
			return nil, err
		}
		validator, err := auth.NewValidator(ap)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		app.Validator = validator
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware("filesolvers"),
		middleware.LoggerMiddleware(logger),
	)
	app.Engine = engine

	return app, nil
}

// Start runs the notifier loop, and the sweeper when sweepIntervalSeconds is
// set, until Close.
func (app *Application) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	go app.Notifier.Start(ctx)
	if app.Config.SweepIntervalSeconds > 0 {
		go app.Sweeper.Start(ctx)
	}
}

// Close stops background loops and releases the store, NATS and tracer.
func (app *Application) Close(ctx context.Context) error {
	if app.cancel != nil {
		app.cancel()
	}
	var errs []error
	if app.TracingShutdown != nil {
		errs = append(errs, app.TracingShutdown(ctx))
	}
	if app.nc != nil {
		errs = append(errs, app.nc.Drain())
	}
	if app.Store != nil {
		errs = append(errs, app.Store.Close())
	}
	return errors.Join(errs...)
}
