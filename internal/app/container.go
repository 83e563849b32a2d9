package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/voice_translator/internal/auth"
	"github.com/ncecere/voice_translator/internal/cache"
	"github.com/ncecere/voice_translator/internal/config"
	"github.com/ncecere/voice_translator/internal/ledger"
	"github.com/ncecere/voice_translator/internal/limits"
	"github.com/ncecere/voice_translator/internal/observability"
	"github.com/ncecere/voice_translator/internal/redisclient"
	translationsvc "github.com/ncecere/voice_translator/internal/services/translation"
	usagesvc "github.com/ncecere/voice_translator/internal/services/usage"
	"github.com/ncecere/voice_translator/internal/storage/blob"
	"github.com/ncecere/voice_translator/internal/translator"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config            *config.Config
	DBPool            *pgxpool.Pool
	Redis             *redis.Client
	Ledger            ledger.Store
	Pricing           *ledger.Pricing
	Engine            translator.Engine
	Archive           blob.Store
	RateLimiter       *limits.RateLimiter
	Replay            *cache.ReplayCache
	Translation       *translationsvc.Service
	Usage             *usagesvc.Service
	Tokens            *auth.TokenManager
	Observability     *observability.Provider
	ReportingLocation *time.Location
	Logger            *slog.Logger
}

// Option overrides a dependency before the services are assembled.
type Option func(*Container)

// WithEngine replaces the configured speech/translation engine.
func WithEngine(engine translator.Engine) Option {
	return func(c *Container) { c.Engine = engine }
}

// WithLedger replaces the configured ledger store.
func WithLedger(store ledger.Store) Option {
	return func(c *Container) { c.Ledger = store }
}

// WithLogger sets the logger shared by the services.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) { c.Logger = logger }
}

// NewContainer builds a dependency container. pool is required only for the
// postgres ledger; a nil redis client disables caching and rate limiting.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	locName := strings.TrimSpace(cfg.Reporting.Timezone)
	if locName == "" {
		locName = "UTC"
	}
	reportingLoc, err := time.LoadLocation(locName)
	if err != nil {
		return nil, fmt.Errorf("load reporting timezone: %w", err)
	}

	c := &Container{
		Config:            cfg,
		DBPool:            pool,
		Redis:             redisClient,
		ReportingLocation: reportingLoc,
		Logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Pricing, err = ledger.NewPricing(ledger.PricingOptions{
		DefaultTier:     cfg.Pricing.DefaultTier,
		BaseCostPerMin:  cfg.Pricing.BaseCostPerMin,
		Precision:       cfg.Pricing.ChargePrecision,
		EnablePrompting: cfg.Pricing.EnablePrompting,
		EnableFallback:  cfg.Pricing.EnableFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("init pricing: %w", err)
	}

	if c.Ledger == nil {
		if c.Ledger, err = newLedger(cfg, pool); err != nil {
			return nil, err
		}
	}
	if c.Engine == nil {
		if c.Engine, err = newEngine(cfg.Engine, c.Logger); err != nil {
			return nil, err
		}
	}

	var detector *translator.Detector
	if cfg.Engine.DetectLanguage {
		detector = translator.NewDetector(cfg.Engine.DetectMinLetters)
	}

	if c.Archive, err = blob.New(ctx, cfg.Archive); err != nil {
		return nil, fmt.Errorf("init audio archive: %w", err)
	}

	if c.Observability, err = observability.Setup(ctx, cfg.Observability); err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	if redisClient != nil {
		c.RateLimiter = limits.NewRateLimiter(redisClient, limits.LimitConfig{
			RequestsPerMinute: cfg.RateLimits.RequestsPerMinute,
			ParallelRequests:  cfg.RateLimits.ParallelRequests,
		})
		c.Replay = cache.NewReplayCache(redisClient, cfg.Redis.IdempotencyTTL)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) != "" {
		if c.Tokens, err = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer); err != nil {
			return nil, fmt.Errorf("init auth: %w", err)
		}
	}

	c.Translation, err = translationsvc.NewService(translationsvc.Options{
		Store:         c.Ledger,
		Pricing:       c.Pricing,
		Engine:        c.Engine,
		Detector:      detector,
		Replay:        c.Replay,
		Limiter:       c.RateLimiter,
		Archive:       c.Archive,
		Metrics:       c.Observability,
		MaxAudioBytes: cfg.Server.MaxAudioMB * 1024 * 1024,
		MaxMinutes:    cfg.Ledger.MaxRecordingMinutes,
		EngineTimeout: cfg.Server.EngineTimeout,
		Logger:        c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init translation service: %w", err)
	}
	c.Usage = usagesvc.NewService(c.Ledger, reportingLoc)
	return c, nil
}

func newLedger(cfg *config.Config, pool *pgxpool.Pool) (ledger.Store, error) {
	policy := ledger.NewPolicy(
		cfg.Ledger.FreeMinutes,
		cfg.Pricing.UnlimitedMinutes,
		cfg.Ledger.AdminUserIDs,
		cfg.Ledger.InFlightTimeout,
		cfg.Ledger.SubscriptionPeriod,
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Ledger.Store)) {
	case "memory":
		return ledger.NewMemoryStore(policy), nil
	case "", "postgres":
		if pool == nil {
			return nil, fmt.Errorf("db pool is required for the postgres ledger")
		}
		return ledger.NewPostgresStore(pool, policy), nil
	default:
		return nil, fmt.Errorf("unsupported ledger store %q", cfg.Ledger.Store)
	}
}

func newEngine(cfg config.EngineConfig, logger *slog.Logger) (translator.Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		engine, err := translator.NewOpenAI(translator.Options{
			APIKey:      cfg.OpenAIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai engine: %w", err)
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unsupported engine provider %q", cfg.Provider)
	}
}

// Readiness reports the status of every backing dependency.
func (c *Container) Readiness(ctx context.Context) map[string]error {
	checks := c.Translation.Ready(ctx)
	if c.Redis != nil {
		checks["redis"] = redisclient.Ping(ctx, c.Redis)
	}
	return checks
}

// Close releases resources owned by the container.
func (c *Container) Close(ctx context.Context) error {
	return c.Observability.Shutdown(ctx)
}
