// Package app assembles the resolvers from configuration. The server and the
// command line tools share it so they resolve prices the same way.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"stockadvisor/internal/config"
	"stockadvisor/internal/fallback"
	"stockadvisor/internal/httpx"
	"stockadvisor/internal/market"
	"stockadvisor/internal/metrics"
	"stockadvisor/internal/pricecheck"
	"stockadvisor/internal/provider/cache"
	"stockadvisor/internal/provider/catalog"
	"stockadvisor/internal/provider/ratelimit"
	"stockadvisor/internal/provider/sourceclient"
	"stockadvisor/internal/resolver"
)

// App holds the wired components.
type App struct {
	Engine    *resolver.Engine
	Indices   *market.Resolver
	Table     *fallback.Table
	Cache     cache.Store
	Limiter   *ratelimit.Limiter
	Validator *pricecheck.Validator
	Metrics   *metrics.Metrics

	redis *redis.Client
}

// Options adjusts how the components are assembled.
type Options struct {
	// Registerer receives the collectors; nil disables metrics.
	Registerer prometheus.Registerer
	// LiveOnly builds an engine that never serves fallback values.
	LiveOnly bool
}

// New builds every component named in cfg. Close releases the cache backend.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, o Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Limiter: ratelimit.New()}

	if o.Registerer != nil {
		m, err := metrics.New(o.Registerer)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		a.Metrics = m
	}

	if err := a.openCache(ctx, cfg); err != nil {
		return nil, err
	}

	var seed []fallback.Option
	if cfg.Fallback.SeedFile != "" {
		prices, err := fallback.LoadFile(cfg.Fallback.SeedFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		seed = append(seed, fallback.WithSeed(prices))
		logger.Info("fallback seed loaded", zap.String("file", cfg.Fallback.SeedFile), zap.Int("prices", len(prices)))
	}
	a.Table = fallback.New(seed...)

	a.Validator = cfg.Validator()
	if a.Validator.BandRatio > 1 {
		a.Validator.Reference = a.Table.Lookup
	}

	client := sourceclient.New(
		sourceclient.WithHTTPClient(httpx.New(cfg.Engine.HTTPTimeout)),
		sourceclient.WithUserAgent(cfg.Engine.UserAgent),
		sourceclient.WithSessionTTL(cfg.Engine.SessionTTL),
	)

	sources := catalog.Build(cfg.SourceSettings(), client, a.Validator, logger)
	if len(sources) == 0 {
		logger.Warn("no price sources enabled; every lookup will use the fallback table")
	}
	opts := cfg.EngineOptions()
	opts.LiveOnly = o.LiveOnly
	a.Engine = resolver.New(sources, a.Limiter,
		resolver.WithValidator(a.Validator),
		resolver.WithCache(a.Cache),
		resolver.WithFallback(a.Table),
		resolver.WithLogger(logger),
		resolver.WithMetrics(a.Metrics),
		resolver.WithOptions(opts),
	)

	lim := ratelimit.Limits{MaxPerMinute: cfg.Market.MaxPerMinute}
	entries := []market.Entry{
		{Source: market.NewNSEIndices(client), Limits: lim, Timeout: cfg.Market.Timeout},
		{Source: market.NewBSESensex(client), Limits: lim, Timeout: cfg.Market.Timeout},
		{Source: market.NewYahooIndex(client), Limits: lim, Timeout: cfg.Market.Timeout},
	}
	a.Indices = market.New(entries, a.Limiter,
		market.WithCache(a.Cache, cfg.Cache.IndicesTTL),
		market.WithHours(cfg.Hours()),
		market.WithLogger(logger),
		market.WithMetrics(a.Metrics),
	)
	return a, nil
}

func (a *App) openCache(ctx context.Context, cfg *config.Config) error {
	switch cfg.Cache.Backend {
	case "redis":
		client, err := cache.DialRedis(ctx, cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
		a.redis = client
		a.Cache = cache.NewRedis(client, cfg.Cache.Redis.Prefix)
	default:
		a.Cache = cache.NewMemory(cfg.Cache.MaxItems)
	}
	return nil
}

// Close releases the cache backend.
func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
