// Package market resolves the headline index levels and the trading session
// state. Index quotes come from the exchange feeds first, then a general
// quote API, then static values, so a snapshot is always complete.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"stockadvisor/internal/clock"
	"stockadvisor/internal/metrics"
	"stockadvisor/internal/provider"
	"stockadvisor/internal/provider/cache"
	"stockadvisor/internal/provider/ratelimit"
)

// IndexQuote is one index level. Status is "live" or "fallback".
type IndexQuote struct {
	Price         decimal.Decimal   `json:"price"`
	Change        decimal.Decimal   `json:"change"`
	ChangePercent decimal.Decimal   `json:"change_percent"`
	Source        provider.SourceID `json:"source"`
	Status        string            `json:"status"`
	ObservedAt    time.Time         `json:"observed_at,omitzero"`
}

const (
	StatusLive     = "live"
	StatusFallback = "fallback"
)

// FallbackSource tags static index values.
const FallbackSource provider.SourceID = "static"

// Snapshot is the full index view with the session state.
type Snapshot struct {
	Indices      map[string]IndexQuote `json:"indices"`
	MarketStatus MarketStatus          `json:"market_status"`
	Cached       bool                  `json:"-"`
}

// Fallbacks are served when no source yields an index.
func Fallbacks() map[string]IndexQuote {
	q := func(p, c, pct string) IndexQuote {
		return IndexQuote{
			Price:         decimal.RequireFromString(p),
			Change:        decimal.RequireFromString(c),
			ChangePercent: decimal.RequireFromString(pct),
			Source:        FallbackSource,
			Status:        StatusFallback,
		}
	}
	return map[string]IndexQuote{
		NIFTY:     q("24836.30", "225.20", "0.92"),
		SENSEX:    q("81332.72", "678.55", "0.84"),
		BANKNIFTY: q("54120.45", "405.30", "0.75"),
	}
}

// Entry is a source with its admission policy.
type Entry struct {
	Source  Source
	Limits  ratelimit.Limits
	Timeout time.Duration
}

// Resolver builds index snapshots.
type Resolver struct {
	entries  []Entry
	limiter  *ratelimit.Limiter
	cache    cache.Store
	cacheTTL time.Duration
	hours    Hours
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      clock.Func

	sf singleflight.Group
}

type Option func(*Resolver)

func WithCache(s cache.Store, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = s
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

func WithHours(h Hours) Option { return func(r *Resolver) { r.hours = h } }

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(r *Resolver) { r.metrics = m } }

func WithClock(now clock.Func) Option { return func(r *Resolver) { r.now = clock.OrNow(now) } }

// New returns a resolver trying entries in order for each index.
func New(entries []Entry, limiter *ratelimit.Limiter, opts ...Option) *Resolver {
	if limiter == nil {
		limiter = ratelimit.New()
	}
	r := &Resolver{
		entries:  entries,
		limiter:  limiter,
		cacheTTL: 5 * time.Minute,
		hours:    DefaultHours(),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("market")
	return r
}

// Status is the session state now.
func (r *Resolver) Status() MarketStatus { return Status(r.now(), r.hours) }

// GetIndices returns every index in Names. It never fails: indices no source
// could provide carry their static fallback.
func (r *Resolver) GetIndices(ctx context.Context) Snapshot {
	if idx, ok := r.cached(ctx); ok {
		return Snapshot{Indices: idx, MarketStatus: r.Status(), Cached: true}
	}
	ch := r.sf.DoChan(cache.IndicesKey, func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx)), nil
	})
	var idx map[string]IndexQuote
	select {
	case res := <-ch:
		idx = res.Val.(map[string]IndexQuote)
	case <-ctx.Done():
		idx = Fallbacks()
	}
	return Snapshot{Indices: idx, MarketStatus: r.Status()}
}

func (r *Resolver) resolve(ctx context.Context) map[string]IndexQuote {
	out := make(map[string]IndexQuote, len(Names))
	for _, e := range r.entries {
		var want []string
		for _, name := range Names {
			if _, done := out[name]; !done && e.Source.Covers(name) {
				want = append(want, name)
			}
		}
		if len(want) == 0 {
			continue
		}
		for name, q := range r.attempt(ctx, e, want) {
			if _, done := out[name]; done {
				continue
			}
			q.Status = StatusLive
			out[name] = q
		}
	}

	live := len(out)
	fb := Fallbacks()
	for _, name := range Names {
		if _, ok := out[name]; ok {
			r.metrics.Index(name, StatusLive)
			continue
		}
		r.log.Warn("serving static index value", zap.String("index", name))
		r.metrics.Index(name, StatusFallback)
		out[name] = fb[name]
	}

	// All-static snapshots are not cached, so a recovering feed is picked up
	// on the next request.
	if live > 0 {
		r.store(ctx, out)
	}
	return out
}

func (r *Resolver) attempt(ctx context.Context, e Entry, names []string) map[string]IndexQuote {
	id := string(e.Source.ID())
	log := r.log.With(zap.String("source", id))

	if err := r.limiter.Acquire(ctx, id, e.Limits); err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrDailyQuota), errors.Is(err, ratelimit.ErrMinuteLimit):
			log.Info("skipping index source", zap.Error(err))
		default:
			log.Debug("throttle wait aborted", zap.Error(err))
		}
		r.metrics.Attempt(id, outcome(err))
		return nil
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	quotes, err := fetchIndices(fctx, e.Source, names)
	if err != nil {
		kind := provider.Classify(err)
		if kind == provider.FailureBlocked {
			log.Warn("index source blocked request", zap.Error(err))
		} else {
			log.Debug("index source failed", zap.Error(err))
		}
		r.metrics.Attempt(id, string(kind))
		return nil
	}
	r.metrics.Attempt(id, "hit")
	return quotes
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ratelimit.ErrDailyQuota):
		return "daily_quota"
	case errors.Is(err, ratelimit.ErrMinuteLimit):
		return "minute_limit"
	default:
		return string(provider.FailureTransient)
	}
}

func fetchIndices(ctx context.Context, s Source, names []string) (q map[string]IndexQuote, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s: panic: %v", s.ID(), rec)
		}
	}()
	return s.Fetch(ctx, names)
}

func (r *Resolver) cached(ctx context.Context) (map[string]IndexQuote, bool) {
	if r.cache == nil {
		return nil, false
	}
	b, ok, err := r.cache.Get(ctx, cache.IndicesKey)
	if err != nil {
		r.log.Warn("cache read failed", zap.Error(err))
		r.metrics.CacheLookup("indices", "error")
		return nil, false
	}
	if !ok {
		r.metrics.CacheLookup("indices", "miss")
		return nil, false
	}
	var idx map[string]IndexQuote
	if err := json.Unmarshal(b, &idx); err != nil || len(idx) != len(Names) {
		r.metrics.CacheLookup("indices", "error")
		return nil, false
	}
	r.metrics.CacheLookup("indices", "hit")
	return idx, true
}

func (r *Resolver) store(ctx context.Context, idx map[string]IndexQuote) {
	if r.cache == nil {
		return
	}
	b, err := json.Marshal(idx)
	if err == nil {
		err = r.cache.Set(ctx, cache.IndicesKey, b, r.cacheTTL)
	}
	if err != nil {
		r.log.Warn("cache write failed", zap.Error(err))
	}
}
