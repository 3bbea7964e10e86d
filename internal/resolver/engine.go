// Package resolver turns a user supplied ticker into a price by walking an
// ordered cascade of sources, retrying the most reliable ones with backoff and
// finally consulting the fallback table.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"stockadvisor/internal/clock"
	"stockadvisor/internal/fallback"
	"stockadvisor/internal/metrics"
	"stockadvisor/internal/provider"
	"stockadvisor/internal/provider/cache"
	"stockadvisor/internal/provider/ratelimit"
	"stockadvisor/internal/symbol"
)

// Status is the outcome class of a resolution.
type Status string

const (
	StatusLive        Status = "live"
	StatusFallback    Status = "fallback"
	StatusUnavailable Status = "unavailable"
)

// FallbackSource tags results served from the fallback table.
const FallbackSource provider.SourceID = "fallback"

// Result is what GetPrice returns. Price and Source are empty when Status is
// StatusUnavailable.
type Result struct {
	Symbol     string            `json:"symbol"`
	Price      decimal.Decimal   `json:"price"`
	Source     provider.SourceID `json:"source,omitempty"`
	Status     Status            `json:"status"`
	ObservedAt time.Time         `json:"observed_at"`
	Cached     bool              `json:"-"`
}

// OK reports whether the result carries a price.
func (r Result) OK() bool { return r.Status != StatusUnavailable }

// Options tunes the engine. Zero fields take the defaults below.
type Options struct {
	CacheTTL        time.Duration
	RetrySources    int
	RetryInitial    time.Duration
	RetryMultiplier float64
	RetryMax        time.Duration
	FetchTimeout    time.Duration
	// BatchConcurrency bounds parallel resolutions in GetPrices.
	BatchConcurrency int
	// LiveOnly skips the fallback table.
	LiveOnly bool
}

func DefaultOptions() Options {
	return Options{
		CacheTTL:         5 * time.Minute,
		RetrySources:     3,
		RetryInitial:     1 * time.Second,
		RetryMultiplier:  2,
		RetryMax:         4 * time.Second,
		FetchTimeout:     12 * time.Second,
		BatchConcurrency: 8,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.RetrySources < 0 {
		o.RetrySources = 0
	} else if o.RetrySources == 0 {
		o.RetrySources = d.RetrySources
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = d.RetryInitial
	}
	if o.RetryMultiplier < 1 {
		o.RetryMultiplier = d.RetryMultiplier
	}
	if o.RetryMax <= 0 {
		o.RetryMax = d.RetryMax
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = d.FetchTimeout
	}
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = d.BatchConcurrency
	}
	return o
}

// Engine resolves prices. Construct with New; safe for concurrent use.
type Engine struct {
	sources []provider.Source
	limiter *ratelimit.Limiter
	check   provider.Checker
	cache   cache.Store
	table   *fallback.Table
	log     *zap.Logger
	metrics *metrics.Metrics
	opts    Options
	now     clock.Func
	sleep   func(ctx context.Context, d time.Duration) error

	sf singleflight.Group
}

type Option func(*Engine)

func WithValidator(c provider.Checker) Option { return func(e *Engine) { e.check = c } }

func WithCache(s cache.Store) Option { return func(e *Engine) { e.cache = s } }

func WithFallback(t *fallback.Table) Option { return func(e *Engine) { e.table = t } }

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithOptions(o Options) Option { return func(e *Engine) { e.opts = o.withDefaults() } }

func WithClock(now clock.Func) Option { return func(e *Engine) { e.now = clock.OrNow(now) } }

// WithSleep replaces the wait between retry attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// New builds an engine over sources, tried in the given order. limiter may be
// shared with other components hitting the same sources.
func New(sources []provider.Source, limiter *ratelimit.Limiter, opts ...Option) *Engine {
	if limiter == nil {
		limiter = ratelimit.New()
	}
	e := &Engine{
		sources: sources,
		limiter: limiter,
		log:     zap.NewNop(),
		opts:    DefaultOptions(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("resolver")
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Price is GetPrice reduced to (price, ok).
func (e *Engine) Price(ctx context.Context, raw string) (decimal.Decimal, bool) {
	r := e.GetPrice(ctx, raw)
	return r.Price, r.OK()
}

// GetPrice resolves raw to a price. Concurrent calls for the same canonical
// symbol share one resolution, which runs detached from the caller's
// cancellation; a caller that gives up early gets an unavailable result while
// the shared resolution completes and fills the cache.
func (e *Engine) GetPrice(ctx context.Context, raw string) Result {
	canonical := symbol.Normalize(raw)
	if canonical == "" {
		return e.unavailable(canonical)
	}

	if r, ok := e.cached(ctx, canonical); ok {
		return r
	}

	ch := e.sf.DoChan(canonical, func() (any, error) {
		return e.resolve(context.WithoutCancel(ctx), canonical), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Result)
	case <-ctx.Done():
		e.log.Debug("caller gave up waiting", zap.String("symbol", canonical), zap.Error(ctx.Err()))
		return Result{Symbol: canonical, Status: StatusUnavailable, ObservedAt: e.now().UTC()}
	}
}

// GetPrices resolves each symbol; results keep the input order.
func (e *Engine) GetPrices(ctx context.Context, raws []string) []Result {
	out := make([]Result, len(raws))
	var g errgroup.Group
	g.SetLimit(e.opts.BatchConcurrency)
	for i, raw := range raws {
		g.Go(func() error {
			out[i] = e.GetPrice(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Engine) resolve(ctx context.Context, canonical string) Result {
	// Another flight may have filled the cache between our miss and now.
	if r, ok := e.cached(ctx, canonical); ok {
		return r
	}

	for _, src := range e.sources {
		if q, ok := e.attempt(ctx, src, canonical); ok {
			return e.store(ctx, e.live(q))
		}
	}

	if q, ok := e.retry(ctx, canonical); ok {
		return e.store(ctx, e.live(q))
	}

	if !e.opts.LiveOnly && e.table != nil {
		if p, ok := e.lookupFallback(canonical); ok {
			e.log.Warn("serving fallback price", zap.String("symbol", canonical), zap.String("price", p.String()))
			e.metrics.Resolution(string(StatusFallback))
			return e.store(ctx, Result{
				Symbol:     canonical,
				Price:      p,
				Source:     FallbackSource,
				Status:     StatusFallback,
				ObservedAt: e.now().UTC(),
			})
		}
	}

	e.log.Error("price unavailable from every source", zap.String("symbol", canonical))
	return e.unavailable(canonical)
}

// lookupFallback tries the canonical symbol, then for BSE listings the NSE
// base, which trades at a near identical price.
func (e *Engine) lookupFallback(canonical string) (decimal.Decimal, bool) {
	if p, ok := e.table.Lookup(canonical); ok {
		return p, true
	}
	if base, ex := symbol.Split(canonical); ex == symbol.BSE {
		return e.table.Lookup(base)
	}
	return decimal.Zero, false
}

func (e *Engine) live(q provider.Quote) Result {
	e.metrics.Resolution(string(StatusLive))
	return Result{
		Symbol:     q.Symbol,
		Price:      q.Price,
		Source:     q.Source,
		Status:     StatusLive,
		ObservedAt: q.ObservedAt,
	}
}

func (e *Engine) unavailable(canonical string) Result {
	e.metrics.Resolution(string(StatusUnavailable))
	return Result{Symbol: canonical, Status: StatusUnavailable, ObservedAt: e.now().UTC()}
}

// retry makes a second pass over the first RetrySources sources that serve
// canonical, waiting an exponentially growing delay before each.
func (e *Engine) retry(ctx context.Context, canonical string) (provider.Quote, bool) {
	if e.opts.RetrySources == 0 {
		return provider.Quote{}, false
	}
	b := e.backOff()
	tried := 0
	for _, src := range e.sources {
		if tried >= e.opts.RetrySources {
			break
		}
		if !src.Adapter.Supports(canonical) {
			continue
		}
		tried++
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		if err := e.sleep(ctx, d); err != nil {
			return provider.Quote{}, false
		}
		e.log.Debug("retrying source",
			zap.String("symbol", canonical),
			zap.String("source", string(src.Adapter.ID())),
			zap.Duration("after", d))
		if q, ok := e.attempt(ctx, src, canonical); ok {
			return q, true
		}
	}
	return provider.Quote{}, false
}

func (e *Engine) backOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.opts.RetryInitial,
		RandomizationFactor: 0,
		Multiplier:          e.opts.RetryMultiplier,
		MaxInterval:         e.opts.RetryMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// attempt runs one source for canonical: admission, fetch under timeout,
// validation. Every failure is logged and reported as ok=false.
func (e *Engine) attempt(ctx context.Context, src provider.Source, canonical string) (provider.Quote, bool) {
	a := src.Adapter
	if !a.Supports(canonical) {
		return provider.Quote{}, false
	}
	id := string(a.ID())
	log := e.log.With(zap.String("source", id), zap.String("symbol", canonical))

	if err := e.limiter.Acquire(ctx, id, src.Limits); err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrDailyQuota):
			log.Info("skipping source: daily quota exhausted", zap.Int("max_per_day", src.Limits.MaxPerDay))
			e.metrics.Attempt(id, "daily_quota")
		case errors.Is(err, ratelimit.ErrMinuteLimit):
			log.Info("skipping source: per-minute limit reached", zap.Int("max_per_minute", src.Limits.MaxPerMinute))
			e.metrics.Attempt(id, "minute_limit")
		default:
			log.Debug("throttle wait aborted", zap.Error(err))
			e.metrics.Attempt(id, string(provider.FailureTransient))
		}
		return provider.Quote{}, false
	}

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = e.opts.FetchTimeout
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q, err := fetch(fctx, a, canonical)
	if err == nil && e.check != nil && !e.check.Validate(q.Price, canonical) {
		err = fmt.Errorf("%s returned %s: %w", id, q.Price, provider.ErrInvalidPrice)
	}
	if err != nil {
		kind := provider.Classify(err)
		switch kind {
		case provider.FailureBlocked:
			log.Warn("source blocked request", zap.Error(err))
		default:
			log.Debug("source failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		e.metrics.Attempt(id, string(kind))
		return provider.Quote{}, false
	}

	q.Symbol = canonical
	if q.Source == "" {
		q.Source = a.ID()
	}
	if q.ObservedAt.IsZero() {
		q.ObservedAt = e.now().UTC()
	}
	e.metrics.Attempt(id, "hit")
	log.Debug("price resolved", zap.String("price", q.Price.String()))
	return q, true
}

// fetch calls the adapter, turning a panic into an error.
func fetch(ctx context.Context, a provider.Adapter, canonical string) (q provider.Quote, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", a.ID(), r)
		}
	}()
	return a.Fetch(ctx, canonical)
}

func (e *Engine) cached(ctx context.Context, canonical string) (Result, bool) {
	if e.cache == nil {
		return Result{}, false
	}
	b, ok, err := e.cache.Get(ctx, cache.PriceKey(canonical))
	if err != nil {
		e.log.Warn("cache read failed", zap.String("symbol", canonical), zap.Error(err))
		e.metrics.CacheLookup("price", "error")
		return Result{}, false
	}
	if !ok {
		e.metrics.CacheLookup("price", "miss")
		return Result{}, false
	}
	var r Result
	if err := json.Unmarshal(b, &r); err != nil || r.Status == StatusUnavailable {
		e.metrics.CacheLookup("price", "error")
		return Result{}, false
	}
	e.metrics.CacheLookup("price", "hit")
	r.Cached = true
	return r, true
}

func (e *Engine) store(ctx context.Context, r Result) Result {
	if e.cache == nil {
		return r
	}
	b, err := json.Marshal(r)
	if err == nil {
		err = e.cache.Set(ctx, cache.PriceKey(r.Symbol), b, e.opts.CacheTTL)
	}
	if err != nil {
		e.log.Warn("cache write failed", zap.String("symbol", r.Symbol), zap.Error(err))
	}
	return r
}

// SourceStatus describes one configured source for diagnostics.
type SourceStatus struct {
	ID     provider.SourceID `json:"id"`
	Limits ratelimit.Limits  `json:"limits"`
	Usage  ratelimit.Usage   `json:"usage"`
}

// Sources reports the configured cascade with current usage, in order.
func (e *Engine) Sources() []SourceStatus {
	out := make([]SourceStatus, 0, len(e.sources))
	for _, s := range e.sources {
		id := s.Adapter.ID()
		out = append(out, SourceStatus{ID: id, Limits: s.Limits, Usage: e.limiter.Usage(string(id))})
	}
	return out
}
