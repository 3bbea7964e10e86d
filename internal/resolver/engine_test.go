package resolver_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"stockadvisor/internal/fallback"
	"stockadvisor/internal/metrics"
	"stockadvisor/internal/pricecheck"
	"stockadvisor/internal/provider"
	"stockadvisor/internal/provider/cache"
	"stockadvisor/internal/provider/providertest"
	"stockadvisor/internal/provider/ratelimit"
	"stockadvisor/internal/resolver"
)

var errTransient = errors.New("connection reset by peer")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 14, 5, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// sleeps records retry delays without waiting.
type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.d = append(s.d, d)
	s.mu.Unlock()
	return nil
}

func (s *sleeps) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.d...)
}

func newAdapter(ctrl *gomock.Controller, id string) *providertest.MockAdapter {
	a := providertest.NewMockAdapter(ctrl)
	a.EXPECT().ID().Return(provider.SourceID(id)).AnyTimes()
	a.EXPECT().Supports(gomock.Any()).Return(true).AnyTimes()
	return a
}

func quote(sym, price string, src string) provider.Quote {
	return provider.Quote{
		Symbol:     sym,
		Price:      decimal.RequireFromString(price),
		Source:     provider.SourceID(src),
		ObservedAt: time.Date(2026, 10, 14, 5, 0, 0, 0, time.UTC),
	}
}

func sources(adapters ...provider.Adapter) []provider.Source {
	out := make([]provider.Source, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, provider.Source{Adapter: a})
	}
	return out
}

func TestGetPrice_ShortCircuitsOnFirstHit(t *testing.T) {
	t.Parallel()

	// Arrange: first source fails, second answers, third must never be called
	ctrl := gomock.NewController(t)
	a1 := newAdapter(ctrl, "nse")
	a2 := newAdapter(ctrl, "yahoo_nse")
	a3 := newAdapter(ctrl, "alpha_vantage")
	a1.EXPECT().Fetch(gomock.Any(), "HDFCBANK").Return(provider.Quote{}, errTransient).Times(1)
	a2.EXPECT().Fetch(gomock.Any(), "HDFCBANK").Return(quote("HDFCBANK", "1652.10", "yahoo_nse"), nil).Times(1)
	a3.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)

	sl := &sleeps{}
	e := resolver.New(sources(a1, a2, a3), ratelimit.New(),
		resolver.WithCache(cache.NewMemory(0)),
		resolver.WithFallback(fallback.New()),
		resolver.WithValidator(pricecheck.New()),
		resolver.WithSleep(sl.Sleep),
	)

	// Act
	r := e.GetPrice(t.Context(), "hdfc")

	// Assert
	require.Equal(t, resolver.StatusLive, r.Status)
	require.Equal(t, "HDFCBANK", r.Symbol)
	require.Equal(t, provider.SourceID("yahoo_nse"), r.Source)
	require.True(t, decimal.RequireFromString("1652.10").Equal(r.Price))
	require.False(t, r.Cached)
	require.Empty(t, sl.Delays())

	// Act: same symbol in another spelling is served from cache
	again := e.GetPrice(t.Context(), "HDFCBANK.NS")

	// Assert
	require.True(t, again.Cached)
	require.True(t, r.Price.Equal(again.Price))
	require.Equal(t, r.Source, again.Source)
}

func TestGetPrice_FallbackWhenEveryAdapterFails(t *testing.T) {
	t.Parallel()

	// Arrange: five failing sources; the top three are retried once each
	ctrl := gomock.NewController(t)
	var adapters []provider.Adapter
	for i, id := range []string{"nse", "yahoo_nse", "yahoo_bse", "twelve_data", "screener"} {
		a := newAdapter(ctrl, id)
		calls := 1
		if i < 3 {
			calls = 2
		}
		a.EXPECT().Fetch(gomock.Any(), "HDFCBANK").Return(provider.Quote{}, errTransient).Times(calls)
		adapters = append(adapters, a)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	sl := &sleeps{}
	store := cache.NewMemory(0)
	e := resolver.New(sources(adapters...), ratelimit.New(),
		resolver.WithCache(store),
		resolver.WithFallback(fallback.New()),
		resolver.WithSleep(sl.Sleep),
		resolver.WithLogger(zap.New(core)),
	)

	// Act
	r := e.GetPrice(t.Context(), "HDFC")

	// Assert: the table value, tagged and cached
	require.Equal(t, resolver.StatusFallback, r.Status)
	require.Equal(t, resolver.FallbackSource, r.Source)
	require.Equal(t, "HDFCBANK", r.Symbol)
	require.True(t, decimal.RequireFromString("1650.25").Equal(r.Price))
	require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, sl.Delays())

	_, ok, err := store.Get(t.Context(), cache.PriceKey("HDFCBANK"))
	require.NoError(t, err)
	require.True(t, ok)

	warn := logs.FilterMessage("serving fallback price").All()
	require.Len(t, warn, 1)
	require.Equal(t, zapcore.WarnLevel, warn[0].Level)

	price, ok := e.Price(t.Context(), "HDFC")
	require.True(t, ok)
	require.True(t, decimal.RequireFromString("1650.25").Equal(price))
}

func TestGetPrice_UnavailableIsNotCached(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "nse")
	// two resolutions, each a first pass and a retry
	a.EXPECT().Fetch(gomock.Any(), "NOTLISTED").Return(provider.Quote{}, provider.ErrNotFound).Times(4)

	core, logs := observer.New(zapcore.DebugLevel)
	e := resolver.New(sources(a), ratelimit.New(),
		resolver.WithCache(cache.NewMemory(0)),
		resolver.WithFallback(fallback.New()),
		resolver.WithSleep((&sleeps{}).Sleep),
		resolver.WithLogger(zap.New(core)),
	)

	for i := 0; i < 2; i++ {
		r := e.GetPrice(t.Context(), "notlisted")
		require.Equal(t, resolver.StatusUnavailable, r.Status)
		require.Equal(t, "NOTLISTED", r.Symbol)
		require.True(t, r.Price.IsZero())
		require.Empty(t, r.Source)
		require.False(t, r.OK())
	}

	errs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errs, 2)
}

func TestGetPrice_EmptySymbol(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	a := providertest.NewMockAdapter(ctrl)

	e := resolver.New(sources(a), ratelimit.New(), resolver.WithFallback(fallback.New()))
	r := e.GetPrice(t.Context(), "   ")
	require.Equal(t, resolver.StatusUnavailable, r.Status)
}

func TestGetPrice_CacheExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	clk := newClock()
	a := newAdapter(ctrl, "nse")
	a.EXPECT().Fetch(gomock.Any(), "TCS").Return(quote("TCS", "4120.75", "nse"), nil).Times(2)

	e := resolver.New(sources(a), ratelimit.New(ratelimit.WithClock(clk.Now)),
		resolver.WithCache(cache.NewMemory(0, cache.WithClock(clk.Now))),
		resolver.WithClock(clk.Now),
	)

	// Act / Assert: within TTL one fetch serves both calls
	require.False(t, e.GetPrice(t.Context(), "TCS").Cached)
	clk.Advance(4 * time.Minute)
	require.True(t, e.GetPrice(t.Context(), "TCS").Cached)

	// Act / Assert: past five minutes the source is asked again
	clk.Advance(1 * time.Minute)
	require.False(t, e.GetPrice(t.Context(), "TCS").Cached)
}

func TestGetPrice_ExhaustedDailyQuotaSkipsSource(t *testing.T) {
	t.Parallel()

	// Arrange: alpha_vantage already made 25 requests today
	ctrl := gomock.NewController(t)
	clk := newClock()
	limiter := ratelimit.New(ratelimit.WithClock(clk.Now))
	for i := 0; i < 25; i++ {
		limiter.RecordUsage("alpha_vantage")
		clk.Advance(time.Minute)
	}

	av := newAdapter(ctrl, "alpha_vantage")
	av.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)
	td := newAdapter(ctrl, "twelve_data")
	td.EXPECT().Fetch(gomock.Any(), "INFY").Return(quote("INFY", "1534.80", "twelve_data"), nil).Times(1)

	core, logs := observer.New(zapcore.DebugLevel)
	e := resolver.New([]provider.Source{
		{Adapter: av, Limits: ratelimit.Limits{MaxPerMinute: 5, MaxPerDay: 25}},
		{Adapter: td, Limits: ratelimit.Limits{MaxPerMinute: 8, MaxPerDay: 800}},
	}, limiter, resolver.WithLogger(zap.New(core)), resolver.WithClock(clk.Now))

	// Act
	r := e.GetPrice(t.Context(), "INFY")

	// Assert
	require.Equal(t, provider.SourceID("twelve_data"), r.Source)
	skip := logs.FilterMessage("skipping source: daily quota exhausted").All()
	require.Len(t, skip, 1)
	require.Equal(t, zapcore.InfoLevel, skip[0].Level)
}

func TestGetPrice_MinuteLimitSkipsWithoutBlocking(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	clk := newClock()
	limiter := ratelimit.New(ratelimit.WithClock(clk.Now))
	for i := 0; i < 5; i++ {
		limiter.RecordUsage("alpha_vantage")
	}

	av := newAdapter(ctrl, "alpha_vantage")
	av.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)
	fh := newAdapter(ctrl, "finnhub")
	fh.EXPECT().Fetch(gomock.Any(), "SBIN").Return(quote("SBIN", "812.35", "finnhub"), nil).Times(1)

	e := resolver.New([]provider.Source{
		{Adapter: av, Limits: ratelimit.Limits{MaxPerMinute: 5}},
		{Adapter: fh, Limits: ratelimit.Limits{MaxPerMinute: 60}},
	}, limiter)

	start := time.Now()
	r := e.GetPrice(t.Context(), "SBI")
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, provider.SourceID("finnhub"), r.Source)
	require.Equal(t, "SBIN", r.Symbol)
}

func TestGetPrice_RetryPassRecoversTransientFailure(t *testing.T) {
	t.Parallel()

	// Arrange: the only source fails once, then answers
	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "nse")
	gomock.InOrder(
		a.EXPECT().Fetch(gomock.Any(), "RELIANCE").Return(provider.Quote{}, errTransient),
		a.EXPECT().Fetch(gomock.Any(), "RELIANCE").Return(quote("RELIANCE", "2940.05", "nse"), nil),
	)
	sl := &sleeps{}
	e := resolver.New(sources(a), ratelimit.New(), resolver.WithSleep(sl.Sleep), resolver.WithFallback(fallback.New()))

	// Act
	r := e.GetPrice(t.Context(), "RIL")

	// Assert: live, after a single one-second wait
	require.Equal(t, resolver.StatusLive, r.Status)
	require.True(t, decimal.RequireFromString("2940.05").Equal(r.Price))
	require.Equal(t, []time.Duration{time.Second}, sl.Delays())
}

func TestGetPrice_RetrySkipsUnsupportedSources(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	nse := providertest.NewMockAdapter(ctrl)
	nse.EXPECT().ID().Return(provider.SourceID("nse")).AnyTimes()
	nse.EXPECT().Supports("HDFCBANK.BO").Return(false).AnyTimes()
	nse.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)
	bse := newAdapter(ctrl, "yahoo_bse")
	bse.EXPECT().Fetch(gomock.Any(), "HDFCBANK.BO").Return(provider.Quote{}, errTransient).Times(2)

	sl := &sleeps{}
	e := resolver.New(sources(nse, bse), ratelimit.New(), resolver.WithSleep(sl.Sleep), resolver.WithFallback(fallback.New()))

	r := e.GetPrice(t.Context(), "BSE:HDFCBANK")
	require.Equal(t, resolver.StatusFallback, r.Status)
	require.Equal(t, "HDFCBANK.BO", r.Symbol)
	require.Equal(t, []time.Duration{time.Second}, sl.Delays())
}

func TestGetPrice_BSEFallsBackToNSEBaseEntry(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "yahoo_bse")
	a.EXPECT().Fetch(gomock.Any(), "INFY.BO").Return(provider.Quote{}, errTransient).AnyTimes()

	e := resolver.New(sources(a), ratelimit.New(),
		resolver.WithSleep((&sleeps{}).Sleep),
		resolver.WithFallback(fallback.New()),
	)

	r := e.GetPrice(t.Context(), "INFY.BO")
	require.Equal(t, resolver.StatusFallback, r.Status)
	require.Equal(t, "INFY.BO", r.Symbol)
	require.True(t, decimal.RequireFromString(fallback.Defaults["INFY"]).Equal(r.Price))
}

func TestGetPrice_LiveOnlySkipsFallback(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "nse")
	a.EXPECT().Fetch(gomock.Any(), "HDFCBANK").Return(provider.Quote{}, errTransient).Times(1)

	e := resolver.New(sources(a), ratelimit.New(),
		resolver.WithFallback(fallback.New()),
		resolver.WithOptions(resolver.Options{LiveOnly: true, RetrySources: -1}),
	)

	r := e.GetPrice(t.Context(), "HDFCBANK")
	require.Equal(t, resolver.StatusUnavailable, r.Status)
}

func TestGetPrice_InvalidPriceFallsThrough(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	a1 := newAdapter(ctrl, "screener")
	a1.EXPECT().Fetch(gomock.Any(), "HDFCBANK").Return(quote("HDFCBANK", "16502.50", "screener"), nil).Times(1)
	a2 := newAdapter(ctrl, "google_finance")
	a2.EXPECT().Fetch(gomock.Any(), "HDFCBANK").Return(quote("HDFCBANK", "1650.25", "google_finance"), nil).Times(1)

	e := resolver.New(sources(a1, a2), ratelimit.New(), resolver.WithValidator(pricecheck.New()))

	r := e.GetPrice(t.Context(), "HDFCBANK")
	require.Equal(t, provider.SourceID("google_finance"), r.Source)
}

func TestGetPrice_AdapterPanicIsContained(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	a1 := newAdapter(ctrl, "nse")
	a1.EXPECT().Fetch(gomock.Any(), "ITC").DoAndReturn(func(context.Context, string) (provider.Quote, error) {
		panic("unexpected layout")
	}).Times(1)
	a2 := newAdapter(ctrl, "yahoo_nse")
	a2.EXPECT().Fetch(gomock.Any(), "ITC").Return(quote("ITC", "465.30", "yahoo_nse"), nil).Times(1)

	e := resolver.New(sources(a1, a2), ratelimit.New())

	require.NotPanics(t, func() {
		r := e.GetPrice(t.Context(), "ITC")
		require.Equal(t, provider.SourceID("yahoo_nse"), r.Source)
	})
}

func TestGetPrice_FetchTimeout(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	slow := newAdapter(ctrl, "nse")
	slow.EXPECT().Fetch(gomock.Any(), "LT").DoAndReturn(func(ctx context.Context, _ string) (provider.Quote, error) {
		<-ctx.Done()
		return provider.Quote{}, ctx.Err()
	}).Times(1)
	fast := newAdapter(ctrl, "yahoo_nse")
	fast.EXPECT().Fetch(gomock.Any(), "LT").Return(quote("LT", "3580.90", "yahoo_nse"), nil).Times(1)

	e := resolver.New([]provider.Source{
		{Adapter: slow, Timeout: 20 * time.Millisecond},
		{Adapter: fast},
	}, ratelimit.New())

	r := e.GetPrice(t.Context(), "L&T")
	require.Equal(t, provider.SourceID("yahoo_nse"), r.Source)
	require.Equal(t, "LT", r.Symbol)
}

func TestGetPrice_ConcurrentCallersShareOneResolution(t *testing.T) {
	t.Parallel()

	// Arrange: the fetch blocks until released
	ctrl := gomock.NewController(t)
	release := make(chan struct{})
	a := newAdapter(ctrl, "nse")
	a.EXPECT().Fetch(gomock.Any(), "HDFCBANK").DoAndReturn(func(context.Context, string) (provider.Quote, error) {
		<-release
		return quote("HDFCBANK", "1650.25", "nse"), nil
	}).Times(1)

	e := resolver.New(sources(a), ratelimit.New(), resolver.WithCache(cache.NewMemory(0)))

	// Act
	const callers = 20
	results := make([]resolver.Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.GetPrice(t.Context(), "hdfc")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// Assert
	for _, r := range results {
		require.Equal(t, resolver.StatusLive, r.Status)
		require.True(t, decimal.RequireFromString("1650.25").Equal(r.Price))
	}
}

func TestGetPrice_CallerCancellationDoesNotAbortResolution(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	release := make(chan struct{})
	done := make(chan struct{})
	a := newAdapter(ctrl, "nse")
	a.EXPECT().Fetch(gomock.Any(), "TCS").DoAndReturn(func(ctx context.Context, _ string) (provider.Quote, error) {
		defer close(done)
		<-release
		if err := ctx.Err(); err != nil {
			return provider.Quote{}, err
		}
		return quote("TCS", "4120.75", "nse"), nil
	}).Times(1)

	store := cache.NewMemory(0)
	e := resolver.New(sources(a), ratelimit.New(), resolver.WithCache(store))

	ctx, cancel := context.WithCancel(t.Context())

	// Act: the caller gives up while the fetch is in flight
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	r := e.GetPrice(ctx, "TCS")
	close(release)
	<-done

	// Assert: the caller saw unavailable, the shared resolution still landed
	require.Equal(t, resolver.StatusUnavailable, r.Status)
	require.Eventually(t, func() bool {
		_, ok, _ := store.Get(t.Context(), cache.PriceKey("TCS"))
		return ok
	}, time.Second, 10*time.Millisecond)
	require.True(t, e.GetPrice(t.Context(), "TCS").Cached)
}

func TestGetPrices_KeepsOrder(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "nse")
	a.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, sym string) (provider.Quote, error) {
		switch sym {
		case "TCS":
			return quote(sym, "4120.75", "nse"), nil
		case "INFY":
			return quote(sym, "1534.80", "nse"), nil
		}
		return provider.Quote{}, provider.ErrNotFound
	}).AnyTimes()

	e := resolver.New(sources(a), ratelimit.New(),
		resolver.WithSleep((&sleeps{}).Sleep),
		resolver.WithOptions(resolver.Options{BatchConcurrency: 2}),
	)

	got := e.GetPrices(t.Context(), []string{"tcs", "NOPE", "infosys"})
	require.Len(t, got, 3)
	require.Equal(t, "TCS", got[0].Symbol)
	require.Equal(t, resolver.StatusUnavailable, got[1].Status)
	require.Equal(t, "INFY", got[2].Symbol)
	require.Equal(t, resolver.StatusLive, got[2].Status)
}

func TestMetricsAreRecorded(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "nse")
	a.EXPECT().Fetch(gomock.Any(), "HDFCBANK").Return(provider.Quote{}, fmtBlocked()).Times(2)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	e := resolver.New(sources(a), ratelimit.New(),
		resolver.WithFallback(fallback.New()),
		resolver.WithMetrics(m),
		resolver.WithSleep((&sleeps{}).Sleep),
	)
	require.Equal(t, resolver.StatusFallback, e.GetPrice(t.Context(), "HDFCBANK").Status)

	expected := `
# HELP advisor_source_attempts_total Source attempts by outcome, including admission refusals
# TYPE advisor_source_attempts_total counter
advisor_source_attempts_total{outcome="blocked",source="nse"} 2
# HELP advisor_price_resolutions_total Price resolutions by final status
# TYPE advisor_price_resolutions_total counter
advisor_price_resolutions_total{status="fallback"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"advisor_source_attempts_total", "advisor_price_resolutions_total"))
}

func TestGetPrice_BlockedStatusLogsWarning(t *testing.T) {
	t.Parallel()

	for _, code := range []int{401, 403, 429} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			t.Parallel()

			// Arrange: the client's wrapping of a refused response
			ctrl := gomock.NewController(t)
			a := newAdapter(ctrl, "nse")
			blocked := fmt.Errorf("%w: %w", provider.ErrBlocked, &provider.StatusError{Code: code, URL: "https://www.nseindia.com/api/quote-equity"})
			a.EXPECT().Fetch(gomock.Any(), "TCS").Return(provider.Quote{}, blocked).Times(2)

			core, logs := observer.New(zapcore.DebugLevel)
			e := resolver.New(sources(a), ratelimit.New(),
				resolver.WithFallback(fallback.New()),
				resolver.WithSleep((&sleeps{}).Sleep),
				resolver.WithLogger(zap.New(core)),
			)

			// Act
			r := e.GetPrice(t.Context(), "TCS")

			// Assert: every refusal is a warning carrying the source and status
			require.Equal(t, resolver.StatusFallback, r.Status)
			entries := logs.FilterMessage("source blocked request").All()
			require.Len(t, entries, 2)
			for _, en := range entries {
				require.Equal(t, zapcore.WarnLevel, en.Level)
				require.Equal(t, "nse", en.ContextMap()["source"])
				require.Contains(t, en.ContextMap()["error"], fmt.Sprintf("-> %d", code))
			}
			require.Zero(t, logs.FilterMessage("source failed").Len())
		})
	}
}

func fmtBlocked() error {
	return errors.Join(provider.ErrBlocked, &provider.StatusError{Code: 403, URL: "https://www.nseindia.com/api/quote-equity"})
}

func TestSources_ReportsUsage(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "nse")
	a.EXPECT().Fetch(gomock.Any(), "TCS").Return(quote("TCS", "4120.75", "nse"), nil).Times(1)

	e := resolver.New([]provider.Source{{Adapter: a, Limits: ratelimit.Limits{MaxPerMinute: 30}}}, ratelimit.New())
	e.GetPrice(t.Context(), "TCS")

	st := e.Sources()
	require.Len(t, st, 1)
	require.Equal(t, provider.SourceID("nse"), st[0].ID)
	require.Equal(t, 30, st[0].Limits.MaxPerMinute)
	require.Equal(t, 1, st[0].Usage.Minute)
}
