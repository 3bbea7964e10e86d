package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stockadvisor/internal/clock"
	"stockadvisor/internal/fallback"
	"stockadvisor/internal/handler"
	"stockadvisor/internal/market"
	"stockadvisor/internal/metrics"
	"stockadvisor/internal/resolver"
	"stockadvisor/internal/symbol"
)

func init() { gin.SetMode(gin.TestMode) }

var observed = time.Date(2026, 10, 14, 5, 0, 0, 0, time.UTC)

// fakePrices answers from a fixed map; unknown symbols are unavailable.
type fakePrices struct {
	results map[string]resolver.Result
}

func (f fakePrices) GetPrice(_ context.Context, raw string) resolver.Result {
	sym := symbol.Normalize(raw)
	if r, ok := f.results[sym]; ok {
		return r
	}
	return resolver.Result{Symbol: sym, Status: resolver.StatusUnavailable}
}

func (f fakePrices) GetPrices(ctx context.Context, raws []string) []resolver.Result {
	out := make([]resolver.Result, 0, len(raws))
	for _, r := range raws {
		out = append(out, f.GetPrice(ctx, r))
	}
	return out
}

func (f fakePrices) Sources() []resolver.SourceStatus {
	return []resolver.SourceStatus{{ID: "nse"}}
}

type fakeIndices struct{}

func (fakeIndices) GetIndices(context.Context) market.Snapshot {
	return market.Snapshot{
		Indices:      market.Fallbacks(),
		MarketStatus: market.MarketStatus{Status: market.Closed, Message: "weekend"},
	}
}

func newRouter(t *testing.T, table handler.FallbackStore, opts ...handler.Option) *gin.Engine {
	t.Helper()
	prices := fakePrices{results: map[string]resolver.Result{
		"INFY":     {Symbol: "INFY", Price: decimal.RequireFromString("1534.80"), Source: "yahoo_nse", Status: resolver.StatusLive, ObservedAt: observed},
		"HDFCBANK": {Symbol: "HDFCBANK", Price: decimal.RequireFromString("1650.25"), Source: resolver.FallbackSource, Status: resolver.StatusFallback, ObservedAt: observed},
	}}
	h := handler.New(prices, fakeIndices{}, table, nil, opts...)
	return handler.NewRouter(h, nil)
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestGetPrice_Live(t *testing.T) {
	t.Parallel()

	// Act
	rr := do(newRouter(t, nil), http.MethodGet, "/api/price/infy.ns", "")

	// Assert
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "INFY", got["symbol"])
	require.Equal(t, "1534.8", got["price"])
	require.Equal(t, "live", got["status"])
	require.Equal(t, false, got["stale"])
	require.Equal(t, "yahoo_nse", got["source"])
}

func TestGetPrice_FallbackIsStale(t *testing.T) {
	t.Parallel()

	rr := do(newRouter(t, nil), http.MethodGet, "/api/price/HDFC", "")

	require.Equal(t, http.StatusOK, rr.Code)
	var got handler.PriceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "HDFCBANK", got.Symbol)
	require.Equal(t, resolver.StatusFallback, got.Status)
	require.True(t, got.Stale)
	require.True(t, decimal.RequireFromString("1650.25").Equal(*got.Price))
}

func TestGetPrice_UnavailableIs503(t *testing.T) {
	t.Parallel()

	rr := do(newRouter(t, nil), http.MethodGet, "/api/price/zzzz", "")

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "60", rr.Header().Get("Retry-After"))
	require.JSONEq(t, `{"error":"price unavailable","symbol":"ZZZZ"}`, rr.Body.String())
}

func TestGetPrice_KeepsInboundRequestID(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/price/INFY", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	newRouter(t, nil).ServeHTTP(rr, req)

	require.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestGetPrices(t *testing.T) {
	t.Parallel()

	// Act
	rr := do(newRouter(t, nil), http.MethodGet, "/api/prices?symbols=INFY,,zzzz,HDFC.BO", "")

	// Assert: order kept, unavailable inline
	require.Equal(t, http.StatusOK, rr.Code)
	var got struct {
		Prices []handler.PriceResponse `json:"prices"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got.Prices, 3)
	require.Equal(t, "INFY", got.Prices[0].Symbol)
	require.Equal(t, resolver.StatusUnavailable, got.Prices[1].Status)
	require.Nil(t, got.Prices[1].Price)
	require.Equal(t, "HDFCBANK.BO", got.Prices[2].Symbol)
}

func TestGetPrices_BadRequests(t *testing.T) {
	t.Parallel()

	r := newRouter(t, nil, handler.WithMaxBatch(2))

	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/prices", "").Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/prices?symbols=,", "").Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/prices?symbols=A,B,C", "").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/prices?symbols=A,B", "").Code)
}

func TestGetIndices(t *testing.T) {
	t.Parallel()

	rr := do(newRouter(t, nil), http.MethodGet, "/api/market/indices", "")

	require.Equal(t, http.StatusOK, rr.Code)
	var got struct {
		Indices      map[string]market.IndexQuote `json:"indices"`
		MarketStatus market.MarketStatus          `json:"market_status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got.Indices, 3)
	require.True(t, decimal.RequireFromString("24836.30").Equal(got.Indices[market.NIFTY].Price))
	require.Equal(t, market.Closed, got.MarketStatus.Status)
}

func TestGetSourcesAndHealth(t *testing.T) {
	t.Parallel()

	r := newRouter(t, nil)
	require.JSONEq(t, `{"status":"ok"}`, do(r, http.MethodGet, "/healthz", "").Body.String())

	rr := do(r, http.MethodGet, "/api/sources", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"id":"nse"`)
}

func TestRefreshFallback(t *testing.T) {
	t.Parallel()

	// Arrange
	now := time.Date(2026, 10, 14, 16, 0, 0, 0, clock.Market())
	table := fallback.New(fallback.WithClock(func() time.Time { return now }))
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	r := newRouter(t, table, handler.WithMetrics(m))

	// Act
	first := do(r, http.MethodPost, "/api/fallback/refresh", `{"prices":{"infy":"1600.10","TCS":4200}}`)
	second := do(r, http.MethodPost, "/api/fallback/refresh", `{"prices":{"INFY":"1700"}}`)

	// Assert
	require.Equal(t, http.StatusOK, first.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &got))
	require.Equal(t, true, got["applied"])
	require.Equal(t, "2026-10-14T10:30:00Z", got["last_updated"])

	require.Equal(t, http.StatusOK, second.Code)
	require.Contains(t, second.Body.String(), `"applied":false`)

	price, ok := table.Lookup("INFY")
	require.True(t, ok)
	require.True(t, decimal.RequireFromString("1600.10").Equal(price))
}

func TestRefreshFallback_Rejects(t *testing.T) {
	t.Parallel()

	r := newRouter(t, fallback.New())

	require.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/fallback/refresh", `{}`).Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/fallback/refresh", `not json`).Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/fallback/refresh", `{"prices":{"INFY":"-1"}}`).Code)
}

func TestRefreshFallback_DisabledWithoutTable(t *testing.T) {
	t.Parallel()

	rr := do(newRouter(t, nil), http.MethodPost, "/api/fallback/refresh", `{"prices":{"INFY":"1"}}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.Resolution("live")

	h := handler.New(fakePrices{}, fakeIndices{}, nil, nil)
	rr := do(handler.NewRouter(h, reg), http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "advisor_price_resolutions_total")
}
