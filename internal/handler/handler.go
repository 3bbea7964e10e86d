// Package handler exposes the price and index resolvers over HTTP.
package handler

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockadvisor/internal/market"
	"stockadvisor/internal/metrics"
	"stockadvisor/internal/resolver"
)

// PriceService resolves equity prices.
type PriceService interface {
	GetPrice(ctx context.Context, raw string) resolver.Result
	GetPrices(ctx context.Context, raws []string) []resolver.Result
	Sources() []resolver.SourceStatus
}

// IndexService resolves headline indices.
type IndexService interface {
	GetIndices(ctx context.Context) market.Snapshot
}

// FallbackStore accepts scraped prices for the fallback table.
type FallbackStore interface {
	Refresh(scraped map[string]decimal.Decimal) (bool, error)
	LastUpdated() time.Time
}

// DefaultMaxBatch caps the symbols accepted by the batch endpoint.
const DefaultMaxBatch = 100

// retryAfter is sent with 503 responses, in seconds.
const retryAfter = "60"

// Handler serves the API routes.
type Handler struct {
	prices   PriceService
	indices  IndexService
	table    FallbackStore
	metrics  *metrics.Metrics
	logger   *zap.Logger
	maxBatch int
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option { return func(h *Handler) { h.metrics = m } }

func WithMaxBatch(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBatch = n
		}
	}
}

// New creates a handler. table may be nil, which disables the refresh route.
func New(prices PriceService, indices IndexService, table FallbackStore, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		prices:   prices,
		indices:  indices,
		table:    table,
		logger:   logger.Named("http"),
		maxBatch: DefaultMaxBatch,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
