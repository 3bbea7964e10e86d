package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockadvisor/internal/provider"
	"stockadvisor/internal/resolver"
)

// PriceResponse is one resolved symbol. Stale marks fallback-table values.
type PriceResponse struct {
	Symbol     string            `json:"symbol"`
	Price      *decimal.Decimal  `json:"price,omitempty"`
	Source     provider.SourceID `json:"source,omitempty"`
	Status     resolver.Status   `json:"status"`
	Stale      bool              `json:"stale"`
	Cached     bool              `json:"cached"`
	ObservedAt *time.Time        `json:"observed_at,omitempty"`
}

func toResponse(r resolver.Result) PriceResponse {
	out := PriceResponse{Symbol: r.Symbol, Status: r.Status, Cached: r.Cached}
	if !r.OK() {
		return out
	}
	price := r.Price
	out.Price = &price
	out.Source = r.Source
	out.Stale = r.Status == resolver.StatusFallback
	if !r.ObservedAt.IsZero() {
		at := r.ObservedAt
		out.ObservedAt = &at
	}
	return out
}

// GetPrice handles a single symbol.
// GET /api/price/:symbol
func (h *Handler) GetPrice(c *gin.Context) {
	raw := strings.TrimSpace(c.Param("symbol"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	res := h.prices.GetPrice(c.Request.Context(), raw)
	if !res.OK() {
		h.logger.Warn("price unavailable", zap.String("symbol", res.Symbol), zap.String("request_id", c.GetString(requestIDKey)))
		c.Header("Retry-After", retryAfter)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price unavailable", "symbol": res.Symbol})
		return
	}
	c.JSON(http.StatusOK, toResponse(res))
}

// GetPrices handles a comma separated batch. Unavailable symbols are reported
// inline; the response is 200 unless the request itself is invalid.
// GET /api/prices?symbols=A,B
func (h *Handler) GetPrices(c *gin.Context) {
	symbols := splitCSV(c.Query("symbols"))
	if len(symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing symbols query param"})
		return
	}
	if len(symbols) > h.maxBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many symbols", "max": h.maxBatch})
		return
	}

	results := h.prices.GetPrices(c.Request.Context(), symbols)
	out := make([]PriceResponse, 0, len(results))
	for _, r := range results {
		out = append(out, toResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"prices": out})
}

// GetSources reports the configured cascade with usage counters.
// GET /api/sources
func (h *Handler) GetSources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": h.prices.Sources()})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
