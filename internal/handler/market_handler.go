package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockadvisor/internal/fallback"
)

// GetIndices returns the index snapshot. It always succeeds.
// GET /api/market/indices
func (h *Handler) GetIndices(c *gin.Context) {
	snap := h.indices.GetIndices(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"indices":       snap.Indices,
		"market_status": snap.MarketStatus,
		"cached":        snap.Cached,
	})
}

// RefreshRequest carries scraped prices keyed by symbol.
type RefreshRequest struct {
	Prices map[string]decimal.Decimal `json:"prices" binding:"required"`
}

// RefreshFallback applies a batch of scraped prices to the fallback table.
// POST /api/fallback/refresh
func (h *Handler) RefreshFallback(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	applied, err := h.table.Refresh(req.Prices)
	if err != nil {
		if errors.Is(err, fallback.ErrEmptyRefresh) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("fallback refresh failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	h.metrics.FallbackRefresh(applied)
	h.logger.Info("fallback refresh", zap.Bool("applied", applied), zap.Int("prices", len(req.Prices)))

	resp := gin.H{"applied": applied}
	if at := h.table.LastUpdated(); !at.IsZero() {
		resp["last_updated"] = at.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
