package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"market_feed_backend/models"
)

// Snapshot query limits
const (
	DefaultSnapshotLimit = 20
	MaxSnapshotLimit     = 500
)

// SnapshotReader serves persisted quote snapshots
type SnapshotReader interface {
	LatestQuotes(ctx context.Context, limit int) ([]models.Quote, error)
}

// StockController handles stock-related requests
type StockController struct {
	store  SnapshotReader
	logger *zap.SugaredLogger
}

// NewStockController creates a new stock controller
func NewStockController(store SnapshotReader, logger *zap.SugaredLogger) *StockController {
	return &StockController{store: store, logger: logger}
}

// GetStocks returns the most recent quote snapshots, newest first
// GET /stocks?limit=N
func (sc *StockController) GetStocks(c *gin.Context) {
	limit := DefaultSnapshotLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > MaxSnapshotLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be an integer between 1 and 500",
			})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	quotes, err := sc.store.LatestQuotes(ctx, limit)
	if err != nil {
		sc.logger.Errorf("Failed to load snapshots: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stocks"})
		return
	}

	if quotes == nil {
		quotes = []models.Quote{}
	}
	c.JSON(http.StatusOK, quotes)
}
