package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"market_feed_backend/models"
	"market_feed_backend/scheduler"
)

// SubscriberCounter reports live subscribers per feed kind
type SubscriberCounter interface {
	Counts() map[models.FeedKind]int
}

// FeedController reports the state of the live feed
type FeedController struct {
	subscribers SubscriberCounter
	state       *scheduler.CycleState
	symbols     []string
}

// NewFeedController creates a new feed controller
func NewFeedController(subscribers SubscriberCounter, state *scheduler.CycleState, symbols []string) *FeedController {
	return &FeedController{subscribers: subscribers, state: state, symbols: symbols}
}

// GetStatus returns subscriber counts and the cycle state
// GET /api/v1/feed/status
func (fc *FeedController) GetStatus(c *gin.Context) {
	counts := fc.subscribers.Counts()
	subscribers := gin.H{}
	total := 0
	for kind, n := range counts {
		subscribers[string(kind)] = n
		total += n
	}
	subscribers["total"] = total

	c.JSON(http.StatusOK, gin.H{
		"subscribers": subscribers,
		"cycle":       fc.state.Status(),
		"symbols":     fc.symbols,
	})
}
