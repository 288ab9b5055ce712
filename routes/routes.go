package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market_feed_backend/controllers"
	"market_feed_backend/middleware"
	"market_feed_backend/services/realtime"
)

// Dependencies are the handlers and middleware settings the routes need
type Dependencies struct {
	Realtime        *realtime.Service
	StockController *controllers.StockController
	FeedController  *controllers.FeedController
	RateLimiter     *middleware.RateLimiter
	// JWTSecret enables token checks on feed endpoints when non-empty
	JWTSecret string
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	var guards []gin.HandlerFunc
	if deps.RateLimiter != nil {
		guards = append(guards, middleware.RateLimitMiddleware(deps.RateLimiter))
	}
	if deps.JWTSecret != "" {
		guards = append(guards, middleware.JWTAuthMiddleware(deps.JWTSecret))
	}
	protected := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		chain := make([]gin.HandlerFunc, 0, len(guards)+1)
		chain = append(chain, guards...)
		return append(chain, handler)
	}

	// Websocket subscribers: /ws?type=stocks|news
	router.GET("/ws", protected(func(c *gin.Context) {
		deps.Realtime.HandleWebSocket(c.Writer, c.Request)
	})...)

	// Snapshot history
	router.GET("/stocks", protected(deps.StockController.GetStocks)...)

	// API v1 group
	api := router.Group("/api/v1")
	{
		api.GET("/stocks", protected(deps.StockController.GetStocks)...)

		feed := api.Group("/feed")
		{
			feed.GET("/status", deps.FeedController.GetStatus)
		}
	}

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
