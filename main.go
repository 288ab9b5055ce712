package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"market_feed_backend/config"
	"market_feed_backend/controllers"
	"market_feed_backend/logger"
	"market_feed_backend/middleware"
	"market_feed_backend/routes"
	"market_feed_backend/scheduler"
	"market_feed_backend/services/broadcast"
	"market_feed_backend/services/bus"
	"market_feed_backend/services/provider"
	"market_feed_backend/services/realtime"
	"market_feed_backend/services/registry"
	"market_feed_backend/services/snapshot"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}

	logr, err := logger.Init(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Logger init failed: %v", err)
	}
	defer logger.Sync()

	logr.Info("==============================================")
	logr.Info("  Market Feed Backend - Starting...")
	logr.Info("==============================================")

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	clock := clockwork.NewRealClock()

	store, err := snapshot.Open(ctx, cfg)
	if err != nil {
		logr.Fatalf("Snapshot store init failed: %v", err)
	}

	messageBus, err := bus.New(cfg.Bus)
	if err != nil {
		logr.Fatalf("Message bus init failed: %v", err)
	}
	logr.Infof("Message bus ready (transport=%s)", cfg.Bus.Transport)

	providerClient := provider.NewClient(provider.Options{
		APIKey:            cfg.Provider.APIKey,
		QuoteURL:          cfg.Provider.QuoteURL,
		NewsURL:           cfg.Provider.NewsURL,
		NewsCategory:      cfg.Provider.NewsCategory,
		Timeout:           cfg.Provider.Timeout,
		RateLimitLowWater: cfg.Provider.RateLimitLowWater,
	}, clock, logr)
	if cfg.Provider.APIKey == "" {
		logr.Warn("PROVIDER_API_KEY not set, upstream requests will be unauthenticated")
	}

	subscribers := registry.New(clock)
	dispatcher := broadcast.NewDispatcher(subscribers, logr)

	runner := scheduler.NewCycleRunner(scheduler.CycleOptions{
		Symbols:          cfg.Feed.Symbols,
		StocksTopic:      cfg.Bus.StocksTopic,
		NewsTopic:        cfg.Bus.NewsTopic,
		NewsProduceLimit: cfg.Feed.NewsProduceLimit,
		NewsConsumeLimit: cfg.Feed.NewsConsumeLimit,
		NewsBatchSize:    cfg.Feed.NewsBatchSize,
		NewsBatchDelay:   cfg.Feed.NewsBatchDelay,
		StageTimeout:     cfg.Scheduler.StageTimeout,
		MaxEmptyCycles:   cfg.Scheduler.MaxEmptyCycles,
	}, subscribers, providerClient, messageBus, dispatcher, clock, logr)

	// First subscriber wakes the pipeline without waiting for the next tick
	subscribers.SetOnFirstSubscriber(func() { runner.TriggerNow(ctx) })

	poller := scheduler.NewSnapshotPoller(providerClient, store, cfg.Feed.Symbols, cfg.Scheduler.StageTimeout, clock, logr)
	jobScheduler := scheduler.NewScheduler(runner, poller, cfg.Scheduler.CyclePeriod, cfg.Scheduler.SnapshotPeriod, logr)

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger(logr))

	setupHealthEndpoints(router, store)
	routes.SetupRoutes(router, routes.Dependencies{
		Realtime:        realtime.NewService(subscribers, cfg.HTTP.MaxWSClients, logr),
		StockController: controllers.NewStockController(store, logr),
		FeedController:  controllers.NewFeedController(subscribers, runner.State(), cfg.Feed.Symbols),
		RateLimiter:     middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, clock),
		JWTSecret:       cfg.HTTP.JWTSecret,
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		logr.Infof("Server listening on 0.0.0.0:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatalf("Server error: %v", err)
		}
	}()

	if err := jobScheduler.Start(ctx); err != nil {
		logr.Fatalf("Scheduler start failed: %v", err)
	}

	gracefulShutdown(logr, server, jobScheduler, subscribers, messageBus, store, stop)
}

// setupHealthEndpoints sets up liveness, readiness and startup probes
func setupHealthEndpoints(router *gin.Engine, store snapshot.Store) {
	// Root endpoint
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Market Feed Backend",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks the snapshot store
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Snapshot store ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})

	// Startup probe
	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "started",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger(logr *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for probes and scrapes to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" || path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests; /ws stays open for the whole session
		if c.Writer.Status() >= 400 || (duration > 1*time.Second && path != "/ws") {
			logr.Infow("HTTP request",
				"method", c.Request.Method,
				"path", path,
				"status", c.Writer.Status(),
				"duration", duration,
			)
		}
	}
}

type closer interface {
	Close() error
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(
	logr *zap.SugaredLogger,
	server *http.Server,
	jobScheduler *scheduler.Scheduler,
	subscribers *registry.Registry,
	messageBus closer,
	store closer,
	stop context.CancelFunc,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-quit
	logr.Infof("Received signal %v, shutting down gracefully...", sig)

	// Stop scheduler first so no cycle starts mid-shutdown
	stop()
	jobScheduler.Stop()

	// Websocket clients get a going-away frame
	subscribers.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logr.Errorf("Server forced to shutdown: %v", err)
	}

	if err := messageBus.Close(); err != nil {
		logr.Warnf("Message bus close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		logr.Warnf("Snapshot store close failed: %v", err)
	}

	logr.Info("Server shutdown completed")
}
