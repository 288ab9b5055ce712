// Package snapshot persists periodic quote snapshots for the historical query.
package snapshot

import (
	"context"
	"fmt"

	"market_feed_backend/config"
	"market_feed_backend/models"
)

// Store persists quotes and serves the most recent ones
type Store interface {
	SaveQuotes(ctx context.Context, quotes []models.Quote) error
	// LatestQuotes returns up to limit snapshots, newest first
	LatestQuotes(ctx context.Context, limit int) ([]models.Quote, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects the store selected by cfg.Store.Driver
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		return NewMongoStore(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
	case config.DriverSQLite, config.DriverPostgres:
		db, err := config.InitDB(cfg)
		if err != nil {
			return nil, err
		}
		return NewGormStore(db)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
