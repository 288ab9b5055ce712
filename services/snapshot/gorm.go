package snapshot

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"market_feed_backend/models"
)

// GormStore keeps snapshots in a relational database
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the snapshot table and wraps db
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := models.MigrateSnapshotModels(db); err != nil {
		return nil, fmt.Errorf("failed to migrate snapshot models: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveQuotes inserts one row per quote in a single batch
func (s *GormStore) SaveQuotes(ctx context.Context, quotes []models.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	rows := make([]models.QuoteSnapshot, 0, len(quotes))
	for _, q := range quotes {
		rows = append(rows, models.NewQuoteSnapshot(q))
	}

	if err := s.db.WithContext(ctx).CreateInBatches(&rows, 100).Error; err != nil {
		return fmt.Errorf("failed to save snapshots: %w", err)
	}
	return nil
}

// LatestQuotes returns the newest snapshots
func (s *GormStore) LatestQuotes(ctx context.Context, limit int) ([]models.Quote, error) {
	var rows []models.QuoteSnapshot
	err := s.db.WithContext(ctx).
		Order("observed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}

	quotes := make([]models.Quote, 0, len(rows))
	for _, row := range rows {
		quotes = append(quotes, row.Quote())
	}
	return quotes, nil
}

// Ping checks the database connection
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
