package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"market_feed_backend/config"
	"market_feed_backend/models"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store, err := NewGormStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGormStore_LatestNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveQuotes(ctx, []models.Quote{
		{Symbol: "AAPL", Price: 189.25, ObservedAt: base},
		{Symbol: "MSFT", Price: 410.5, ObservedAt: base},
	}))
	require.NoError(t, store.SaveQuotes(ctx, []models.Quote{
		{Symbol: "AAPL", Price: 190.1, ObservedAt: base.Add(10 * time.Minute)},
	}))

	latest, err := store.LatestQuotes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	assert.Equal(t, "AAPL", latest[0].Symbol)
	assert.Equal(t, 190.1, latest[0].Price)
	assert.True(t, latest[0].ObservedAt.Equal(base.Add(10*time.Minute)))

	assert.Equal(t, "MSFT", latest[1].Symbol)
	assert.Equal(t, 410.5, latest[1].Price)
}

func TestGormStore_EmptySave(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveQuotes(context.Background(), nil))
	latest, err := store.LatestQuotes(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, latest)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestOpen_SQLite(t *testing.T) {
	cfg := &config.Config{Environment: "test"}
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "nested", "market.db")

	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &GormStore{}, store)
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Driver = "cassandra"

	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewMongoStore_RequiresURI(t *testing.T) {
	_, err := NewMongoStore(context.Background(), "", "market_feed")
	assert.Error(t, err)
}
