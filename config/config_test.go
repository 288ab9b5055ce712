package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"}, cfg.Feed.Symbols)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.CyclePeriod)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.StageTimeout)
	assert.Equal(t, 2, cfg.Scheduler.MaxEmptyCycles)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.SnapshotPeriod)
	assert.Equal(t, time.Second, cfg.Feed.NewsBatchDelay)
	assert.Equal(t, 5, cfg.Provider.RateLimitLowWater)
	assert.Equal(t, TransportFile, cfg.Bus.Transport)
	assert.Equal(t, "stocks", cfg.Bus.StocksTopic)
	assert.Equal(t, "news", cfg.Bus.NewsTopic)
	assert.Equal(t, 10000, cfg.Bus.FileMaxLines)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Same(t, cfg, AppConfig)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FEED_SYMBOLS", "nvda, amd,,NVDA")
	t.Setenv("CYCLE_PERIOD", "5s")
	t.Setenv("STAGE_TIMEOUT", "750ms")
	t.Setenv("MAX_EMPTY_CYCLES", "4")
	t.Setenv("BUS_TRANSPORT", "redis")
	t.Setenv("BUS_NEWS_TOPIC", "market-news")
	t.Setenv("NEWS_CONSUME_LIMIT", "8")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"NVDA", "AMD"}, cfg.Feed.Symbols)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.CyclePeriod)
	assert.Equal(t, 750*time.Millisecond, cfg.Scheduler.StageTimeout)
	assert.Equal(t, 4, cfg.Scheduler.MaxEmptyCycles)
	assert.Equal(t, TransportRedis, cfg.Bus.Transport)
	assert.Equal(t, "market-news", cfg.Bus.NewsTopic)
	assert.Equal(t, 8, cfg.Feed.NewsConsumeLimit)
}

func TestLoadConfig_RejectsUnknownTransport(t *testing.T) {
	t.Setenv("BUS_TRANSPORT", "carrier-pigeon")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUS_TRANSPORT")
}

func TestValidate_ExecTransportNeedsCommands(t *testing.T) {
	t.Setenv("BUS_TRANSPORT", "exec")
	t.Setenv("BUS_PRODUCE_COMMAND", "kcat -P -b localhost:9092 -t {topic}")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUS_CONSUME_COMMAND")
}

func TestValidate_MongoNeedsURI(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGODB_URI")
}

func TestMaskHost(t *testing.T) {
	assert.Equal(t, "***", maskHost("db"))
	assert.Equal(t, "loc***", maskHost("localhost"))
	assert.Equal(t, "aws-0-ap***pabase.com", maskHost("aws-0-ap-southeast-1.pooler.supabase.com"))
}
