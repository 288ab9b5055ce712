package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	applog "market_feed_backend/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Bus transports
const (
	TransportFile  = "file"
	TransportExec  = "exec"
	TransportKafka = "kafka"
	TransportRedis = "redis"
)

// Snapshot store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Feed      FeedConfig      `mapstructure:"feed"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Bus       BusConfig       `mapstructure:"bus"`
	Store     StoreConfig     `mapstructure:"store"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

type FeedConfig struct {
	Symbols          []string      `mapstructure:"symbols"`
	NewsProduceLimit int           `mapstructure:"news_produce_limit"`
	NewsConsumeLimit int           `mapstructure:"news_consume_limit"`
	NewsBatchSize    int           `mapstructure:"news_batch_size"`
	NewsBatchDelay   time.Duration `mapstructure:"news_batch_delay"`
}

type SchedulerConfig struct {
	CyclePeriod    time.Duration `mapstructure:"cycle_period"`
	StageTimeout   time.Duration `mapstructure:"stage_timeout"`
	MaxEmptyCycles int           `mapstructure:"max_empty_cycles"`
	SnapshotPeriod time.Duration `mapstructure:"snapshot_period"`
}

type ProviderConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	QuoteURL          string        `mapstructure:"quote_url"`
	NewsURL           string        `mapstructure:"news_url"`
	NewsCategory      string        `mapstructure:"news_category"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RateLimitLowWater int           `mapstructure:"rate_limit_low_water"`
}

type BusConfig struct {
	Transport      string   `mapstructure:"transport"`
	StocksTopic    string   `mapstructure:"stocks_topic"`
	NewsTopic      string   `mapstructure:"news_topic"`
	Dir            string   `mapstructure:"dir"`
	FileMaxLines   int      `mapstructure:"file_max_lines"`
	ProduceCommand string   `mapstructure:"produce_command"`
	ConsumeCommand string   `mapstructure:"consume_command"`
	KafkaBrokers   []string `mapstructure:"kafka_brokers"`
	RedisAddr      string   `mapstructure:"redis_addr"`
	RedisPassword  string   `mapstructure:"redis_password"`
	RedisMaxLen    int64    `mapstructure:"redis_max_len"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	DBHost        string `mapstructure:"db_host"`
	DBPort        string `mapstructure:"db_port"`
	DBUser        string `mapstructure:"db_user"`
	DBPassword    string `mapstructure:"db_password"`
	DBName        string `mapstructure:"db_name"`
	DBSSLMode     string `mapstructure:"db_sslmode"`
	MongoURI      string `mapstructure:"mongodb_uri"`
	MongoDatabase string `mapstructure:"mongodb_database"`
}

type HTTPConfig struct {
	JWTSecret    string  `mapstructure:"jwt_secret"`
	MaxWSClients int     `mapstructure:"ws_max_clients"`
	RateLimit    float64 `mapstructure:"rate_limit"`
	RateBurst    int     `mapstructure:"rate_burst"`
}

// setting binds one config key to its environment variable and default
type setting struct {
	key   string
	env   string
	value interface{}
}

var settings = []setting{
	{"port", "PORT", "8080"},
	{"environment", "ENVIRONMENT", "development"},
	{"log_level", "LOG_LEVEL", "info"},

	{"feed.symbols", "FEED_SYMBOLS", []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"}},
	{"feed.news_produce_limit", "NEWS_PRODUCE_LIMIT", 20},
	{"feed.news_consume_limit", "NEWS_CONSUME_LIMIT", 5},
	{"feed.news_batch_size", "NEWS_BATCH_SIZE", 5},
	{"feed.news_batch_delay", "NEWS_BATCH_DELAY", "1s"},

	{"scheduler.cycle_period", "CYCLE_PERIOD", "30s"},
	{"scheduler.stage_timeout", "STAGE_TIMEOUT", "15s"},
	{"scheduler.max_empty_cycles", "MAX_EMPTY_CYCLES", 2},
	{"scheduler.snapshot_period", "SNAPSHOT_PERIOD", "10m"},

	{"provider.api_key", "PROVIDER_API_KEY", ""},
	{"provider.quote_url", "PROVIDER_QUOTE_URL", "https://finnhub.io/api/v1/quote"},
	{"provider.news_url", "PROVIDER_NEWS_URL", "https://finnhub.io/api/v1/news"},
	{"provider.news_category", "PROVIDER_NEWS_CATEGORY", "general"},
	{"provider.timeout", "PROVIDER_TIMEOUT", "10s"},
	{"provider.rate_limit_low_water", "PROVIDER_RATE_LIMIT_LOW_WATER", 5},

	{"bus.transport", "BUS_TRANSPORT", TransportFile},
	{"bus.stocks_topic", "BUS_STOCKS_TOPIC", "stocks"},
	{"bus.news_topic", "BUS_NEWS_TOPIC", "news"},
	{"bus.dir", "BUS_DIR", "data/bus"},
	{"bus.file_max_lines", "BUS_FILE_MAX_LINES", 10000},
	{"bus.produce_command", "BUS_PRODUCE_COMMAND", ""},
	{"bus.consume_command", "BUS_CONSUME_COMMAND", ""},
	{"bus.kafka_brokers", "BUS_KAFKA_BROKERS", []string{"localhost:9092"}},
	{"bus.redis_addr", "BUS_REDIS_ADDR", "localhost:6379"},
	{"bus.redis_password", "BUS_REDIS_PASSWORD", ""},
	{"bus.redis_max_len", "BUS_REDIS_MAX_LEN", 10000},

	{"store.driver", "STORE_DRIVER", DriverSQLite},
	{"store.sqlite_path", "STORE_SQLITE_PATH", "data/market.db"},
	{"store.db_host", "DB_HOST", "localhost"},
	{"store.db_port", "DB_PORT", "5432"},
	{"store.db_user", "DB_USER", "postgres"},
	{"store.db_password", "DB_PASSWORD", ""},
	{"store.db_name", "DB_NAME", "market_feed"},
	{"store.db_sslmode", "DB_SSLMODE", "require"},
	{"store.mongodb_uri", "MONGODB_URI", ""},
	{"store.mongodb_database", "MONGODB_DATABASE", "market_feed"},

	{"http.jwt_secret", "JWT_SECRET", ""},
	{"http.ws_max_clients", "WS_MAX_CLIENTS", 1000},
	{"http.rate_limit", "HTTP_RATE_LIMIT", 10.0},
	{"http.rate_burst", "HTTP_RATE_BURST", 20},
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists. The structured logger is not built yet.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.value)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", s.env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	cfg.Feed.Symbols = normalizeList(cfg.Feed.Symbols, true)
	cfg.Bus.KafkaBrokers = normalizeList(cfg.Bus.KafkaBrokers, false)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = &cfg
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("FEED_SYMBOLS must list at least one symbol")
	}
	if c.Feed.NewsConsumeLimit <= 0 || c.Feed.NewsProduceLimit <= 0 {
		return fmt.Errorf("news produce and consume limits must be positive")
	}
	if c.Feed.NewsBatchSize <= 0 {
		return fmt.Errorf("NEWS_BATCH_SIZE must be positive, got %d", c.Feed.NewsBatchSize)
	}
	if c.Scheduler.CyclePeriod <= 0 || c.Scheduler.SnapshotPeriod <= 0 {
		return fmt.Errorf("scheduler periods must be positive")
	}
	if c.Scheduler.StageTimeout <= 0 {
		return fmt.Errorf("STAGE_TIMEOUT must be positive")
	}
	if c.Scheduler.MaxEmptyCycles < 0 {
		return fmt.Errorf("MAX_EMPTY_CYCLES cannot be negative")
	}
	if c.Bus.StocksTopic == "" || c.Bus.NewsTopic == "" {
		return fmt.Errorf("bus topic names cannot be empty")
	}

	switch c.Bus.Transport {
	case TransportFile:
		if c.Bus.FileMaxLines <= 0 {
			return fmt.Errorf("BUS_FILE_MAX_LINES must be positive")
		}
	case TransportRedis:
	case TransportExec:
		if c.Bus.ProduceCommand == "" || c.Bus.ConsumeCommand == "" {
			return fmt.Errorf("exec transport needs BUS_PRODUCE_COMMAND and BUS_CONSUME_COMMAND")
		}
	case TransportKafka:
		if len(c.Bus.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka brokers cannot be empty")
		}
	default:
		return fmt.Errorf("unknown BUS_TRANSPORT %q", c.Bus.Transport)
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return fmt.Errorf("mongo store needs MONGODB_URI")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	return nil
}

// InitDB opens the relational snapshot database for the sqlite and postgres drivers
func InitDB(cfg *Config) (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Warn
	}
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	var dialector gorm.Dialector
	switch cfg.Store.Driver {
	case DriverPostgres:
		// Log connection info (masked for security)
		applog.Log.Infof("Connecting to database: host=%s port=%s user=%s dbname=%s",
			maskHost(cfg.Store.DBHost),
			cfg.Store.DBPort,
			cfg.Store.DBUser,
			cfg.Store.DBName,
		)

		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Store.DBHost,
			cfg.Store.DBUser,
			cfg.Store.DBPassword,
			cfg.Store.DBName,
			cfg.Store.DBPort,
			cfg.Store.DBSSLMode,
		)
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dialector = sqlite.Open(cfg.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("driver %q is not relational", cfg.Store.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	applog.Log.Infof("Database connection verified successfully (%s)", cfg.Store.Driver)
	DB = db
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// normalizeList trims entries, drops empties and optionally upper-cases them.
// Entries that arrive as one comma-joined string are split.
func normalizeList(items []string, upper bool) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if upper {
				part = strings.ToUpper(part)
			}
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}
