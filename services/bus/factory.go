package bus

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"market_feed_backend/config"
)

// New builds the transport selected by cfg.Transport
func New(cfg config.BusConfig) (MessageBus, error) {
	switch cfg.Transport {
	case config.TransportFile, "":
		return NewFileBus(cfg.Dir, cfg.FileMaxLines)
	case config.TransportExec:
		return NewExecBus(cfg.ProduceCommand, cfg.ConsumeCommand)
	case config.TransportKafka:
		return NewKafkaBus(cfg.KafkaBrokers)
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		return NewRedisBus(client, cfg.RedisMaxLen), nil
	default:
		return nil, fmt.Errorf("unknown bus transport %q", cfg.Transport)
	}
}
