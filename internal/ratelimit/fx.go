package ratelimit

import (
	"strings"

	"github.com/diewerk/toolledger/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// NewRedisClient returns nil when redis is disabled; every consumer treats a
// nil client as "feature off" rather than an error.
func NewRedisClient(cfg config.Config) *redis.Client {
	if !cfg.RedisEnabled {
		return nil
	}
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(NewMachineIngestLimiter),
)
