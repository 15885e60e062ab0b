package config

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

// InitRedis accepts either a redis:// URL or a host:port address.
func InitRedis(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("REDIS_ADDR (or REDIS_URI/REDIS_URL) environment variable is not set")
	}

	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return err
		}
		RedisClient = redis.NewClient(opt)
	} else {
		RedisClient = redis.NewClient(&redis.Options{Addr: addr})
	}

	_, err := RedisClient.Ping(ctx).Result()
	return err
}
