package cache

import (
	"context"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	// SetJSONNX stores val only when key is absent and reports whether it did.
	SetJSONNX(ctx context.Context, key string, val any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

func SeenKey(messageID string) string { return "relay:seen:" + messageID }
