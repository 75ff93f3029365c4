package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portfolio/apigateway/net"
)

// Redis guarantees that a script is executed in an atomic way: no other
// script or command runs while it is executed, so concurrent gateways
// see a consistent count.
//
// See https://redis.io/commands/eval
//
//go:embed slidingwindow.lua
var slidingWindowScript string

// RedisStore is a Store on redis sorted sets.
type RedisStore struct {
	client *net.RedisClient
	script *redis.Script
}

var _ Store = &RedisStore{}

func NewRedisStore(client *net.RedisClient) *RedisStore {
	return &RedisStore{
		client: client,
		script: client.NewScript(slidingWindowScript),
	}
}

func (s *RedisStore) Hit(ctx context.Context, key, member string, limit int64, window time.Duration, now time.Time) (int64, time.Duration, error) {
	r, err := s.client.RunScript(ctx, s.script,
		[]string{key},         // KEYS[1] = window log
		now.UnixMilli(),       // ARGV[1] = current time in milliseconds
		window.Milliseconds(), // ARGV[2] = window in milliseconds
		limit,                 // ARGV[3] = limit
		member,                // ARGV[4] = member of an admitted request
	)
	if err != nil {
		return 0, 0, err
	}

	res, ok := r.([]any)
	if !ok || len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected sliding window script result: %v", r)
	}

	count, ok := res[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected sliding window count: %v", res[0])
	}

	ttl, _ := res[1].(int64)
	return count, time.Duration(ttl) * time.Millisecond, nil
}
