package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/portfolio/apigateway/net"
)

// ValkeyStore is a Store on valkey sorted sets. It runs the same script
// as the RedisStore, on the shard selected for the key.
type ValkeyStore struct {
	client *net.ValkeyClient
	script *valkey.Lua
}

var _ Store = &ValkeyStore{}

func NewValkeyStore(client *net.ValkeyClient) *ValkeyStore {
	return &ValkeyStore{
		client: client,
		script: net.NewValkeyScript(slidingWindowScript),
	}
}

func (s *ValkeyStore) Hit(ctx context.Context, key, member string, limit int64, window time.Duration, now time.Time) (int64, time.Duration, error) {
	msg, err := s.client.RunScript(ctx, s.script,
		[]string{key},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(window.Milliseconds(), 10),
		strconv.FormatInt(limit, 10),
		member,
	)
	if err != nil {
		return 0, 0, err
	}

	res, err := msg.ToArray()
	if err != nil || len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected sliding window script result: %v", msg)
	}

	count, err := res[0].ToInt64()
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected sliding window count: %w", err)
	}

	ttl, _ := res[1].ToInt64()
	return count, time.Duration(ttl) * time.Millisecond, nil
}
