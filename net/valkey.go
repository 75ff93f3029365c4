package net

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/valkey-io/valkey-go"

	"github.com/portfolio/apigateway/logging"
)

const ringSize = 10000

// ErrNoValkeyAddrs is returned when no valkey address is configured.
var ErrNoValkeyAddrs = errors.New("no valkey addresses configured")

// ValkeyOptions is used to configure the ValkeyClient.
//
// Options are named like
// https://pkg.go.dev/github.com/valkey-io/valkey-go#ClientOption,
// which we pass to the valkey.Client of every shard.
type ValkeyOptions struct {
	// Addrs are the list of valkey shards
	Addrs []string

	// Username used to connect to the valkey server
	Username string
	// Password is the password needed to connect to the valkey server
	Password string

	// ConnWriteTimeout for valkey socket read, write and dial
	ConnWriteTimeout time.Duration

	// ConnLifetime connections will close after passing lifetime
	ConnLifetime time.Duration

	// PingRetries is the number of PING attempts done by Available.
	PingRetries uint

	// Log is the logger that is used
	Log logging.Logger
}

// ValkeyClient selects one of the valkey shards for a key by a ring
// hash and runs lua scripts on it.
type ValkeyClient struct {
	// maps int to client for sharding, trades memory for concurrent access
	shards  [ringSize]valkey.Client
	clients []valkey.Client
	log     logging.Logger
	options ValkeyOptions
	once    sync.Once
}

func createValkeyClient(addr string, o ValkeyOptions) (valkey.Client, error) {
	return valkey.NewClient(valkey.ClientOption{
		Username:         o.Username,
		Password:         o.Password,
		InitAddress:      []string{addr},
		ConnWriteTimeout: o.ConnWriteTimeout, // Write,Read,Dial Timeout is the same
		ConnLifetime:     o.ConnLifetime,
		MaxFlushDelay:    20 * time.Microsecond,
		DisableRetry:     true,
	})
}

func NewValkeyClient(o ValkeyOptions) (*ValkeyClient, error) {
	if len(o.Addrs) == 0 {
		return nil, ErrNoValkeyAddrs
	}
	if o.PingRetries == 0 {
		o.PingRetries = defaultPingRetries
	}
	if o.Log == nil {
		o.Log = logging.New()
	}

	vc := &ValkeyClient{log: o.Log, options: o}
	for _, addr := range o.Addrs {
		cli, err := createValkeyClient(addr, o)
		if err != nil {
			vc.Close()
			return nil, err
		}
		vc.clients = append(vc.clients, cli)
	}

	shardSize := computeShardSize(len(vc.clients))
	for i := range ringSize {
		vc.shards[i] = vc.clients[i/shardSize]
	}

	return vc, nil
}

func computeShardSize(i int) int {
	if i == 0 {
		return ringSize
	}
	return int(math.Ceil(float64(ringSize) / float64(i)))
}

// Shards returns the number of valkey shards.
func (vc *ValkeyClient) Shards() int {
	return len(vc.clients)
}

func (vc *ValkeyClient) shardForKey(key string) valkey.Client {
	return vc.shards[xxhash.Sum64String(key)%ringSize]
}

// Ping pings all shards and returns the first error.
func (vc *ValkeyClient) Ping(ctx context.Context) error {
	for _, cli := range vc.clients {
		if err := cli.Do(ctx, cli.B().Ping().Build()).Error(); err != nil {
			return err
		}
	}
	return nil
}

// Available pings all shards with exponential backoff and reports
// whether they answered.
func (vc *ValkeyClient) Available(ctx context.Context) bool {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := vc.Ping(ctx)
		if err != nil {
			vc.log.Infof("Failed to ping valkey, retry with backoff: %v", err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(vc.options.PingRetries))

	return err == nil
}

// NewValkeyScript returns a lua script that can be run with RunScript.
func NewValkeyScript(src string) *valkey.Lua {
	return valkey.NewLuaScript(src)
}

// RunScript runs the script on the shard of the joined keys.
func (vc *ValkeyClient) RunScript(ctx context.Context, script *valkey.Lua, keys []string, args ...string) (valkey.ValkeyMessage, error) {
	shard := vc.shardForKey(strings.Join(keys, ""))
	return script.Exec(ctx, shard, keys, args).ToMessage()
}

// Close closes the shard connections. It is safe to call Close more
// than once.
func (vc *ValkeyClient) Close() error {
	if vc == nil {
		return nil
	}

	vc.once.Do(func() {
		for _, cli := range vc.clients {
			cli.Close()
		}
	})
	return nil
}
