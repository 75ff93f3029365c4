package net

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/portfolio/apigateway/logging"
	"github.com/portfolio/apigateway/metrics"
)

// RedisOptions is used to configure the redis client.
type RedisOptions struct {
	// Addrs are the list of redis shards or cluster nodes
	Addrs []string

	// Password for redis AUTH
	Password string

	// Cluster selects redis cluster mode. When false and more
	// than one address is configured, a ring of shards is used.
	Cluster bool

	// ReadTimeout for redis socket reads
	ReadTimeout time.Duration
	// WriteTimeout for redis socket writes
	WriteTimeout time.Duration
	// DialTimeout is the max time.Duration to dial a new connection
	DialTimeout time.Duration
	// PoolTimeout is the max time.Duration to get a connection from pool
	PoolTimeout time.Duration

	// MinIdleConns is the minimum number of socket connections to redis
	MinIdleConns int
	// MaxConns is the size of the connection pool
	MaxConns int

	// PingRetries is the number of PING attempts done by Available.
	PingRetries uint

	// ConnMetricsInterval defines the frequency of updating the redis
	// connection related metrics. Defaults to 60 seconds.
	ConnMetricsInterval time.Duration
	// MetricsPrefix is the prefix for redis pool gauges, defaults
	// to "ratelimit.redis.pool." if not set
	MetricsPrefix string

	// Log is the logger that is used
	Log logging.Logger
	// Metrics is the registry of the pool gauges, defaults to
	// metrics.Default
	Metrics metrics.Metrics
}

type redisClient interface {
	redis.Scripter
	Ping(context.Context) *redis.StatusCmd
	PoolStats() *redis.PoolStats
	Close() error
}

// RedisClient wraps a single node, ring or cluster redis client and
// runs lua scripts on it.
type RedisClient struct {
	client        redisClient
	log           logging.Logger
	metrics       metrics.Metrics
	metricsPrefix string
	options       RedisOptions
	quit          chan struct{}
	closeOnce     sync.Once
}

const (
	DefaultReadTimeout  = 25 * time.Millisecond
	DefaultWriteTimeout = 25 * time.Millisecond
	DefaultPoolTimeout  = 25 * time.Millisecond
	DefaultDialTimeout  = 25 * time.Millisecond
	DefaultMinConns     = 100
	DefaultMaxConns     = 100

	defaultConnMetricsInterval = 60 * time.Second
	defaultMetricsPrefix       = "ratelimit.redis.pool."
	defaultPingRetries         = 7
)

// ErrNoRedisAddrs is returned when no redis address is configured.
var ErrNoRedisAddrs = errors.New("no redis addresses configured")

func NewRedisClient(ro RedisOptions) (*RedisClient, error) {
	if len(ro.Addrs) == 0 {
		return nil, ErrNoRedisAddrs
	}

	if ro.ConnMetricsInterval <= 0 {
		ro.ConnMetricsInterval = defaultConnMetricsInterval
	}
	if ro.MetricsPrefix == "" {
		ro.MetricsPrefix = defaultMetricsPrefix
	}
	if ro.PingRetries == 0 {
		ro.PingRetries = defaultPingRetries
	}
	if ro.Log == nil {
		ro.Log = logging.New()
	}
	if ro.Metrics == nil {
		ro.Metrics = metrics.Default
	}

	r := &RedisClient{
		log:           ro.Log,
		metrics:       ro.Metrics,
		metricsPrefix: ro.MetricsPrefix,
		options:       ro,
		quit:          make(chan struct{}),
	}

	switch {
	case ro.Cluster:
		r.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        ro.Addrs,
			Password:     ro.Password,
			ReadTimeout:  ro.ReadTimeout,
			WriteTimeout: ro.WriteTimeout,
			DialTimeout:  ro.DialTimeout,
			PoolTimeout:  ro.PoolTimeout,
			MinIdleConns: ro.MinIdleConns,
			PoolSize:     ro.MaxConns,
		})
	case len(ro.Addrs) > 1:
		ringOptions := &redis.RingOptions{
			Addrs:        map[string]string{},
			Password:     ro.Password,
			ReadTimeout:  ro.ReadTimeout,
			WriteTimeout: ro.WriteTimeout,
			DialTimeout:  ro.DialTimeout,
			PoolTimeout:  ro.PoolTimeout,
			MinIdleConns: ro.MinIdleConns,
			PoolSize:     ro.MaxConns,
		}
		for idx, addr := range ro.Addrs {
			ringOptions.Addrs[fmt.Sprintf("redis%d", idx)] = addr
		}
		r.client = redis.NewRing(ringOptions)
	default:
		r.client = redis.NewClient(&redis.Options{
			Addr:         ro.Addrs[0],
			Password:     ro.Password,
			ReadTimeout:  ro.ReadTimeout,
			WriteTimeout: ro.WriteTimeout,
			DialTimeout:  ro.DialTimeout,
			PoolTimeout:  ro.PoolTimeout,
			MinIdleConns: ro.MinIdleConns,
			PoolSize:     ro.MaxConns,
		})
	}

	return r, nil
}

// Available pings redis with exponential backoff and reports whether it
// answered.
func (r *RedisClient) Available(ctx context.Context) bool {
	_, err := backoff.Retry(ctx, func() (string, error) {
		res, err := r.client.Ping(ctx).Result()
		if err != nil {
			r.log.Infof("Failed to ping redis, retry with backoff: %v", err)
		}
		return res, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(r.options.PingRetries))

	return err == nil
}

// Ping sends a single PING.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) updatePoolMetrics() {
	stats := r.client.PoolStats()
	r.metrics.UpdateGauge(r.metricsPrefix+"hits", float64(stats.Hits))
	r.metrics.UpdateGauge(r.metricsPrefix+"idleconns", float64(stats.IdleConns))
	r.metrics.UpdateGauge(r.metricsPrefix+"misses", float64(stats.Misses))
	r.metrics.UpdateGauge(r.metricsPrefix+"staleconns", float64(stats.StaleConns))
	r.metrics.UpdateGauge(r.metricsPrefix+"timeouts", float64(stats.Timeouts))
	r.metrics.UpdateGauge(r.metricsPrefix+"totalconns", float64(stats.TotalConns))
}

// StartMetricsCollection updates the pool gauges periodically until
// Close is called.
func (r *RedisClient) StartMetricsCollection() {
	go func() {
		ticker := time.NewTicker(r.options.ConnMetricsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.updatePoolMetrics()
			case <-r.quit:
				return
			}
		}
	}()
}

// NewScript returns a lua script that can be run with RunScript.
func (r *RedisClient) NewScript(source string) *redis.Script {
	return redis.NewScript(source)
}

// RunScript runs the script with EVALSHA, falling back to EVAL when
// the script is not cached by the server.
func (r *RedisClient) RunScript(ctx context.Context, s *redis.Script, keys []string, args ...any) (any, error) {
	return s.Run(ctx, r.client, keys, args...).Result()
}

// Close stops the metrics collection and closes the connections. It is
// safe to call Close more than once.
func (r *RedisClient) Close() error {
	if r == nil {
		return nil
	}

	var err error
	r.closeOnce.Do(func() {
		close(r.quit)
		err = r.client.Close()
	})
	return err
}
