package net

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/portfolio/apigateway/logging"
	"github.com/portfolio/apigateway/metrics"
)

const activeConnsGauge = "gateway.connections.active"

// ShutdownListener counts the open connections it accepted. Shutdown
// waits for them to be closed, including connections hijacked from the
// HTTP server by protocol upgrades.
type ShutdownListener struct {
	net.Listener
	activeConns atomic.Int64
	log         logging.Logger
	metrics     metrics.Metrics
	interval    time.Duration
}

type shutdownListenerConn struct {
	net.Conn
	listener *ShutdownListener
	once     sync.Once
}

var _ net.Listener = &ShutdownListener{}

// NewShutdownListener wraps l. Nil log and metrics default to the
// application log and metrics.Default.
func NewShutdownListener(l net.Listener, log logging.Logger, m metrics.Metrics) *ShutdownListener {
	if log == nil {
		log = logging.New()
	}
	if m == nil {
		m = metrics.Default
	}

	return &ShutdownListener{Listener: l, log: log, metrics: m, interval: 500 * time.Millisecond}
}

func (l *ShutdownListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	l.update(1)
	return &shutdownListenerConn{Conn: c, listener: l}, nil
}

// ActiveConns returns the number of open connections.
func (l *ShutdownListener) ActiveConns() int64 {
	return l.activeConns.Load()
}

// Shutdown blocks until all accepted connections are closed or ctx is
// done.
func (l *ShutdownListener) Shutdown(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		n := l.activeConns.Load()
		if n == 0 {
			return nil
		}

		l.log.Debugf("waiting for %d active connections", n)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *shutdownListenerConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.listener.update(-1) })
	return err
}

func (l *ShutdownListener) update(delta int64) {
	n := l.activeConns.Add(delta)
	l.metrics.UpdateGauge(activeConnsGauge, float64(n))
}
