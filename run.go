package gateway

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	snet "github.com/portfolio/apigateway/net"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Serve serves the gateway on l and the support endpoints on support,
// when not nil, until ctx is done. Then it stops accepting connections
// and waits for the requests in flight until the shutdown timeout.
func (g *Gateway) Serve(ctx context.Context, l, support net.Listener) error {
	timeout := g.options.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	pl, err := snet.NewProxyProtocolListener(l, g.options.ProxyProtocol)
	if err != nil {
		l.Close()
		return err
	}

	g.start(ctx)

	sl := snet.NewShutdownListener(pl, g.log, g.metrics)
	srv := &http.Server{
		Handler:           g,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          newServerErrorLog(),
	}

	var supportSrv *http.Server
	if support != nil {
		supportSrv = &http.Server{
			Handler:           g.SupportHandler(),
			ReadHeaderTimeout: readHeaderTimeout,
			ErrorLog:          newServerErrorLog(),
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g.log.Infof("gateway listening on %v", l.Addr())
		return serve(srv, sl)
	})

	if supportSrv != nil {
		eg.Go(func() error {
			g.log.Infof("support listener on %v", support.Addr())
			return serve(supportSrv, support)
		})
	}

	eg.Go(func() error {
		<-ctx.Done()
		g.log.Infof("shutting down, waiting up to %v for requests in flight", timeout)

		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := srv.Shutdown(sctx)
		if err := sl.Shutdown(sctx); err != nil {
			g.log.Errorf("connections still open after shutdown: %d", sl.ActiveConns())
		}

		if supportSrv != nil {
			supportSrv.Shutdown(sctx)
		}

		return err
	})

	return eg.Wait()
}

func newServerErrorLog() *log.Logger {
	return log.New(logrus.StandardLogger().WriterLevel(logrus.ErrorLevel), "", 0)
}

func serve(srv *http.Server, l net.Listener) error {
	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (g *Gateway) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				if err := g.reloadPolicies(); err != nil {
					g.log.Errorf("failed to reload rate limit policies: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Run creates the gateway, listens on the configured addresses and
// serves until SIGINT or SIGTERM is received. SIGHUP reloads the rate
// limit policies.
func Run(o Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return RunContext(ctx, o)
}

// RunContext is Run with the lifetime bound to ctx instead of the
// termination signals.
func RunContext(ctx context.Context, o Options) error {
	g, err := New(o)
	if err != nil {
		return err
	}
	defer g.Close()

	l, err := net.Listen("tcp", o.Address)
	if err != nil {
		return err
	}

	var support net.Listener
	if o.SupportListener != "" {
		support, err = net.Listen("tcp", o.SupportListener)
		if err != nil {
			l.Close()
			return err
		}
	}

	g.reloadOnHangup(ctx)
	return g.Serve(ctx, l, support)
}
