package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/matst80/relay/internal/ledger"
	"github.com/matst80/relay/internal/obs"
	"github.com/matst80/relay/internal/ratelimit"
	"github.com/matst80/relay/internal/relay"
)

func main() {
	if err := loadConfig(flag.CommandLine, &cfg, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "relayd:", err)
		os.Exit(2)
	}
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	obs.Info("relayd.start", obs.Fields{"listen": cfg.Listen, "upstream": cfg.Upstream, "count": cfg.Count, "metrics": cfg.MetricsAddr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Error("relayd.exit", obs.Fields{"err": err})
		os.Exit(1)
	}
	obs.Info("relayd.shutdown.complete", obs.Fields{})
}

func run(ctx context.Context, cfg Config) error {
	upstream, err := relay.ParseTarget(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	listen, err := relay.ParseTarget(cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	store, err := ledger.Open(ledger.Options{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPass,
		RedisDB:       cfg.RedisDB,
		SQLitePath:    cfg.SQLitePath,
		Keep:          cfg.RecentKeep,
	})
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer store.Close()

	var limiter *ratelimit.Limiter
	if cfg.AcceptRate > 0 || cfg.SourceRate > 0 {
		limiter = ratelimit.NewLimiter(cfg.AcceptRate, cfg.SourceRate, cfg.Burst)
	}

	count := cfg.Count
	if count == 0 {
		count = math.MaxInt
	}
	rcfg := relay.Config{
		Upstream:       upstream,
		MaxConnections: count,
		MaxInFlight:    cfg.MaxInFlight,
		BufferSize:     cfg.BufferSize,
		DialTimeout:    cfg.DialTimeout,
		Observer:       ledger.Observer(store),
	}
	if limiter != nil {
		rcfg.Admitter = limiter
	}
	srv, err := relay.New(rcfg)
	if err != nil {
		return err
	}

	ln, err := listenTarget(listen)
	if err != nil {
		obs.Error("listen.relay", obs.Fields{"err": err, "addr": listen.String()})
		return err
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	state := &daemonState{store: store, limiter: limiter}
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, state) })
	}
	if limiter != nil && cfg.SourceRate > 0 {
		g.Go(func() error {
			runSweepLoop(gctx, limiter, cfg.LimiterIdle)
			return nil
		})
	}
	g.Go(func() error {
		// A finished relay (count reached) stops the metrics server too.
		defer cancel()
		state.ready.Store(true)
		obs.Info("relayd.ready", obs.Fields{"addr": ln.Addr().String()})
		err := srv.Run(gctx, ln)
		state.ready.Store(false)
		if err != nil && ctx.Err() != nil {
			// Interrupted by a signal: sessions torn down on purpose.
			obs.Info("relayd.interrupted", obs.Fields{"err": err})
			return nil
		}
		if err != nil && onlyRefusals(err) {
			obs.Info("relayd.refusals", obs.Fields{"refused": len(multierr.Errors(err))})
			return nil
		}
		return err
	})
	return g.Wait()
}

// onlyRefusals reports whether every error in err is an admission refusal.
// Refusals are rate limiting doing its job, not a relay failure.
func onlyRefusals(err error) bool {
	for _, e := range multierr.Errors(err) {
		if !errors.Is(e, relay.ErrRefused) {
			return false
		}
	}
	return true
}

// listenTarget opens the relay listener. A stale UNIX socket file left by a
// previous run is removed first.
func listenTarget(t relay.Target) (net.Listener, error) {
	if t.Network == "unix" {
		if fi, err := os.Lstat(t.Address); err == nil && fi.Mode()&os.ModeSocket != 0 {
			if err := os.Remove(t.Address); err != nil {
				return nil, fmt.Errorf("remove stale socket %s: %w", t.Address, err)
			}
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return net.Listen(t.Network, t.Address)
}

func runSweepLoop(ctx context.Context, l *ratelimit.Limiter, idle time.Duration) {
	if idle <= 0 {
		return
	}
	t := time.NewTicker(idle / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Sweep(idle); n > 0 {
				obs.Debug("limiter.sweep", obs.Fields{"removed": n, "tracked": l.Sources()})
			}
		}
	}
}
