package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/net/netutil"

	"github.com/matst80/relay/internal/obs"
)

// ErrRefused marks a session the Admitter turned away. Run keeps accepting
// after a refusal but reports it, since that session was never relayed.
var ErrRefused = errors.New("relay: session refused")

// Admitter decides whether an accepted connection gets relayed.
// *ratelimit.Limiter satisfies it.
type Admitter interface {
	AllowConnection(source string) bool
}

// Config describes one relay server.
type Config struct {
	Upstream       Target
	MaxConnections int           // sessions to accept before Run returns; must be positive
	MaxInFlight    int           // cap on concurrently open client conns; 0 disables
	BufferSize     int           // per-direction copy buffer; 0 means DefaultBufferSize
	DialTimeout    time.Duration // 0 waits as long as the dialer does

	Dialer   Dialer   // defaults to &net.Dialer{}
	Admitter Admitter // optional
	Observer Observer // optional
}

// Server accepts up to MaxConnections clients and relays each to Upstream.
type Server struct {
	cfg      Config
	worker   *worker
	registry Registry
}

// New validates cfg and returns a server ready to Run.
func New(cfg Config) (*Server, error) {
	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("%w: max connections must be positive, got %d", ErrInvalidConfig, cfg.MaxConnections)
	}
	if cfg.MaxInFlight < 0 {
		return nil, fmt.Errorf("%w: negative max in-flight %d", ErrInvalidConfig, cfg.MaxInFlight)
	}
	if cfg.Upstream.Network == "" || cfg.Upstream.Address == "" {
		return nil, fmt.Errorf("%w: upstream target is required", ErrInvalidConfig)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	return &Server{
		cfg: cfg,
		worker: &worker{
			dialer:      cfg.Dialer,
			dialTimeout: cfg.DialTimeout,
			bufferSize:  clampBufferSize(cfg.BufferSize),
			observer:    cfg.Observer,
		},
	}, nil
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Run accepts and relays until MaxConnections sessions were accepted, then
// waits for all of them to finish. It returns nil only if every accept
// succeeded and every session ended cleanly. ln is never closed.
//
// Cancelling ctx tears down running sessions and, when ln supports
// deadlines, interrupts a pending Accept.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	if dl, ok := ln.(deadliner); ok {
		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			_ = dl.SetDeadline(time.Now())
			close(fired)
		})
		defer func() {
			if !stop() {
				<-fired
				_ = dl.SetDeadline(time.Time{})
			}
		}()
	}
	if s.cfg.MaxInFlight > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxInFlight)
	}

	obs.Info("relay.run", obs.Fields{"listen": ln.Addr().String(), "upstream": s.cfg.Upstream.String(), "max_connections": s.cfg.MaxConnections})

	var result error
	for accepted := 0; accepted < s.cfg.MaxConnections; accepted++ {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			obs.Error("accept.error", obs.Fields{"err": err, "accepted": accepted})
			obs.ErrorsTotal.WithLabelValues("accept").Inc()
			result = multierr.Append(result, fmt.Errorf("accept: %w", err))
			break
		}

		sess := newSession(conn, s.cfg.Upstream)
		s.registry.Register(sess)
		if err := s.start(ctx, sess); errors.Is(err, ErrRefused) {
			result = multierr.Append(result, err)
		} else if err != nil {
			obs.Error("session.start_failed", obs.Fields{"id": sess.ID, "err": err})
			obs.ErrorsTotal.WithLabelValues("start").Inc()
			result = multierr.Append(result, err)
			break
		}

		if err := s.registry.Reclaim(false); err != nil {
			result = multierr.Append(result, err)
		}
	}

	if err := s.registry.Reclaim(true); err != nil {
		result = multierr.Append(result, err)
	}
	obs.Info("relay.done", obs.Fields{"ok": result == nil})
	return result
}

// start launches the worker for sess. A refused session stays registered
// without a worker so the next reclaim closes it, and start reports
// ErrRefused without stopping the acceptor.
func (s *Server) start(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start session %s: %w", sess.ID, err)
	}
	if s.cfg.Admitter != nil && !s.cfg.Admitter.AllowConnection(sourceHost(sess.Remote)) {
		obs.Info("session.refused", obs.Fields{"id": sess.ID, "remote": sess.Remote})
		obs.SessionsTotal.WithLabelValues("refused").Inc()
		return fmt.Errorf("session %s from %s: %w", sess.ID, sess.Remote, ErrRefused)
	}
	sess.started = true
	go s.worker.run(ctx, sess)
	return nil
}

func sourceHost(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return ""
	}
	return host
}
