package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/matst80/relay/internal/obs"
)

// Status is the terminal state of a session.
type Status int32

const (
	StatusRunning Status = iota
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Direction names one half of a relayed session.
type Direction int

const (
	ClientToUpstream Direction = iota
	UpstreamToClient
)

// String names the source and sink of d, so errors point at the right side.
func (d Direction) String() string {
	if d == ClientToUpstream {
		return "client->upstream"
	}
	return "upstream->client"
}

// Dialer opens upstream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Session is one client <-> upstream relay. Its conns belong to the worker
// goroutine from start until done is closed.
type Session struct {
	ID     string
	Remote string

	client   net.Conn
	upstream net.Conn
	target   Target

	status  atomic.Int32
	err     error
	started bool
	done    chan struct{}

	startedAt  time.Time
	finishedAt time.Time
	bytes      [2]atomic.Int64
}

func newSession(client net.Conn, target Target) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		client: client,
		target: target,
		done:   make(chan struct{}),
	}
	if addr := client.RemoteAddr(); addr != nil {
		s.Remote = addr.String()
	}
	return s
}

// Status is safe to call from any goroutine.
func (s *Session) Status() Status { return Status(s.status.Load()) }

// Err is the reason for StatusFailed. Only valid once Done is closed.
func (s *Session) Err() error { return s.err }

// Done is closed when the worker goroutine has fully finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Bytes reports how many bytes were relayed in direction d so far.
func (s *Session) Bytes(d Direction) int64 { return s.bytes[d].Load() }

func (s *Session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type worker struct {
	dialer      Dialer
	dialTimeout time.Duration
	bufferSize  int
	observer    Observer
}

type pumpResult struct {
	dir     Direction
	outcome Outcome
}

// run is the session goroutine: dial, relay, close, report.
func (w *worker) run(ctx context.Context, s *Session) {
	s.startedAt = time.Now()
	obs.ActiveSessions.Inc()
	obs.Debug("session.start", obs.Fields{"id": s.ID, "remote": s.Remote, "upstream": s.target.String()})

	err := w.connect(ctx, s)
	if err == nil {
		err = w.relay(ctx, s)
	}
	if cerr := s.closeConns(); cerr != nil {
		err = multierr.Append(err, cerr)
	}

	s.finishedAt = time.Now()
	status := StatusSucceeded
	if err != nil {
		status = StatusFailed
	}
	s.err = err
	obs.ActiveSessions.Dec()
	obs.SessionsTotal.WithLabelValues(status.String()).Inc()
	obs.SessionDuration.Observe(s.finishedAt.Sub(s.startedAt).Seconds())
	if w.observer != nil {
		w.observer.SessionFinished(ctx, s.report(status))
	}

	s.status.Store(int32(status))
	close(s.done)
}

func (w *worker) connect(ctx context.Context, s *Session) error {
	dctx := ctx
	if w.dialTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, w.dialTimeout)
		defer cancel()
	}
	conn, err := w.dialer.DialContext(dctx, s.target.Network, s.target.Address)
	if err != nil {
		obs.ErrorsTotal.WithLabelValues("dial").Inc()
		return fmt.Errorf("dial upstream %s: %w", s.target, err)
	}
	s.upstream = conn
	return nil
}

// relay runs one pump per direction and returns on the first definitive
// outcome from either of them, or on cancellation. Both pumps have exited
// by the time it returns.
func (w *worker) relay(ctx context.Context, s *Session) error {
	results := make(chan pumpResult, 2)
	go w.pump(s, ClientToUpstream, s.upstream, s.client, results)
	go w.pump(s, UpstreamToClient, s.client, s.upstream, results)

	var err error
	pending := 2
	select {
	case r := <-results:
		pending--
		if r.outcome.Kind == Failed {
			err = fmt.Errorf("%s: %w", r.dir, r.outcome.Err)
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	// Unblock whichever pumps are still inside Read or Write.
	if cerr := s.closeConns(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	for ; pending > 0; pending-- {
		<-results
	}
	return err
}

func (w *worker) pump(s *Session, dir Direction, dst, src net.Conn, results chan<- pumpResult) {
	buf := make([]byte, w.bufferSize)
	counter := obs.BytesTotal.WithLabelValues(dir.String())
	for {
		o := Copy(dst, src, buf)
		if o.N > 0 {
			s.bytes[dir].Add(int64(o.N))
			counter.Add(float64(o.N))
		}
		if o.Kind != Transferred {
			results <- pumpResult{dir: dir, outcome: o}
			return
		}
	}
}

// closeConns closes each conn the session still holds exactly once. Both
// closes are always attempted.
func (s *Session) closeConns() error {
	var err error
	if s.client != nil {
		if cerr := s.client.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("close client: %w", cerr))
		}
		s.client = nil
	}
	if s.upstream != nil {
		if cerr := s.upstream.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("close upstream: %w", cerr))
		}
		s.upstream = nil
	}
	return err
}
