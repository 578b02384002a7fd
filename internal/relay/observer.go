package relay

import (
	"context"
	"time"
)

// Report summarizes a finished session for observers.
type Report struct {
	ID         string
	Remote     string
	Upstream   string
	Status     Status
	Err        error
	BytesUp    int64 // client -> upstream
	BytesDown  int64 // upstream -> client
	StartedAt  time.Time
	FinishedAt time.Time
}

// Observer is told about every session a worker finishes. It runs on the
// worker goroutine before the session is marked done, so the final drain of
// Server.Run waits for it.
type Observer interface {
	SessionFinished(ctx context.Context, r Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r Report)

func (f ObserverFunc) SessionFinished(ctx context.Context, r Report) { f(ctx, r) }

func (s *Session) report(status Status) Report {
	return Report{
		ID:         s.ID,
		Remote:     s.Remote,
		Upstream:   s.target.String(),
		Status:     status,
		Err:        s.err,
		BytesUp:    s.Bytes(ClientToUpstream),
		BytesDown:  s.Bytes(UpstreamToClient),
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
}
