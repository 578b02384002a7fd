// Package ledger keeps a record of finished relay sessions.
//
// Three backends exist: an in-memory ring (default), Redis for sharing totals
// between relay instances, and SQLite for a persistent local history.
package ledger

import (
	"context"
	"time"

	"github.com/matst80/relay/internal/obs"
	"github.com/matst80/relay/internal/relay"
)

// Record is one finished session.
type Record struct {
	ID         string    `json:"id"`
	Remote     string    `json:"remote"`
	Upstream   string    `json:"upstream"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	BytesUp    int64     `json:"bytes_up"`
	BytesDown  int64     `json:"bytes_down"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Stats are running totals over every recorded session.
type Stats struct {
	Sessions  int64 `json:"sessions"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	BytesUp   int64 `json:"bytes_up"`
	BytesDown int64 `json:"bytes_down"`
}

func (s *Stats) add(r Record) {
	s.Sessions++
	if r.Status == relay.StatusSucceeded.String() {
		s.Succeeded++
	} else {
		s.Failed++
	}
	s.BytesUp += r.BytesUp
	s.BytesDown += r.BytesDown
}

// Store persists session records. Implementations are safe for concurrent use.
type Store interface {
	Record(ctx context.Context, r Record) error
	Stats(ctx context.Context) (Stats, error)
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// FromReport converts a relay report into a record.
func FromReport(r relay.Report) Record {
	rec := Record{
		ID:         r.ID,
		Remote:     r.Remote,
		Upstream:   r.Upstream,
		Status:     r.Status.String(),
		BytesUp:    r.BytesUp,
		BytesDown:  r.BytesDown,
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// recordTimeout bounds how long a worker waits on a slow backend.
const recordTimeout = 2 * time.Second

// Observer records every finished session into store. Backend errors are
// logged and counted, never propagated into the session result.
func Observer(store Store) relay.Observer {
	return relay.ObserverFunc(func(ctx context.Context, r relay.Report) {
		// The session may have ended because ctx was cancelled; still record it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := store.Record(rctx, FromReport(r)); err != nil {
			obs.Error("ledger.record", obs.Fields{"id": r.ID, "err": err})
			obs.ErrorsTotal.WithLabelValues("ledger").Inc()
		}
	})
}
