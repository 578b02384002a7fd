package relay

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/matst80/relay/internal/obs"
)

// Registry holds sessions that have not been reclaimed yet. It is not safe
// for concurrent use: only the acceptor goroutine touches it.
type Registry struct {
	sessions []*Session
}

// Register adds a freshly accepted session.
func (r *Registry) Register(s *Session) {
	r.sessions = append(r.sessions, s)
	obs.RegistrySessions.Set(float64(len(r.sessions)))
}

// Len returns the number of sessions not yet reclaimed.
func (r *Registry) Len() int { return len(r.sessions) }

// Reclaim releases finished sessions in one pass. Sessions still running are
// skipped unless wait is set, in which case Reclaim blocks until they finish.
// Every session is processed even when earlier ones failed; the result
// combines all failures seen.
func (r *Registry) Reclaim(wait bool) error {
	var err error
	kept := r.sessions[:0]
	reclaimed := 0

	for _, s := range r.sessions {
		if s.started {
			if !wait && !s.finished() {
				kept = append(kept, s)
				continue
			}
			<-s.done
			if s.err != nil {
				err = multierr.Append(err, fmt.Errorf("session %s: %w", s.ID, s.err))
			}
		} else if cerr := s.closeConns(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("session %s: %w", s.ID, cerr))
		}
		reclaimed++
	}

	for i := len(kept); i < len(r.sessions); i++ {
		r.sessions[i] = nil
	}
	r.sessions = kept

	obs.ReclaimedTotal.Add(float64(reclaimed))
	obs.RegistrySessions.Set(float64(len(r.sessions)))
	if reclaimed > 0 {
		obs.Debug("reclaim.pass", obs.Fields{"wait": wait, "reclaimed": reclaimed, "remaining": len(r.sessions)})
	}
	return err
}
