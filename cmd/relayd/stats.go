package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/matst80/relay/internal/ledger"
	"github.com/matst80/relay/internal/ratelimit"
)

// statsRecent bounds the recent sessions returned by /api/stats.
const statsRecent = 20

type daemonState struct {
	store   ledger.Store
	limiter *ratelimit.Limiter // nil when admission control is off
	ready   atomic.Bool
}

// Stats represents the relay's history for the stats API.
type Stats struct {
	Totals  ledger.Stats    `json:"totals"`
	Recent  []ledger.Record `json:"recent"`
	Sources int             `json:"limiter_sources"`
	Now     string          `json:"now"`
}

func collectStats(ctx context.Context, s *daemonState) (Stats, error) {
	totals, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	recent, err := s.store.Recent(ctx, statsRecent)
	if err != nil {
		return Stats{}, err
	}
	if recent == nil {
		recent = []ledger.Record{}
	}
	st := Stats{Totals: totals, Recent: recent, Now: time.Now().UTC().Format(time.RFC3339)}
	if s.limiter != nil {
		st.Sources = s.limiter.Sources()
	}
	return st, nil
}
