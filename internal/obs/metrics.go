package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions   = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_sessions_active", Help: "Session workers currently running"})
	RegistrySessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_registry_sessions", Help: "Sessions registered and not yet reclaimed"})
	SessionsTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_sessions_total", Help: "Finished sessions by terminal status"}, []string{"status"})
	BytesTotal       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_bytes_total", Help: "Bytes relayed by direction"}, []string{"direction"})
	ReclaimedTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_reclaimed_total", Help: "Sessions released by the registry"})
	ErrorsTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_errors_total", Help: "Errors by type"}, []string{"type"})
	SessionDuration  = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.001, 2, 18)})
)
