// Package metrics exposes Prometheus instrumentation for sessions and tabs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsSpawned *prometheus.CounterVec
	SpawnFailures   prometheus.Counter
	SessionExits    *prometheus.CounterVec
	BytesRead       prometheus.Counter

	// Layout metrics
	TabsOpen prometheus.Gauge

	// Persistence metrics
	SessionsSaved    prometheus.Counter
	SessionsRestored prometheus.Counter
}

// New registers the metrics on reg. A nil reg uses a private registry so
// several instances can coexist in one process.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "tabmux_sessions_active",
			Help: "Number of live PTY sessions",
		}),
		SessionsSpawned: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabmux_sessions_spawned_total",
				Help: "Total number of PTY sessions spawned",
			},
			[]string{"kind"},
		),
		SpawnFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tabmux_spawn_failures_total",
			Help: "Total number of failed spawns",
		}),
		SessionExits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabmux_session_exits_total",
				Help: "Total number of sessions that terminated",
			},
			[]string{"state"},
		),
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "tabmux_pty_bytes_read_total",
			Help: "Total bytes read from PTY masters",
		}),
		TabsOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "tabmux_tabs_open",
			Help: "Number of open tabs",
		}),
		SessionsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "tabmux_sessions_saved_total",
			Help: "Total number of session state saves",
		}),
		SessionsRestored: f.NewCounter(prometheus.CounterOpts{
			Name: "tabmux_sessions_restored_total",
			Help: "Total number of sessions re-spawned from saved state",
		}),
	}
}

// Spawn kinds.
const (
	KindLocal    = "local"
	KindSSH      = "ssh"
	KindRestored = "restored"
)
