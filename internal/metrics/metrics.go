// Package metrics exposes playback counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bot's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	TracksStarted   prometheus.Counter
	StreamFailures  prometheus.Counter
	ResolveFailures *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TracksStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ytdlbot_tracks_started_total",
				Help: "Total number of tracks that started playing",
			},
		),
		StreamFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ytdlbot_stream_failures_total",
				Help: "Total number of tracks skipped because the download stream failed to open",
			},
		),
		ResolveFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytdlbot_resolve_failures_total",
				Help: "Total number of failed metadata lookups",
			},
			[]string{"reason"},
		),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytdlbot_commands_total",
				Help: "Total number of slash commands handled",
			},
			[]string{"command", "outcome"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ytdlbot_active_sessions",
				Help: "Number of guilds with a playback session",
			},
		),
	}

	reg.MustRegister(
		m.TracksStarted,
		m.StreamFailures,
		m.ResolveFailures,
		m.Commands,
		m.ActiveSessions,
	)
	return m
}

func (m *Metrics) RecordTrackStarted() {
	if m == nil {
		return
	}
	m.TracksStarted.Inc()
}

func (m *Metrics) RecordStreamFailure() {
	if m == nil {
		return
	}
	m.StreamFailures.Inc()
}

func (m *Metrics) RecordResolveFailure(reason string) {
	if m == nil {
		return
	}
	m.ResolveFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordCommand(command, outcome string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
