package studio

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the recorder's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	FramesComposited prometheus.Counter
	FramesSkipped    *prometheus.CounterVec // by source kind
	DrawErrors       *prometheus.CounterVec // by source kind
	ChunksWritten    *prometheus.CounterVec // by sink mode
	BytesWritten     *prometheus.CounterVec // by sink mode
	SessionsStarted  prometheus.Counter
	SessionsFailed   prometheus.Counter
	Recording        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesComposited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "compositor",
			Name:      "frames_total",
			Help:      "Canvas frames composited.",
		}),
		FramesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "compositor",
			Name:      "skipped_draws_total",
			Help:      "Cells skipped because no decoded frame was ready.",
		}, []string{"kind"}),
		DrawErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "compositor",
			Name:      "draw_errors_total",
			Help:      "Per-source draw failures.",
		}, []string{"kind"}),
		ChunksWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "recorder",
			Name:      "chunks_total",
			Help:      "Encoded chunks handed to the sink.",
		}, []string{"mode"}),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "recorder",
			Name:      "bytes_total",
			Help:      "Encoded bytes handed to the sink.",
		}, []string{"mode"}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "recorder",
			Name:      "sessions_started_total",
			Help:      "Recording sessions that reached the active state.",
		}),
		SessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "recorder",
			Name:      "sessions_failed_total",
			Help:      "Recording sessions that failed to start or were force-stopped.",
		}),
		Recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "studio",
			Subsystem: "recorder",
			Name:      "active",
			Help:      "1 while a recording session is active.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FramesComposited, m.FramesSkipped, m.DrawErrors,
			m.ChunksWritten, m.BytesWritten,
			m.SessionsStarted, m.SessionsFailed, m.Recording,
		)
	}
	return m
}

func (m *Metrics) frameComposited() {
	if m != nil {
		m.FramesComposited.Inc()
	}
}

func (m *Metrics) drawSkipped(kind SourceKind) {
	if m != nil {
		m.FramesSkipped.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) drawFailed(kind SourceKind) {
	if m != nil {
		m.DrawErrors.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) chunkWritten(mode SinkMode, n int) {
	if m != nil {
		m.ChunksWritten.WithLabelValues(mode.String()).Inc()
		m.BytesWritten.WithLabelValues(mode.String()).Add(float64(n))
	}
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
		m.Recording.Set(1)
	}
}

func (m *Metrics) sessionEnded(failed bool) {
	if m != nil {
		if failed {
			m.SessionsFailed.Inc()
		}
		m.Recording.Set(0)
	}
}

func (m *Metrics) sessionFailedToStart() {
	if m != nil {
		m.SessionsFailed.Inc()
	}
}
