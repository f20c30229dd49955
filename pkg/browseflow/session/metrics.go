package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "browseflow"

// Metrics exports session registry metrics to Prometheus.
// A nil *Metrics records nothing.
type Metrics struct {
	active   prometheus.Gauge
	handles  *prometheus.CounterVec
	actions  *prometheus.CounterVec
	lockWait prometheus.Histogram
}

// NewMetrics creates the session metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open browser sessions",
		}),
		handles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_handles_created_total",
			Help:      "Session handle creations by result",
		}, []string{"status"}), // status: success, error
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_actions_total",
			Help:      "Work items run under a session lock by result",
		}, []string{"status"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_lock_wait_seconds",
			Help:      "Time spent waiting for a session lock",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}),
	}
	reg.MustRegister(m.active, m.handles, m.actions, m.lockWait)
	return m
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.active.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.active.Dec()
	}
}

func (m *Metrics) handleCreated(ok bool) {
	if m != nil {
		m.handles.WithLabelValues(status(ok)).Inc()
	}
}

func (m *Metrics) actionDone(ok bool) {
	if m != nil {
		m.actions.WithLabelValues(status(ok)).Inc()
	}
}

func (m *Metrics) lockWaited(d time.Duration) {
	if m != nil {
		m.lockWait.Observe(d.Seconds())
	}
}
