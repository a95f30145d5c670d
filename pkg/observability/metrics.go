package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeDropped = "dropped"
)

// Metrics groups the orchestrator collectors.
type Metrics struct {
	actions         *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	queueRejected   prometheus.Counter
	workersActive   prometheus.Gauge
	persistence     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is handy in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapestry_actions_total",
				Help: "Total number of processed actions",
			},
			[]string{"kind", "outcome"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tapestry_backend_duration_seconds",
				Help:    "Duration of generation backend calls",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
			},
			[]string{"outcome"},
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tapestry_queue_depth",
			Help: "Pending actions across all session queues",
		}),
		queueRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tapestry_queue_rejected_total",
			Help: "Actions rejected because a session queue was full",
		}),
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tapestry_workers_active",
			Help: "Number of running session workers",
		}),
		persistence: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapestry_persistence_ops_total",
				Help: "Session store operations",
			},
			[]string{"op", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.actions, m.backendDuration, m.queueDepth, m.queueRejected, m.workersActive, m.persistence)
	}
	return m
}

// ObserveAction counts one processed action.
func (m *Metrics) ObserveAction(kind, outcome string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind, outcome).Inc()
}

// ObserveBackend records the latency of one generation call.
func (m *Metrics) ObserveBackend(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// QueueEnqueued and QueueDequeued track the aggregate queue depth.
func (m *Metrics) QueueEnqueued() {
	if m == nil {
		return
	}
	m.queueDepth.Inc()
}

func (m *Metrics) QueueDequeued() {
	if m == nil {
		return
	}
	m.queueDepth.Dec()
}

// QueueRejected counts an action refused by a full queue.
func (m *Metrics) QueueRejected() {
	if m == nil {
		return
	}
	m.queueRejected.Inc()
}

// WorkerStarted and WorkerStopped track live workers.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.workersActive.Inc()
}

func (m *Metrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.workersActive.Dec()
}

// ObservePersistence counts one store operation.
func (m *Metrics) ObservePersistence(op string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.persistence.WithLabelValues(op, outcome).Inc()
}
