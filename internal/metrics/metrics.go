// Package metrics registers the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the pipeline updates.
type Metrics struct {
	EventsReceived    prometheus.Counter
	EventsDeduped     prometheus.Counter
	UploadsCompleted  prometheus.Counter
	UploadsFailed     prometheus.Counter
	ValidationRejects prometheus.Counter
	Classifications   *prometheus.CounterVec
	FeedbackRecorded  *prometheus.CounterVec
}

// New registers all instruments on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stashbot",
			Name:      "events_received_total",
			Help:      "File-shared events accepted by the intake boundary.",
		}),
		EventsDeduped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stashbot",
			Name:      "events_deduplicated_total",
			Help:      "Events dropped as redeliveries inside the dedup window.",
		}),
		UploadsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stashbot",
			Name:      "uploads_completed_total",
			Help:      "Uploads that reached the completed status.",
		}),
		UploadsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stashbot",
			Name:      "uploads_failed_total",
			Help:      "Uploads that exhausted retries or failed validation.",
		}),
		ValidationRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stashbot",
			Name:      "validation_rejects_total",
			Help:      "Events rejected before entering the task queue.",
		}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stashbot",
			Name:      "classifications_total",
			Help:      "Classification outcomes by category and method.",
		}, []string{"category", "method"}),
		FeedbackRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stashbot",
			Name:      "feedback_total",
			Help:      "Operator feedback rows by feedback type.",
		}, []string{"type"}),
	}
}

// RegisterQueueGauges exposes live pool depth and running-count readings.
func RegisterQueueGauges(reg prometheus.Registerer, queued, running func() int) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "stashbot",
		Name:      "queue_depth",
		Help:      "Jobs waiting for a worker slot.",
	}, func() float64 { return float64(queued()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "stashbot",
		Name:      "queue_running",
		Help:      "Jobs currently executing.",
	}, func() float64 { return float64(running()) })
}
