package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Broadcast metrics
	EventsBroadcast  *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec

	// Ingest metrics
	ScreenshotsDetected prometheus.Counter
	IngestDuration      prometheus.Histogram
	IngestErrors        *prometheus.CounterVec
}

// InitMetrics registers the metrics with the given registerer. The viewer
// gauge reads its value from the broadcaster on every scrape.
func InitMetrics(reg prometheus.Registerer, broadcaster *Broadcaster) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		// Events by type (counter - only goes up)
		EventsBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartshot_events_broadcast_total",
			Help: "Total number of events broadcast to viewers by type",
		}, []string{"type"}),

		DeliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartshot_delivery_failures_total",
			Help: "Total number of failed deliveries to a single viewer by reason",
		}, []string{"reason"}),

		ScreenshotsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "smartshot_screenshots_detected_total",
			Help: "Total number of screenshot files detected and recorded",
		}),

		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartshot_ingest_duration_seconds",
			Help:    "Time from file detection to broadcast in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		IngestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartshot_ingest_errors_total",
			Help: "Total number of files that could not be ingested by stage",
		}, []string{"stage"}),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "smartshot_viewer_connections_current",
			Help: "Current number of connected viewers (from the broadcaster)",
		},
		func() float64 {
			if broadcaster != nil {
				return float64(broadcaster.Count())
			}
			return 0
		},
	)

	return metrics
}

// RecordBroadcast records one event fanned out to viewers
func (m *Metrics) RecordBroadcast(eventType string) {
	if m == nil {
		return
	}
	m.EventsBroadcast.WithLabelValues(eventType).Inc()
}

// RecordDeliveryFailure records a failed delivery to one viewer
func (m *Metrics) RecordDeliveryFailure(reason string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(reason).Inc()
}

// RecordDetected records a screenshot that made it into the store
func (m *Metrics) RecordDetected(seconds float64) {
	if m == nil {
		return
	}
	m.ScreenshotsDetected.Inc()
	m.IngestDuration.Observe(seconds)
}

// RecordIngestError records a file that failed at the given stage
func (m *Metrics) RecordIngestError(stage string) {
	if m == nil {
		return
	}
	m.IngestErrors.WithLabelValues(stage).Inc()
}
