package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics contains the event publisher metrics.
type EventMetrics struct {
	Published      *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
	MessageSize    prometheus.Histogram
}

// NewEventMetrics creates and registers the event metrics.
func NewEventMetrics(registry prometheus.Registerer) (*EventMetrics, error) {
	m := &EventMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Analysis events published by sink and result",
		}, []string{"sink", "status"}),
		PublishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "events_publish_latency_seconds",
			Help:    "Latency of publish operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"sink"}),
		MessageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "events_message_size_bytes",
			Help:    "Size of published event payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register event metrics: %w", err)
	}
	return m, nil
}

// RecordPublish counts one publish attempt on sink.
func (m *EventMetrics) RecordPublish(sink string, d time.Duration, size int, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Published.WithLabelValues(sink, status).Inc()
	m.PublishLatency.WithLabelValues(sink).Observe(d.Seconds())
	if err == nil {
		m.MessageSize.Observe(float64(size))
	}
}

// Describe implements the prometheus.Collector interface.
func (m *EventMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Published.Describe(ch)
	m.PublishLatency.Describe(ch)
	ch <- m.MessageSize.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *EventMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Published.Collect(ch)
	m.PublishLatency.Collect(ch)
	ch <- m.MessageSize
}
