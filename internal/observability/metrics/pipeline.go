// Package metrics provides the Prometheus collectors for the EcoScout components.
//
// Every Record/Observe method is safe on a nil receiver so components can run
// without metrics in tests and one-shot CLI commands.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OCR outcome label values.
const (
	OCRAccepted = "accepted"
	OCRRejected = "rejected"
	OCRError    = "error"
	OCRSkipped  = "skipped" // empty crop, recognition not attempted
)

// PipelineMetrics contains the detection pipeline and video sampler metrics.
type PipelineMetrics struct {
	Analyses         *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	Detections       *prometheus.CounterVec
	OCRResults       *prometheus.CounterVec
	FramesRead       prometheus.Counter
	FramesAnalyzed   prometheus.Counter
	EvidenceFrames   prometheus.Counter
}

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.Analyses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "analyses_total",
		Help: "Total number of processed uploads by media kind and status",
	}, []string{"media", "status"})

	m.AnalysisDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "analysis_duration_seconds",
		Help:    "End-to-end processing time of an upload",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"media"})

	m.Detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detections_total",
		Help: "Total number of detected objects by label",
	}, []string{"label", "violation"})

	m.OCRResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_results_total",
		Help: "Plate recognition outcomes",
	}, []string{"outcome"})

	m.FramesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "video_frames_read_total",
		Help: "Total number of video frames consumed",
	})

	m.FramesAnalyzed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "video_frames_analyzed_total",
		Help: "Total number of sampled video frames run through the pipeline",
	})

	m.EvidenceFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "video_evidence_frames_total",
		Help: "Total number of evidence frames written",
	})
}

// RecordAnalysis counts one processed upload and observes its duration.
func (m *PipelineMetrics) RecordAnalysis(media, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Analyses.WithLabelValues(media, status).Inc()
	m.AnalysisDuration.WithLabelValues(media).Observe(d.Seconds())
}

// RecordDetection counts one detected object.
func (m *PipelineMetrics) RecordDetection(label string, violation bool) {
	if m == nil {
		return
	}
	m.Detections.WithLabelValues(label, strconv.FormatBool(violation)).Inc()
}

// RecordOCR counts one plate recognition outcome.
func (m *PipelineMetrics) RecordOCR(outcome string) {
	if m == nil {
		return
	}
	m.OCRResults.WithLabelValues(outcome).Inc()
}

// RecordFrame counts one consumed video frame.
func (m *PipelineMetrics) RecordFrame(analyzed bool) {
	if m == nil {
		return
	}
	m.FramesRead.Inc()
	if analyzed {
		m.FramesAnalyzed.Inc()
	}
}

// RecordEvidenceFrame counts one written evidence frame.
func (m *PipelineMetrics) RecordEvidenceFrame() {
	if m == nil {
		return
	}
	m.EvidenceFrames.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Analyses.Describe(ch)
	m.AnalysisDuration.Describe(ch)
	m.Detections.Describe(ch)
	m.OCRResults.Describe(ch)
	ch <- m.FramesRead.Desc()
	ch <- m.FramesAnalyzed.Desc()
	ch <- m.EvidenceFrames.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Analyses.Collect(ch)
	m.AnalysisDuration.Collect(ch)
	m.Detections.Collect(ch)
	m.OCRResults.Collect(ch)
	ch <- m.FramesRead
	ch <- m.FramesAnalyzed
	ch <- m.EvidenceFrames
}
