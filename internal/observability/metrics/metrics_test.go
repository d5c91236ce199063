package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(reg)
	require.NoError(t, err)

	m.RecordAnalysis("image", "success", 120*time.Millisecond)
	m.RecordDetection("smoke", true)
	m.RecordDetection("smoke", true)
	m.RecordDetection("car", false)
	m.RecordOCR(OCRAccepted)
	m.RecordFrame(true)
	m.RecordFrame(false)
	m.RecordEvidenceFrame()

	assert.InDelta(t, 1, testutil.ToFloat64(m.Analyses.WithLabelValues("image", "success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Detections.WithLabelValues("smoke", "true")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Detections.WithLabelValues("car", "false")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.OCRResults.WithLabelValues(OCRAccepted)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.FramesRead), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FramesAnalyzed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EvidenceFrames), 0)
}

func TestPipelineMetrics_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPipelineMetrics(reg)
	require.NoError(t, err)
	_, err = NewPipelineMetrics(reg)
	require.Error(t, err)
}

func TestLedgerMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewLedgerMetrics(reg)
	require.NoError(t, err)

	m.SetRecords(4)
	m.RecordOperation("append", nil)
	m.RecordOperation("append", errors.New("dup"))
	m.RecordPurge(2, 5, 1)
	m.RecordLoadFailure()

	assert.InDelta(t, 4, testutil.ToFloat64(m.Records), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Operations.WithLabelValues("append", "error")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Purged), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.FileRemovals.WithLabelValues("removed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FileRemovals.WithLabelValues("failed")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "ledger_load_failures_total" {
			found = f
		}
	}
	require.NotNil(t, found)
	assert.InDelta(t, 1, found.GetMetric()[0].GetCounter().GetValue(), 0)
}

func TestEventMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewEventMetrics(reg)
	require.NoError(t, err)

	m.RecordPublish("mqtt", time.Millisecond, 256, nil)
	m.RecordPublish("nats", time.Millisecond, 256, errors.New("no responders"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Published.WithLabelValues("mqtt", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Published.WithLabelValues("nats", "error")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.MessageSize))
}

func TestNilReceiversAreNoOps(t *testing.T) {
	t.Parallel()

	var p *PipelineMetrics
	var l *LedgerMetrics
	var e *EventMetrics

	assert.NotPanics(t, func() {
		p.RecordAnalysis("video", "failed", time.Second)
		p.RecordDetection("car", false)
		p.RecordOCR(OCRError)
		p.RecordFrame(true)
		p.RecordEvidenceFrame()
		l.SetRecords(1)
		l.RecordOperation("purge", nil)
		l.RecordPurge(1, 1, 0)
		l.RecordLoadFailure()
		e.RecordPublish("mqtt", 0, 0, nil)
	})
}
