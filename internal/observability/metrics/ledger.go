package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics contains the history ledger metrics.
type LedgerMetrics struct {
	Records      prometheus.Gauge
	Operations   *prometheus.CounterVec
	Purged       prometheus.Counter
	FileRemovals *prometheus.CounterVec
	LoadFailures prometheus.Counter
}

// NewLedgerMetrics creates and registers the ledger metrics.
func NewLedgerMetrics(registry prometheus.Registerer) (*LedgerMetrics, error) {
	m := &LedgerMetrics{
		Records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_records",
			Help: "Number of records currently in the ledger",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and result",
		}, []string{"operation", "status"}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_purged_records_total",
			Help: "Total number of records removed by purge",
		}),
		FileRemovals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_file_removals_total",
			Help: "Media file removals during purge by result",
		}, []string{"result"}),
		LoadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_load_failures_total",
			Help: "Ledger loads that failed and fell back to an empty ledger",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register ledger metrics: %w", err)
	}
	return m, nil
}

// RecordOperation counts one ledger operation.
func (m *LedgerMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Operations.WithLabelValues(operation, status).Inc()
}

// SetRecords updates the current record count.
func (m *LedgerMetrics) SetRecords(n int) {
	if m == nil {
		return
	}
	m.Records.Set(float64(n))
}

// RecordPurge counts the outcome of one purge.
func (m *LedgerMetrics) RecordPurge(records, filesRemoved, fileFailures int) {
	if m == nil {
		return
	}
	m.Purged.Add(float64(records))
	m.FileRemovals.WithLabelValues("removed").Add(float64(filesRemoved))
	m.FileRemovals.WithLabelValues("failed").Add(float64(fileFailures))
}

// RecordLoadFailure counts a ledger load that fell back to empty.
func (m *LedgerMetrics) RecordLoadFailure() {
	if m == nil {
		return
	}
	m.LoadFailures.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *LedgerMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Records.Desc()
	m.Operations.Describe(ch)
	ch <- m.Purged.Desc()
	m.FileRemovals.Describe(ch)
	ch <- m.LoadFailures.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *LedgerMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Records
	m.Operations.Collect(ch)
	ch <- m.Purged
	m.FileRemovals.Collect(ch)
	ch <- m.LoadFailures
}
