package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-data/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Store contents.
	Records       int64                 `json:"records"`
	ActiveRecords int64                 `json:"active_records"`
	Companies     int64                 `json:"companies"`
	Categories    []store.CategoryStats `json:"categories"`

	// Operation outcomes since process start, or since the previous
	// snapshot when produced by Since.
	Operations         []OperationStats `json:"operations"`
	OperationsTotal    int64            `json:"operations_total"`
	OperationsFailed   int64            `json:"operations_failed"`
	OperationsRejected int64            `json:"operations_rejected"`
	FailureRate        float64          `json:"failure_rate"`
	ImportedMetrics    int64            `json:"imported_metrics"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store and the in-process counters.
type Collector struct {
	store   store.Store
	metrics *Metrics
}

// NewCollector creates a new metrics collector. metrics may be nil.
func NewCollector(st store.Store, metrics *Metrics) *Collector {
	return &Collector{store: st, metrics: metrics}
}

// Collect gathers a snapshot of system metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		CollectedAt: time.Now().UTC(),
		Operations:  []OperationStats{},
	}

	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: store stats")
	}
	snap.Records = stats.Records
	snap.ActiveRecords = stats.ActiveRecords
	snap.Companies = stats.Companies
	snap.Categories = stats.Categories

	if c.metrics != nil {
		snap.Operations = c.metrics.Operations()
		snap.ImportedMetrics = c.metrics.ImportedMetrics()
	}
	snap.totals()
	return snap, nil
}

func (s *MetricsSnapshot) totals() {
	s.OperationsTotal, s.OperationsFailed, s.OperationsRejected = 0, 0, 0
	for _, op := range s.Operations {
		s.OperationsTotal += op.Total
		s.OperationsFailed += op.Failed
		s.OperationsRejected += op.Rejected
	}
	s.FailureRate = 0
	if s.OperationsTotal > 0 {
		s.FailureRate = float64(s.OperationsFailed) / float64(s.OperationsTotal)
	}
}

// Since returns a copy of s whose operation counts cover only the interval
// after prev. A nil prev returns s unchanged.
func (s *MetricsSnapshot) Since(prev *MetricsSnapshot) *MetricsSnapshot {
	out := *s
	if prev == nil {
		return &out
	}
	before := make(map[string]OperationStats, len(prev.Operations))
	for _, op := range prev.Operations {
		before[op.Operation] = op
	}
	out.Operations = make([]OperationStats, 0, len(s.Operations))
	for _, op := range s.Operations {
		p := before[op.Operation]
		op.Total -= p.Total
		op.Failed -= p.Failed
		op.Rejected -= p.Rejected
		out.Operations = append(out.Operations, op)
	}
	out.ImportedMetrics -= prev.ImportedMetrics
	out.totals()
	return &out
}
