package monitoring

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/model"
)

// OperationStats counts the outcomes of one record operation. Failed counts
// internal errors; Rejected counts validation, not-found and conflict errors.
type OperationStats struct {
	Operation string `json:"operation"`
	Total     int64  `json:"total"`
	Failed    int64  `json:"failed"`
	Rejected  int64  `json:"rejected"`
}

// Metrics records operation outcomes on a private Prometheus registry and
// keeps running totals for snapshots.
type Metrics struct {
	registry        *prometheus.Registry
	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	imports         *prometheus.CounterVec
	importedMetrics *prometheus.CounterVec

	mu       sync.Mutex
	counts   map[string]*OperationStats
	imported int64
}

// NewMetrics creates the collectors and registers them with a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "esg_record_operations_total",
			Help: "Record operations by operation, category and outcome.",
		}, []string{"operation", "category", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "esg_record_operation_duration_seconds",
			Help:    "Duration of record operations.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		imports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "esg_imports_total",
			Help: "Successful imports by category and source.",
		}, []string{"category", "source"}),
		importedMetrics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "esg_imported_metrics_total",
			Help: "Metrics written by imports, by category.",
		}, []string{"category"}),
		counts: make(map[string]*OperationStats),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation implements records.Observer.
func (m *Metrics) ObserveOperation(op string, category model.Category, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	m.operations.WithLabelValues(op, string(category), outcome).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.counts[op]
	if !ok {
		st = &OperationStats{Operation: op}
		m.counts[op] = st
	}
	st.Total++
	switch {
	case err == nil:
	case apperr.KindOf(err) == apperr.KindInternal:
		st.Failed++
	default:
		st.Rejected++
	}
}

// ObserveImport implements records.Observer.
func (m *Metrics) ObserveImport(category model.Category, source model.ImportSource, metrics int) {
	m.imports.WithLabelValues(string(category), string(source)).Inc()
	m.importedMetrics.WithLabelValues(string(category)).Add(float64(metrics))

	m.mu.Lock()
	m.imported += int64(metrics)
	m.mu.Unlock()
}

// Operations returns the running totals sorted by operation name.
func (m *Metrics) Operations() []OperationStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OperationStats, 0, len(m.counts))
	for _, st := range m.counts {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// ImportedMetrics returns the number of metrics written by imports.
func (m *Metrics) ImportedMetrics() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.imported
}
