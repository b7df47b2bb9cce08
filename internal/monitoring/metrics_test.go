package monitoring

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/model"
	"github.com/sells-group/esg-data/internal/records"
)

var _ records.Observer = (*Metrics)(nil)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Exposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveOperation("create", "carbon", 20*time.Millisecond, nil)
	m.ObserveOperation("restore", "carbon", time.Millisecond,
		apperr.NotFound(apperr.CodeVersionNotFound, "missing"))
	m.ObserveOperation("upsert_metric", "water", time.Millisecond, errors.New("boom"))
	m.ObserveImport("carbon", model.ImportSourceExcel, 3)

	body := scrape(t, m)
	assert.Contains(t, body, `esg_record_operations_total{category="carbon",operation="create",outcome="success"} 1`)
	assert.Contains(t, body, `esg_record_operations_total{category="carbon",operation="restore",outcome="not_found"} 1`)
	assert.Contains(t, body, `esg_record_operations_total{category="water",operation="upsert_metric",outcome="internal"} 1`)
	assert.Contains(t, body, `esg_record_operation_duration_seconds_count{operation="create"} 1`)
	assert.Contains(t, body, `esg_imports_total{category="carbon",source="excel"} 1`)
	assert.Contains(t, body, `esg_imported_metrics_total{category="carbon"} 3`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.ObserveOperation("create", "carbon", time.Millisecond, nil)

	assert.Len(t, a.Operations(), 1)
	assert.Empty(t, b.Operations())
	assert.NotSame(t, a.Registry(), b.Registry())
}
