package records

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/blob"
	"github.com/sells-group/esg-data/internal/catalog"
	"github.com/sells-group/esg-data/internal/model"
	"github.com/sells-group/esg-data/internal/store"
)

const irrigationCSV = "Year,Total Irrigation Water (million ML)\n2022,185\n2023,\"1,200\"\n"

var (
	irrigationKey = model.RecordKey{CompanyID: "c-1", Category: "irrigation"}
	riskKey       = model.RecordKey{CompanyID: "c-1", Category: "overall_esg"}
)

type fakeObserver struct {
	mu      sync.Mutex
	ops     map[string]int
	failed  map[string]int
	imports int
}

func (o *fakeObserver) ObserveOperation(op string, _ model.Category, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops[op]++
	if err != nil {
		o.failed[op]++
	}
}

func (o *fakeObserver) ObserveImport(model.Category, model.ImportSource, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.imports++
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cat, err := catalog.LoadDefault()
	require.NoError(t, err)
	return New(st, cat, opts...), st
}

func singleMetric(category, name, value string) model.Metric {
	return model.Metric{
		Category:   category,
		MetricName: name,
		Payload:    &model.SingleValue{Value: value, Source: "survey"},
	}
}

func createRecord(t *testing.T, svc *Service, key model.RecordKey, name string) *model.Record {
	t.Helper()
	rec, err := svc.CreateRecord(context.Background(), key, CreateInput{
		Metrics: []model.Metric{singleMetric("other", name, "1")},
	}, "u-1")
	require.NoError(t, err)
	return rec
}

func requireCode(t *testing.T, err error, kind apperr.Kind, code string) {
	t.Helper()
	require.Error(t, err)
	de, ok := apperr.As(err)
	require.True(t, ok, "expected domain error, got %v", err)
	assert.Equal(t, kind, de.Kind)
	assert.Equal(t, code, de.Code)
}

func TestImportFile_IrrigationScenario(t *testing.T) {
	obs := &fakeObserver{ops: map[string]int{}, failed: map[string]int{}}
	svc, _ := newTestService(t, WithObserver(obs))

	res, err := svc.ImportFile(context.Background(), irrigationKey, []byte(irrigationCSV), "irrigation.csv", "u-1", model.RecordMetadata{})
	require.NoError(t, err)

	rec := res.Record
	assert.Equal(t, 1, rec.Version)
	assert.True(t, rec.IsActive)
	assert.Empty(t, rec.PreviousVersion)
	assert.Equal(t, model.ImportSourceCSV, rec.ImportSource)
	assert.Equal(t, "irrigation.csv", rec.SourceFileName)
	assert.Regexp(t, regexp.MustCompile(`^csv_import_\d+_[0-9a-f]{9}$`), rec.ImportBatchID)
	require.NotNil(t, rec.ImportDate)
	assert.Equal(t, "u-1", rec.CreatedBy)

	require.Len(t, rec.Metrics, 1)
	m := rec.Metrics[0]
	assert.Equal(t, "irrigation_water", m.Category)
	series := m.Payload.(model.YearlySeries)
	require.Len(t, series, 2)
	assert.InDelta(t, 185, *series[0].NumericValue, 0.0001)
	assert.InDelta(t, 1200, *series[1].NumericValue, 0.0001)
	assert.Equal(t, "u-1", series[0].AddedBy)
	assert.Equal(t, "irrigation.csv", series[0].Source)

	assert.InDelta(t, 1, rec.SummaryStats["total_metrics"], 0.001)
	assert.InDelta(t, 1, rec.SummaryStats["yearly_series_metrics"], 0.001)
	assert.InDelta(t, 1200, rec.SummaryStats["water_use_total"], 0.001)
	assert.InDelta(t, 692.5, rec.SummaryStats["water_use_average"], 0.001)
	assert.InDelta(t, 0, rec.SummaryStats["efficiency_total"], 0.001)

	got, err := svc.GetActive(context.Background(), irrigationKey, false)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	assert.Equal(t, 1, obs.ops["import_file"])
	assert.Equal(t, 1, obs.imports)
}

func TestImportFile_TwoImportsChain(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	first, err := svc.ImportFile(ctx, irrigationKey, []byte(irrigationCSV), "a.csv", "u-1", model.RecordMetadata{})
	require.NoError(t, err)
	second, err := svc.ImportFile(ctx, irrigationKey, []byte(irrigationCSV), "b.csv", "u-2", model.RecordMetadata{OriginalSource: "annual report"})
	require.NoError(t, err)

	assert.Equal(t, 2, second.Record.Version)
	assert.Equal(t, first.Record.ID, second.Record.PreviousVersion)
	assert.Equal(t, "annual report", second.Record.Metrics[0].Payload.(model.YearlySeries)[0].Source)

	old, err := st.GetRecord(ctx, first.Record.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	versions, err := svc.ListVersions(ctx, irrigationKey, 10, 0)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, 1, versions[1].Version)
}

func TestImportFile_RejectsExtensionBeforeWrite(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ImportFile(ctx, irrigationKey, []byte(irrigationCSV), "data.txt", "u-1", model.RecordMetadata{})
	requireCode(t, err, apperr.KindValidation, apperr.CodeUnsupportedFile)

	_, err = svc.ImportFile(ctx, irrigationKey, nil, "data.csv", "u-1", model.RecordMetadata{})
	requireCode(t, err, apperr.KindValidation, apperr.CodeEmptyFile)

	versions, err := svc.ListVersions(ctx, irrigationKey, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestImportFile_ArchivesUpload(t *testing.T) {
	archive, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	svc, _ := newTestService(t, WithArchive(archive))

	res, err := svc.ImportFile(context.Background(), irrigationKey, []byte(irrigationCSV), "irrigation.csv", "u-1", model.RecordMetadata{})
	require.NoError(t, err)

	require.NotEmpty(t, res.Record.SourceFileKey)
	assert.Contains(t, res.Record.SourceFileKey, res.Record.ImportBatchID)
	data, err := archive.Get(context.Background(), res.Record.SourceFileKey)
	require.NoError(t, err)
	assert.Equal(t, irrigationCSV, string(data))
}

func TestImportFile_JSONRouted(t *testing.T) {
	svc, _ := newTestService(t)
	payload := `{"metrics":[{"category":"risk","metric_name":"Key Risks","list_data":[{"item":"drought"}]}]}`

	res, err := svc.ImportFile(context.Background(), riskKey, []byte(payload), "risks.json", "u-1", model.RecordMetadata{})
	require.NoError(t, err)
	assert.Equal(t, model.ImportSourceJSON, res.Record.ImportSource)
	assert.Regexp(t, `^json_import_`, res.Record.ImportBatchID)
	assert.Equal(t, "risks.json", res.Record.SourceFileName)
}

func TestImportJSON_StampsActor(t *testing.T) {
	svc, _ := newTestService(t)
	payload := `{
		"metrics": [
			{"category":"risk","metric_name":"Key Risks","list_data":[{"item":"drought","added_by":"analyst"},{"item":"frost"}]},
			{"category":"other","metric_name":"Overview","summary_value":{"text":"stable"}}
		],
		"metadata": {"period_start": "2023-01-01"}
	}`

	res, err := svc.ImportJSON(context.Background(), riskKey, []byte(payload), "u-9", model.RecordMetadata{Notes: "from api"})
	require.NoError(t, err)

	rec := res.Record
	assert.Equal(t, "2023-01-01", rec.Metadata.PeriodStart)
	assert.Equal(t, "from api", rec.Metadata.Notes)
	items := rec.Metrics[0].Payload.(model.ListData)
	assert.Equal(t, "analyst", items[0].AddedBy)
	assert.Equal(t, "u-9", items[1].AddedBy)
	assert.Equal(t, "u-9", rec.Metrics[1].Payload.(*model.SummaryValue).AddedBy)
	assert.Equal(t, "u-9", rec.Metrics[1].CreatedBy)
	assert.InDelta(t, 1, rec.SummaryStats["list_metrics"], 0.001)
}

func TestImportJSON_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload string
		kind    apperr.Kind
		code    string
	}{
		{"missing metrics", `{"metadata":{}}`, apperr.KindValidation, apperr.CodeMissingMetrics},
		{"metrics not array", `{"metrics":{"a":1}}`, apperr.KindValidation, apperr.CodeMissingMetrics},
		{"bad category", `{"metrics":[{"category":"nope","metric_name":"X","list_data":[]}]}`, apperr.KindValidation, apperr.CodeInvalidCategory},
		{"bad data type", `{"metrics":[{"category":"risk","metric_name":"X","data_type":"matrix"}]}`, apperr.KindValidation, apperr.CodeInvalidDataType},
		{"not json", `{`, apperr.KindValidation, apperr.CodeValidation},
		{"duplicate metric id", `{"metrics":[{"id":"m-1","category":"risk","metric_name":"A","list_data":[]},{"id":"m-1","category":"risk","metric_name":"B","list_data":[]}]}`, apperr.KindValidation, apperr.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ImportJSON(ctx, riskKey, []byte(tt.payload), "u-1", model.RecordMetadata{})
			requireCode(t, err, tt.kind, tt.code)
		})
	}

	_, err := svc.GetActive(ctx, riskKey, false)
	requireCode(t, err, apperr.KindNotFound, apperr.CodeRecordNotFound)
}

func TestCreateRecord_Guards(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	in := CreateInput{Metrics: []model.Metric{singleMetric("other", "x", "1")}}

	_, err := svc.CreateRecord(ctx, irrigationKey, in, " ")
	requireCode(t, err, apperr.KindValidation, apperr.CodeMissingActor)

	_, err = svc.CreateRecord(ctx, model.RecordKey{CompanyID: "c-1", Category: "oceans"}, in, "u-1")
	requireCode(t, err, apperr.KindNotFound, apperr.CodeUnknownCategory)

	_, err = svc.CreateRecord(ctx, model.RecordKey{Category: "irrigation"}, in, "u-1")
	requireCode(t, err, apperr.KindValidation, apperr.CodeValidation)

	_, err = svc.CreateRecord(ctx, irrigationKey, CreateInput{}, "u-1")
	requireCode(t, err, apperr.KindValidation, apperr.CodeMissingMetrics)
}

func TestCreateRecord_OneActiveAfterConcurrentCreates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateRecord(ctx, irrigationKey, CreateInput{
				Metrics: []model.Metric{singleMetric("other", "x", "1")},
			}, "u-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	versions, err := svc.ListVersions(ctx, irrigationKey, 0, 0)
	require.NoError(t, err)
	require.Len(t, versions, n)
	active := 0
	for _, v := range versions {
		if v.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, n, versions[0].Version)
	assert.True(t, versions[0].IsActive)
}

func TestUpsertMetric_ListOnEmptyCompanyCreatesFirstVersion(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.UpsertMetric(context.Background(), riskKey, model.Metric{
		Category:   "risk",
		MetricName: "Key Risks",
		Payload:    model.ListData{{Item: "drought"}},
	}, "u-1")
	require.NoError(t, err)

	assert.Equal(t, 1, rec.Version)
	assert.True(t, rec.IsActive)
	assert.Equal(t, model.ImportSourceAPI, rec.ImportSource)
	require.Len(t, rec.Metrics, 1)
	m := rec.Metrics[0]
	assert.True(t, m.IsActive)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "u-1", m.CreatedBy)
	assert.Equal(t, "u-1", m.Payload.(model.ListData)[0].AddedBy)
}

func TestUpsertMetric_MergesAndPreservesCreator(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.UpsertMetric(ctx, riskKey, model.Metric{
		Category:    "risk",
		MetricName:  "Key Risks",
		Description: "top risks",
		Payload:     model.ListData{{Item: "drought"}},
	}, "u-1")
	require.NoError(t, err)

	second, err := svc.UpsertMetric(ctx, riskKey, model.Metric{
		Category:   "risk",
		MetricName: "Key Risks",
		Payload:    model.ListData{{Item: "flood"}, {Item: "frost"}},
	}, "u-2")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "upsert updates the active record in place")
	assert.Equal(t, 1, second.Version)
	require.Len(t, second.Metrics, 1)
	m := second.Metrics[0]
	assert.Equal(t, first.Metrics[0].ID, m.ID)
	assert.Equal(t, "u-1", m.CreatedBy)
	assert.Equal(t, "u-2", m.LastUpdatedBy)
	assert.Equal(t, "top risks", m.Description)
	assert.Equal(t, []string{"flood", "frost"}, []string{
		m.Payload.(model.ListData)[0].Item, m.Payload.(model.ListData)[1].Item,
	})
	assert.Equal(t, "u-1", second.CreatedBy)
	assert.Equal(t, "u-2", second.LastUpdatedBy)

	third, err := svc.UpsertMetric(ctx, riskKey, model.Metric{
		Category:   "other",
		MetricName: "Key Risks",
		Payload:    &model.SummaryValue{Text: "different category"},
	}, "u-2")
	require.NoError(t, err)
	assert.Len(t, third.Metrics, 2, "identity is (category, metric_name)")
}

func TestUpsertMetric_IgnoresDeletedMetric(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	metric := model.Metric{Category: "risk", MetricName: "Key Risks", Payload: model.ListData{{Item: "a"}}}

	rec, err := svc.UpsertMetric(ctx, riskKey, metric, "u-1")
	require.NoError(t, err)
	_, err = svc.DeleteMetric(ctx, riskKey, rec.Metrics[0].ID, "u-1")
	require.NoError(t, err)

	rec, err = svc.UpsertMetric(ctx, riskKey, metric, "u-1")
	require.NoError(t, err)
	require.Len(t, rec.Metrics, 2)
	assert.False(t, rec.Metrics[0].IsActive)
	assert.True(t, rec.Metrics[1].IsActive)
}

func TestBatchUpsertMetrics_PartialFailure(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.BatchUpsertMetrics(context.Background(), riskKey, []model.Metric{
		{Category: "risk", MetricName: "Key Risks", Payload: model.ListData{{Item: "a"}}},
		{Category: "oceans", MetricName: "Reefs", Payload: model.ListData{}},
		{Category: "other", MetricName: "Score", Payload: &model.SingleValue{Value: 7.0}},
	}, "u-1")
	require.NoError(t, err)

	require.Len(t, res.Succeeded, 2)
	assert.Equal(t, 0, res.Succeeded[0].Index)
	assert.Equal(t, 2, res.Succeeded[1].Index)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.Equal(t, "Reefs", res.Failed[0].MetricName)
	assert.Equal(t, apperr.CodeInvalidCategory, res.Failed[0].Code)
	require.NotNil(t, res.Record)
	assert.Len(t, res.Record.Metrics, 2)

	_, err = svc.BatchUpsertMetrics(context.Background(), riskKey, nil, "u-1")
	requireCode(t, err, apperr.KindValidation, apperr.CodeMissingMetrics)
}

func TestDeleteMetric_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rec := createRecord(t, svc, irrigationKey, "Pumps")
	id := rec.Metrics[0].ID

	first, err := svc.DeleteMetric(ctx, irrigationKey, id, "u-2")
	require.NoError(t, err)
	assert.False(t, first.Metrics[0].IsActive)
	assert.Equal(t, "u-2", first.Metrics[0].LastUpdatedBy)
	assert.InDelta(t, 0, first.SummaryStats["active_metrics"], 0.001)

	second, err := svc.DeleteMetric(ctx, irrigationKey, id, "u-3")
	require.NoError(t, err)
	assert.False(t, second.Metrics[0].IsActive)
	assert.Equal(t, "u-2", second.LastUpdatedBy, "a repeated delete does not write")

	visible, err := svc.GetActive(ctx, irrigationKey, false)
	require.NoError(t, err)
	assert.Empty(t, visible.Metrics)
	all, err := svc.GetActive(ctx, irrigationKey, true)
	require.NoError(t, err)
	assert.Len(t, all.Metrics, 1)
	assert.Equal(t, 1, all.Version)

	_, err = svc.DeleteMetric(ctx, irrigationKey, "missing", "u-1")
	requireCode(t, err, apperr.KindNotFound, apperr.CodeMetricNotFound)
	_, err = svc.DeleteMetric(ctx, riskKey, id, "u-1")
	requireCode(t, err, apperr.KindNotFound, apperr.CodeMetricNotFound)
}

func TestRestoreVersion_RestoreOfRestoreKeepsSourceIntact(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	v1 := createRecord(t, svc, irrigationKey, "first")
	v2 := createRecord(t, svc, irrigationKey, "second")

	before, err := svc.GetVersion(ctx, irrigationKey, v1.ID)
	require.NoError(t, err)
	beforeJSON, err := json.Marshal(before)
	require.NoError(t, err)

	v3, err := svc.RestoreVersion(ctx, irrigationKey, v1.ID, "u-5")
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)
	assert.True(t, v3.IsActive)
	assert.NotEqual(t, v1.ID, v3.ID)
	assert.Equal(t, v1.ID, v3.RestoredFrom)
	assert.Equal(t, v2.ID, v3.PreviousVersion)
	assert.Equal(t, model.ImportSourceRestore, v3.ImportSource)
	assert.Equal(t, "Restored from version 1", v3.Metadata.Notes)
	assert.Equal(t, "u-5", v3.CreatedBy)
	assert.Equal(t, "first", v3.Metrics[0].MetricName)

	v4, err := svc.RestoreVersion(ctx, irrigationKey, v3.ID, "u-6")
	require.NoError(t, err)
	assert.Equal(t, 4, v4.Version)
	assert.Equal(t, v3.ID, v4.RestoredFrom)
	assert.Equal(t, "Restored from version 3", v4.Metadata.Notes)

	after, err := svc.GetVersion(ctx, irrigationKey, v1.ID)
	require.NoError(t, err)
	afterJSON, err := json.Marshal(after)
	require.NoError(t, err)
	assert.Equal(t, string(beforeJSON), string(afterJSON))

	prev, err := svc.GetVersion(ctx, irrigationKey, v3.ID)
	require.NoError(t, err)
	assert.False(t, prev.IsActive)
	assert.Equal(t, v3.Metadata, prev.Metadata, "only the active flag of the restored source changes")
}

func TestRestoreVersion_ForeignVersionNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rec := createRecord(t, svc, irrigationKey, "mine")

	other := model.RecordKey{CompanyID: "c-2", Category: "irrigation"}
	_, err := svc.RestoreVersion(ctx, other, rec.ID, "u-1")
	requireCode(t, err, apperr.KindNotFound, apperr.CodeVersionNotFound)

	_, err = svc.GetVersion(ctx, other, rec.ID)
	requireCode(t, err, apperr.KindNotFound, apperr.CodeVersionNotFound)

	_, err = svc.RestoreVersion(ctx, model.RecordKey{CompanyID: "c-1", Category: "water"}, rec.ID, "u-1")
	requireCode(t, err, apperr.KindNotFound, apperr.CodeVersionNotFound)

	versions, err := svc.ListVersions(ctx, other, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestRestoreVersion_ActiveTarget(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	v1 := createRecord(t, svc, irrigationKey, "only")

	v2, err := svc.RestoreVersion(ctx, irrigationKey, v1.ID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.ID, v2.PreviousVersion)

	old, err := svc.GetVersion(ctx, irrigationKey, v1.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Empty(t, old.Metadata.Notes)
}

func TestValidateData_EmptySingleValueFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRecord(ctx, irrigationKey, CreateInput{Metrics: []model.Metric{{
		Category:   "other",
		MetricName: "Policy",
		Payload:    &model.SingleValue{Value: ""},
	}}}, "u-1")
	require.NoError(t, err)

	report, err := svc.ValidateData(ctx, irrigationKey, "u-2")
	require.NoError(t, err)
	assert.Equal(t, model.ValidationFailed, report.ValidationStatus)
	assert.LessOrEqual(t, report.DataQualityScore, 95.0)
	assert.InDelta(t, 92, report.DataQualityScore, 0.001)
	assert.Equal(t, 1, report.ErrorCount)
	assert.Equal(t, 1, report.WarningCount)
	assert.Equal(t, 1, report.MetricsChecked)

	rec, err := svc.GetActive(ctx, irrigationKey, false)
	require.NoError(t, err)
	assert.Equal(t, model.ValidationFailed, rec.ValidationStatus)
	require.NotNil(t, rec.DataQualityScore)
	assert.InDelta(t, 92, *rec.DataQualityScore, 0.001)
	assert.Len(t, rec.ValidationErrors, 2)
	assert.Equal(t, "u-2", rec.LastUpdatedBy)
	assert.Equal(t, 1, rec.Version)
}

func TestValidateData_NoActiveRecord(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ValidateData(context.Background(), irrigationKey, "u-1")
	requireCode(t, err, apperr.KindNotFound, apperr.CodeRecordNotFound)
}

func TestValidate_Rules(t *testing.T) {
	n := 3.0
	tests := []struct {
		name   string
		metric model.Metric
		score  float64
		status model.ValidationStatus
	}{
		{
			"clean yearly",
			model.Metric{Payload: model.YearlySeries{{Year: "2023", Value: "3", NumericValue: &n, Source: "s"}}},
			100, model.ValidationValidated,
		},
		{
			"empty yearly is an error but not failing",
			model.Metric{Payload: model.YearlySeries{}},
			95, model.ValidationValidated,
		},
		{
			"non numeric value without source",
			model.Metric{Payload: model.YearlySeries{{Year: "2023", Value: "n/a"}}},
			95, model.ValidationValidated,
		},
		{
			"single value without source",
			model.Metric{Payload: &model.SingleValue{Value: "yes"}},
			97, model.ValidationValidated,
		},
		{
			"empty list",
			model.Metric{Payload: model.ListData{}},
			95, model.ValidationValidated,
		},
		{
			"blank list item",
			model.Metric{Payload: model.ListData{{Item: " "}, {Item: "ok"}}},
			98, model.ValidationValidated,
		},
		{
			"empty summary",
			model.Metric{Payload: &model.SummaryValue{}},
			97, model.ValidationValidated,
		},
		{
			"inactive metrics are skipped",
			model.Metric{Payload: &model.SingleValue{}, IsActive: false},
			100, model.ValidationValidated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.metric
			m.MetricName = "m"
			m.Category = "other"
			if tt.name != "inactive metrics are skipped" {
				m.IsActive = true
			}
			report := Validate(&model.Record{Metrics: []model.Metric{m}})
			assert.InDelta(t, tt.score, report.DataQualityScore, 0.001)
			assert.Equal(t, tt.status, report.ValidationStatus)
		})
	}
}

func TestValidate_ScoreFloorsAtZero(t *testing.T) {
	var metrics []model.Metric
	for i := 0; i < 30; i++ {
		metrics = append(metrics, model.Metric{MetricName: "m", Category: "other", IsActive: true, Payload: &model.SingleValue{}})
	}
	report := Validate(&model.Record{Metrics: metrics})
	assert.InDelta(t, 0, report.DataQualityScore, 0.001)
	assert.Equal(t, 30, report.ErrorCount)
}

func TestUpdateVerification(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createRecord(t, svc, irrigationKey, "x")

	rec, err := svc.UpdateVerification(ctx, irrigationKey, model.VerificationPendingReview, "u-1", "")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationPendingReview, rec.VerificationStatus)
	assert.Empty(t, rec.Metadata.VerifiedBy)

	rec, err = svc.UpdateVerification(ctx, irrigationKey, model.VerificationVerified, "auditor", "checked against invoices")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationVerified, rec.VerificationStatus)
	assert.Equal(t, "auditor", rec.Metadata.VerifiedBy)
	require.NotNil(t, rec.Metadata.VerifiedAt)
	assert.Equal(t, "checked against invoices", rec.Metadata.Notes)

	stored, err := svc.GetActive(ctx, irrigationKey, false)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationVerified, stored.VerificationStatus)

	_, err = svc.UpdateVerification(ctx, irrigationKey, "approved", "u-1", "")
	requireCode(t, err, apperr.KindValidation, apperr.CodeValidation)
}

func TestListVersions_Paging(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		createRecord(t, svc, irrigationKey, "x")
	}

	page, err := svc.ListVersions(ctx, irrigationKey, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 2, page[0].Version)
	assert.Equal(t, 1, page[1].Version)

	_, err = svc.ListVersions(ctx, irrigationKey, -1, 0)
	requireCode(t, err, apperr.KindValidation, apperr.CodeValidation)
}

func TestExport(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.ImportFile(ctx, irrigationKey, []byte(irrigationCSV), "irrigation.csv", "u-1", model.RecordMetadata{})
	require.NoError(t, err)
	_, err = svc.UpsertMetric(ctx, irrigationKey, model.Metric{
		Category:   "other",
		MetricName: "Notes",
		Payload:    model.ListData{{Item: "drip", Value: "40%"}},
	}, "u-1")
	require.NoError(t, err)

	file, err := svc.Export(ctx, irrigationKey, ExportCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "c-1_irrigation_v1.csv", file.Name)

	rows, err := csv.NewReader(bytes.NewReader(file.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, exportColumns, rows[0])
	assert.Equal(t, []string{
		"irrigation_water", "water_use", "Total Irrigation Water (million ML)", "yearly_series", "2023",
		"1,200", "1200", "million ML", "irrigation.csv", "",
	}, rows[2])
	assert.Equal(t, "drip: 40%", rows[3][5])

	file, err = svc.Export(ctx, irrigationKey, ExportXLSX)
	require.NoError(t, err)
	wb, err := xlsx.OpenBinary(file.Data)
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)
	assert.Equal(t, "irrigation", wb.Sheets[0].Name)
	assert.Len(t, wb.Sheets[0].Rows, 4)
	assert.Equal(t, "metric_name", wb.Sheets[0].Rows[0].Cells[2].String())

	_, err = svc.Export(ctx, irrigationKey, "pdf")
	requireCode(t, err, apperr.KindValidation, apperr.CodeUnsupportedFile)
	_, err = svc.Export(ctx, riskKey, ExportCSV)
	requireCode(t, err, apperr.KindNotFound, apperr.CodeRecordNotFound)
}

func TestSummaryStats_SingleValuesCount(t *testing.T) {
	cat, err := catalog.LoadDefault()
	require.NoError(t, err)
	n := 10.0
	stats := SummaryStats(cat.Get("carbon"), []model.Metric{
		{Category: "scope1", IsActive: true, Payload: &model.SingleValue{Value: "10", NumericValue: &n}},
		{Category: "scope2", IsActive: true, Payload: &model.SingleValue{Value: "30"}},
		{Category: "scope3", IsActive: false, Payload: &model.SingleValue{Value: "1000"}},
		{Category: "offsets", IsActive: true, Payload: model.YearlySeries{{Year: "2021", Value: "5"}, {Year: "2022", Value: "7"}}},
	})

	assert.InDelta(t, 4, stats["total_metrics"], 0.001)
	assert.InDelta(t, 3, stats["active_metrics"], 0.001)
	assert.InDelta(t, 40, stats["emissions_total"], 0.001)
	assert.InDelta(t, 20, stats["emissions_average"], 0.001)
	assert.InDelta(t, 7, stats["removals_total"], 0.001)
	assert.InDelta(t, 6, stats["removals_average"], 0.001)
}

func TestCreateRecord_StoresIncomingMetricsActive(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	m := singleMetric("other", "Pumps", "1")
	m.IsActive = false
	rec, err := svc.CreateRecord(ctx, irrigationKey, CreateInput{Metrics: []model.Metric{m}}, "u-1")
	require.NoError(t, err)
	assert.True(t, rec.Metrics[0].IsActive)
	assert.InDelta(t, 1, rec.SummaryStats["active_metrics"], 0.001)

	stored, err := st.GetActive(ctx, irrigationKey)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.ActiveMetrics(), 1)

	report, err := svc.ValidateData(ctx, irrigationKey, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.MetricsChecked)
}

func TestImportJSON_IgnoresInactiveFlag(t *testing.T) {
	svc, _ := newTestService(t)
	payload := `{"metrics":[{"category":"risk","metric_name":"Key Risks","is_active":false,"list_data":[{"item":"drought"}]}]}`

	res, err := svc.ImportJSON(context.Background(), riskKey, []byte(payload), "u-1", model.RecordMetadata{})
	require.NoError(t, err)
	require.Len(t, res.Record.Metrics, 1)
	assert.True(t, res.Record.Metrics[0].IsActive)
}

func TestCreateRecord_RejectsDuplicateMetricIDs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := singleMetric("other", "A", "1")
	a.ID = "m-1"
	b := singleMetric("other", "B", "2")
	b.ID = "m-1"
	_, err := svc.CreateRecord(ctx, irrigationKey, CreateInput{Metrics: []model.Metric{a, b}}, "u-1")
	requireCode(t, err, apperr.KindValidation, apperr.CodeValidation)

	b.ID = ""
	rec, err := svc.CreateRecord(ctx, irrigationKey, CreateInput{Metrics: []model.Metric{a, b}}, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", rec.Metrics[0].ID)
	assert.NotEmpty(t, rec.Metrics[1].ID)
	assert.NotEqual(t, "m-1", rec.Metrics[1].ID)
}

func TestUpsertMetric_ReusedIDAfterDeleteGetsFreshID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	metric := model.Metric{Category: "risk", MetricName: "Key Risks", Payload: model.ListData{{Item: "a"}}}

	rec, err := svc.UpsertMetric(ctx, riskKey, metric, "u-1")
	require.NoError(t, err)
	oldID := rec.Metrics[0].ID
	_, err = svc.DeleteMetric(ctx, riskKey, oldID, "u-1")
	require.NoError(t, err)

	metric.ID = oldID
	rec, err = svc.UpsertMetric(ctx, riskKey, metric, "u-1")
	require.NoError(t, err)
	require.Len(t, rec.Metrics, 2)
	newID := rec.Metrics[1].ID
	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, 0, rec.FindMetricByID(oldID))
	assert.Equal(t, 1, rec.FindMetricByID(newID))

	rec, err = svc.DeleteMetric(ctx, riskKey, newID, "u-1")
	require.NoError(t, err)
	assert.Empty(t, rec.ActiveMetrics())
}

func TestUpsertMetric_ConcurrentDistinctMetrics(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.UpsertMetric(ctx, riskKey, model.Metric{
				Category:   "risk",
				MetricName: fmt.Sprintf("Risk %d", i),
				Payload:    model.ListData{{Item: "a"}},
			}, fmt.Sprintf("u-%d", i))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := svc.GetActive(ctx, riskKey, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	require.Len(t, rec.Metrics, n)
	names := map[string]bool{}
	for _, m := range rec.Metrics {
		names[m.MetricName] = true
	}
	assert.Len(t, names, n)

	versions, err := svc.ListVersions(ctx, riskKey, 0, 0)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestSourceFile_ServesArchivedUpload(t *testing.T) {
	archive, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	svc, _ := newTestService(t, WithArchive(archive))
	ctx := context.Background()

	res, err := svc.ImportFile(ctx, irrigationKey, []byte(irrigationCSV), "irrigation.csv", "u-1", model.RecordMetadata{})
	require.NoError(t, err)

	file, err := svc.SourceFile(ctx, irrigationKey, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "irrigation.csv", file.Name)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, irrigationCSV, string(file.Data))

	objs, err := svc.ListUploads(ctx, irrigationKey)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, res.Record.SourceFileKey, objs[0].Key)

	other := model.RecordKey{CompanyID: "c-2", Category: "irrigation"}
	objs, err = svc.ListUploads(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, objs)
	_, err = svc.SourceFile(ctx, other, res.Record.ID)
	requireCode(t, err, apperr.KindNotFound, apperr.CodeVersionNotFound)

	manual := createRecord(t, svc, irrigationKey, "Pumps")
	_, err = svc.SourceFile(ctx, irrigationKey, manual.ID)
	requireCode(t, err, apperr.KindNotFound, apperr.CodeSourceNotFound)
}

// failingStore rejects every aggregate transaction.
type failingStore struct {
	store.Store
}

func (failingStore) WithAggregate(context.Context, model.RecordKey, func(context.Context, store.Aggregate) error) error {
	return eris.New("commit failed")
}

func TestImportFile_FailedCommitDiscardsUpload(t *testing.T) {
	archive, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	_, st := newTestService(t)
	cat, err := catalog.LoadDefault()
	require.NoError(t, err)
	svc := New(failingStore{Store: st}, cat, WithArchive(archive))
	ctx := context.Background()

	_, err = svc.ImportFile(ctx, irrigationKey, []byte(irrigationCSV), "irrigation.csv", "u-1", model.RecordMetadata{})
	requireCode(t, err, apperr.KindInternal, apperr.CodeImportFailed)

	objs, err := archive.List(ctx, "uploads/")
	require.NoError(t, err)
	assert.Empty(t, objs)
}
