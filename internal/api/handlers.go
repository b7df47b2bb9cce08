package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/model"
	"github.com/sells-group/esg-data/internal/records"
)

func recordKey(r *http.Request) model.RecordKey {
	return model.RecordKey{
		CompanyID: chi.URLParam(r, "companyID"),
		Category:  model.Category(chi.URLParam(r, "category")),
	}
}

func actor(r *http.Request) string {
	return r.Header.Get(ActorHeader)
}

// decodeBody reads a JSON request body into dst, limited to the upload size.
func (h *handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	data, err := h.readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		if _, ok := apperr.As(err); ok {
			return err
		}
		return apperr.Validation(apperr.CodeValidation, "invalid request body: %v", err)
	}
	return nil
}

func (h *handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Validation(apperr.CodeValidation, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, apperr.Validation(apperr.CodeValidation, "read request body: %v", err)
	}
	if len(data) == 0 {
		return nil, apperr.Validation(apperr.CodeValidation, "request body is required")
	}
	return data, nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "store": "ok"}
	if err := h.store.Ping(ctx); err != nil {
		status["status"] = "degraded"
		status["store"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) listCategories(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, h.svc.Catalog().Categories)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		writeError(w, apperr.NotFound(apperr.CodeFetchFailed, "monitoring is not configured"))
		return
	}
	snap, err := h.collector.Collect(r.Context())
	if err != nil {
		writeError(w, apperr.Internal(apperr.CodeFetchFailed, "failed to collect stats", err))
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (h *handler) getActive(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
	rec, err := h.svc.GetActive(r.Context(), recordKey(r), includeInactive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (h *handler) createRecord(w http.ResponseWriter, r *http.Request) {
	var in records.CreateInput
	if err := h.decodeBody(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.svc.CreateRecord(r.Context(), recordKey(r), in, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, rec)
}

func (h *handler) importFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, apperr.Validation(apperr.CodeValidation, "invalid multipart upload: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Validation(apperr.CodeEmptyFile, "file is required"))
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, apperr.Validation(apperr.CodeValidation, "read upload: %v", err))
		return
	}
	meta := model.RecordMetadata{
		PeriodStart:    r.FormValue("period_start"),
		PeriodEnd:      r.FormValue("period_end"),
		OriginalSource: r.FormValue("original_source"),
		Notes:          r.FormValue("notes"),
	}

	res, err := h.svc.ImportFile(r.Context(), recordKey(r), data, header.Filename, actor(r), meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func (h *handler) importJSON(w http.ResponseWriter, r *http.Request) {
	data, err := h.readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.ImportJSON(r.Context(), recordKey(r), data, actor(r), model.RecordMetadata{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func (h *handler) upsertMetric(w http.ResponseWriter, r *http.Request) {
	var m model.Metric
	if err := h.decodeBody(w, r, &m); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.svc.UpsertMetric(r.Context(), recordKey(r), m, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (h *handler) batchUpsert(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Metrics []model.Metric `json:"metrics"`
	}
	if err := h.decodeBody(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.BatchUpsertMetrics(r.Context(), recordKey(r), in.Metrics, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *handler) deleteMetric(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.DeleteMetric(r.Context(), recordKey(r), chi.URLParam(r, "metricID"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (h *handler) listVersions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}
	versions, err := h.svc.ListVersions(r.Context(), recordKey(r), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if versions == nil {
		versions = []model.Record{}
	}
	writeData(w, http.StatusOK, versions)
}

func (h *handler) getVersion(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetVersion(r.Context(), recordKey(r), chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (h *handler) restoreVersion(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.RestoreVersion(r.Context(), recordKey(r), chi.URLParam(r, "versionID"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, rec)
}

func (h *handler) validate(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.ValidateData(r.Context(), recordKey(r), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

func (h *handler) updateVerification(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status model.VerificationStatus `json:"status"`
		Notes  string                   `json:"notes"`
	}
	if err := h.decodeBody(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.svc.UpdateVerification(r.Context(), recordKey(r), in.Status, actor(r), in.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (h *handler) export(w http.ResponseWriter, r *http.Request) {
	format := records.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = records.ExportCSV
	}
	file, err := h.svc.Export(r.Context(), recordKey(r), format)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttachment(w, file.Name, file.ContentType, file.Data)
}

func (h *handler) sourceFile(w http.ResponseWriter, r *http.Request) {
	file, err := h.svc.SourceFile(r.Context(), recordKey(r), chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttachment(w, file.Name, file.ContentType, file.Data)
}

func (h *handler) listUploads(w http.ResponseWriter, r *http.Request) {
	objs, err := h.svc.ListUploads(r.Context(), recordKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, objs)
}

func writeAttachment(w http.ResponseWriter, name, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation(apperr.CodeValidation, "%s must be a non-negative integer", name)
	}
	return n, nil
}
