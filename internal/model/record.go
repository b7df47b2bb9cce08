// Package model defines the versioned ESG record documents shared by every
// category: records, metrics and their payloads, and validation results.
package model

import (
	"time"
)

// Category is an ESG category key from the catalog (e.g. "irrigation").
type Category string

// RecordKey identifies the aggregate a record belongs to.
type RecordKey struct {
	CompanyID string   `json:"company_id"`
	Category  Category `json:"category"`
}

func (k RecordKey) String() string {
	return k.CompanyID + "/" + string(k.Category)
}

// VerificationStatus tracks the human review workflow for a record.
type VerificationStatus string

const (
	VerificationUnverified    VerificationStatus = "unverified"
	VerificationPendingReview VerificationStatus = "pending_review"
	VerificationVerified      VerificationStatus = "verified"
	VerificationRejected      VerificationStatus = "rejected"
)

// Valid reports whether s is a known verification status.
func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationUnverified, VerificationPendingReview, VerificationVerified, VerificationRejected:
		return true
	}
	return false
}

// ValidationStatus is the outcome of the last data validation run.
type ValidationStatus string

const (
	ValidationNotValidated ValidationStatus = "not_validated"
	ValidationValidated    ValidationStatus = "validated"
	ValidationFailed       ValidationStatus = "failed_validation"
)

// ImportSource records how a record version was produced.
type ImportSource string

const (
	ImportSourceManual  ImportSource = "manual"
	ImportSourceCSV     ImportSource = "csv"
	ImportSourceExcel   ImportSource = "excel"
	ImportSourceJSON    ImportSource = "json"
	ImportSourceAPI     ImportSource = "api"
	ImportSourceRestore ImportSource = "restore"
)

// RecordMetadata holds reporting-period and workflow notes.
type RecordMetadata struct {
	PeriodStart    string     `json:"period_start,omitempty"`
	PeriodEnd      string     `json:"period_end,omitempty"`
	OriginalSource string     `json:"original_source,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	VerifiedBy     string     `json:"verified_by,omitempty"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
}

// Record is one version of a company's metrics for one category.
type Record struct {
	ID                 string             `json:"id"`
	CompanyID          string             `json:"company"`
	Category           Category           `json:"category"`
	Version            int                `json:"version"`
	PreviousVersion    string             `json:"previous_version,omitempty"`
	RestoredFrom       string             `json:"restored_from,omitempty"`
	IsActive           bool               `json:"is_active"`
	Metrics            []Metric           `json:"metrics"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	ValidationStatus   ValidationStatus   `json:"validation_status"`
	DataQualityScore   *float64           `json:"data_quality_score"`
	ValidationErrors   []ValidationIssue  `json:"validation_errors,omitempty"`
	ImportSource       ImportSource       `json:"import_source"`
	SourceFileName     string             `json:"source_file_name,omitempty"`
	SourceFileKey      string             `json:"source_file_key,omitempty"`
	ImportBatchID      string             `json:"import_batch_id,omitempty"`
	ImportDate         *time.Time         `json:"import_date,omitempty"`
	Metadata           RecordMetadata     `json:"metadata"`
	SummaryStats       map[string]float64 `json:"summary_stats,omitempty"`
	CreatedBy          string             `json:"created_by"`
	CreatedAt          time.Time          `json:"created_at"`
	LastUpdatedBy      string             `json:"last_updated_by"`
	LastUpdatedAt      time.Time          `json:"last_updated_at"`
}

// Key returns the aggregate key of the record.
func (r *Record) Key() RecordKey {
	return RecordKey{CompanyID: r.CompanyID, Category: r.Category}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	if r.Metrics != nil {
		c.Metrics = make([]Metric, len(r.Metrics))
		for i := range r.Metrics {
			c.Metrics[i] = r.Metrics[i].Clone()
		}
	}
	c.DataQualityScore = cloneFloat(r.DataQualityScore)
	if r.ValidationErrors != nil {
		c.ValidationErrors = append([]ValidationIssue(nil), r.ValidationErrors...)
	}
	if r.ImportDate != nil {
		d := *r.ImportDate
		c.ImportDate = &d
	}
	if r.Metadata.VerifiedAt != nil {
		v := *r.Metadata.VerifiedAt
		c.Metadata.VerifiedAt = &v
	}
	if r.SummaryStats != nil {
		c.SummaryStats = make(map[string]float64, len(r.SummaryStats))
		for k, v := range r.SummaryStats {
			c.SummaryStats[k] = v
		}
	}
	return &c
}

// ActiveMetrics returns the metrics that have not been soft-deleted.
func (r *Record) ActiveMetrics() []Metric {
	out := make([]Metric, 0, len(r.Metrics))
	for _, m := range r.Metrics {
		if m.IsActive {
			out = append(out, m)
		}
	}
	return out
}

// FindActiveMetric returns the index of the active metric with key k, or -1.
func (r *Record) FindActiveMetric(k MetricKey) int {
	for i := range r.Metrics {
		if r.Metrics[i].IsActive && r.Metrics[i].Key() == k {
			return i
		}
	}
	return -1
}

// FindMetricByID returns the index of the metric with the given id, or -1.
func (r *Record) FindMetricByID(id string) int {
	for i := range r.Metrics {
		if r.Metrics[i].ID == id {
			return i
		}
	}
	return -1
}

// RecordFilter selects record versions for listing.
type RecordFilter struct {
	CompanyID  string   `json:"company_id,omitempty"`
	Category   Category `json:"category,omitempty"`
	ActiveOnly bool     `json:"active_only,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Offset     int      `json:"offset,omitempty"`
}
