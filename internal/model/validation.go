package model

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one finding of a data validation run.
type ValidationIssue struct {
	MetricID     string   `json:"metric_id,omitempty"`
	MetricName   string   `json:"metric_name"`
	DataType     DataType `json:"data_type"`
	Field        string   `json:"field"`
	Severity     Severity `json:"severity"`
	ErrorMessage string   `json:"error_message"`
	Deduction    float64  `json:"deduction"`
}

// ValidationReport summarizes a validation run over a record's active metrics.
type ValidationReport struct {
	RecordID         string            `json:"record_id"`
	Version          int               `json:"version"`
	ValidationStatus ValidationStatus  `json:"validation_status"`
	DataQualityScore float64           `json:"data_quality_score"`
	MetricsChecked   int               `json:"metrics_checked"`
	ErrorCount       int               `json:"error_count"`
	WarningCount     int               `json:"warning_count"`
	Issues           []ValidationIssue `json:"issues"`
}
