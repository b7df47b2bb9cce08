package records

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/model"
	"github.com/sells-group/esg-data/internal/store"
)

// Score deductions applied by Validate.
const (
	deductEmptyPayload  = 5.0
	deductNonNumeric    = 2.0
	deductMissingSource = 3.0
	deductEmptyItem     = 2.0
	deductEmptySummary  = 3.0
)

// Validate scores the active metrics of rec starting from 100. The record
// fails validation only when a single value metric carries an error.
func Validate(rec *model.Record) model.ValidationReport {
	report := model.ValidationReport{
		RecordID: rec.ID,
		Version:  rec.Version,
		Issues:   []model.ValidationIssue{},
	}
	score := 100.0
	failed := false

	add := func(m *model.Metric, field string, sev model.Severity, msg string, deduction float64) {
		report.Issues = append(report.Issues, model.ValidationIssue{
			MetricID:     m.ID,
			MetricName:   m.MetricName,
			DataType:     m.DataType(),
			Field:        field,
			Severity:     sev,
			ErrorMessage: msg,
			Deduction:    deduction,
		})
		score -= deduction
		if sev == model.SeverityError {
			report.ErrorCount++
			if m.DataType() == model.DataTypeSingleValue {
				failed = true
			}
		} else {
			report.WarningCount++
		}
	}

	for i := range rec.Metrics {
		m := &rec.Metrics[i]
		if !m.IsActive {
			continue
		}
		report.MetricsChecked++

		switch p := m.Payload.(type) {
		case model.YearlySeries:
			if len(p) == 0 {
				add(m, "yearly_data", model.SeverityError, "yearly series has no entries", deductEmptyPayload)
			}
			for _, yv := range p {
				if _, ok := numericOf(yv.NumericValue, yv.Value); !ok {
					add(m, "yearly_data."+yv.Year+".value", model.SeverityWarning,
						"value for "+yv.Year+" is not numeric", deductNonNumeric)
				}
				if strings.TrimSpace(yv.Source) == "" {
					add(m, "yearly_data."+yv.Year+".source", model.SeverityWarning,
						"value for "+yv.Year+" has no source", deductMissingSource)
				}
			}
		case *model.SingleValue:
			if p.IsEmpty() {
				add(m, "single_value.value", model.SeverityError, "single value is empty", deductEmptyPayload)
			}
			if p == nil || strings.TrimSpace(p.Source) == "" {
				add(m, "single_value.source", model.SeverityWarning, "single value has no source", deductMissingSource)
			}
		case model.ListData:
			if len(p) == 0 {
				add(m, "list_data", model.SeverityError, "list has no items", deductEmptyPayload)
			}
			for _, item := range p {
				if strings.TrimSpace(item.Item) == "" {
					add(m, "list_data.item", model.SeverityWarning, "list item has no text", deductEmptyItem)
				}
			}
		case *model.SummaryValue:
			if p == nil || strings.TrimSpace(p.Text) == "" {
				add(m, "summary_value.text", model.SeverityWarning, "summary has no text", deductEmptySummary)
			}
		}
	}

	if score < 0 {
		score = 0
	}
	report.DataQualityScore = score
	report.ValidationStatus = model.ValidationValidated
	if failed {
		report.ValidationStatus = model.ValidationFailed
	}
	return report
}

// ValidateData validates the active record of key and stores the status,
// score and issues on it.
func (s *Service) ValidateData(ctx context.Context, key model.RecordKey, actor string) (report *model.ValidationReport, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("validate", key, started, err, apperr.CodeValidateFailed, "failed to validate data")
	}()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if _, err := s.category(key); err != nil {
		return nil, err
	}

	err = s.store.WithAggregate(ctx, key, func(ctx context.Context, agg store.Aggregate) error {
		active, err := agg.Active(ctx)
		if err != nil {
			return err
		}
		if active == nil {
			return apperr.NotFound(apperr.CodeRecordNotFound, "no %s data found for company %s", key.Category, key.CompanyID)
		}

		r := Validate(active)
		score := r.DataQualityScore
		active.ValidationStatus = r.ValidationStatus
		active.DataQualityScore = &score
		active.ValidationErrors = r.Issues
		active.Touch(actor, s.now())
		if err := agg.Update(ctx, active); err != nil {
			return err
		}
		report = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// UpdateVerification moves the active record of key through the review
// workflow. Marking it verified records the reviewer and time.
func (s *Service) UpdateVerification(ctx context.Context, key model.RecordKey, status model.VerificationStatus, actor, notes string) (rec *model.Record, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("verification", key, started, err, apperr.CodeVerificationFailed, "failed to update verification")
	}()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if _, err := s.category(key); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperr.Validation(apperr.CodeValidation, "invalid verification status %q", status)
	}

	err = s.store.WithAggregate(ctx, key, func(ctx context.Context, agg store.Aggregate) error {
		active, err := agg.Active(ctx)
		if err != nil {
			return err
		}
		if active == nil {
			return apperr.NotFound(apperr.CodeRecordNotFound, "no %s data found for company %s", key.Category, key.CompanyID)
		}

		now := s.now()
		active.VerificationStatus = status
		if status == model.VerificationVerified {
			active.Metadata.VerifiedBy = actor
			active.Metadata.VerifiedAt = &now
		}
		if notes != "" {
			active.Metadata.Notes = notes
		}
		active.Touch(actor, now)
		if err := agg.Update(ctx, active); err != nil {
			return err
		}
		rec = active
		return nil
	})
	if err != nil {
		return nil, err
	}
	logRecord("records: updated verification", rec, actor)
	return rec, nil
}
