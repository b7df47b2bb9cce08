package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/sells-group/esg-data/internal/apperr"
)

// DataType names the payload shape carried by a metric.
type DataType string

const (
	DataTypeYearlySeries DataType = "yearly_series"
	DataTypeSingleValue  DataType = "single_value"
	DataTypeList         DataType = "list"
	DataTypeSummary      DataType = "summary"
)

// Valid reports whether d is one of the four known data types.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeYearlySeries, DataTypeSingleValue, DataTypeList, DataTypeSummary:
		return true
	}
	return false
}

// Payload is the value held by a metric. Exactly one implementation is
// present per metric: YearlySeries, *SingleValue, ListData or *SummaryValue.
type Payload interface {
	DataType() DataType
	stamp(actor string, at time.Time)
	clonePayload() Payload
}

// YearlyValue is one entry of a yearly series.
type YearlyValue struct {
	Year          string    `json:"year"`
	Value         any       `json:"value"`
	NumericValue  *float64  `json:"numeric_value"`
	Unit          string    `json:"unit,omitempty"`
	Source        string    `json:"source"`
	Notes         string    `json:"notes,omitempty"`
	AddedBy       string    `json:"added_by,omitempty"`
	AddedAt       time.Time `json:"added_at"`
	LastUpdatedBy string    `json:"last_updated_by,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// YearlySeries is a metric payload of per-year values.
type YearlySeries []YearlyValue

func (YearlySeries) DataType() DataType { return DataTypeYearlySeries }

func (s YearlySeries) stamp(actor string, at time.Time) {
	for i := range s {
		if s[i].AddedBy == "" {
			s[i].AddedBy = actor
		}
		if s[i].AddedAt.IsZero() {
			s[i].AddedAt = at
		}
	}
}

func (s YearlySeries) clonePayload() Payload {
	out := make(YearlySeries, len(s))
	for i, v := range s {
		v.NumericValue = cloneFloat(v.NumericValue)
		out[i] = v
	}
	return out
}

// SingleValue is a metric payload holding one value.
type SingleValue struct {
	Value         any       `json:"value"`
	NumericValue  *float64  `json:"numeric_value"`
	Unit          string    `json:"unit,omitempty"`
	Source        string    `json:"source,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	AddedBy       string    `json:"added_by,omitempty"`
	AddedAt       time.Time `json:"added_at"`
	LastUpdatedBy string    `json:"last_updated_by,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func (*SingleValue) DataType() DataType { return DataTypeSingleValue }

func (v *SingleValue) stamp(actor string, at time.Time) {
	if v.AddedBy == "" {
		v.AddedBy = actor
	}
	if v.AddedAt.IsZero() {
		v.AddedAt = at
	}
}

func (v *SingleValue) clonePayload() Payload {
	c := *v
	c.NumericValue = cloneFloat(v.NumericValue)
	return &c
}

// IsEmpty reports whether the value is missing or blank.
func (v *SingleValue) IsEmpty() bool {
	if v == nil || v.Value == nil {
		return true
	}
	if s, ok := v.Value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// ListItem is one entry of a list payload.
type ListItem struct {
	Item    string    `json:"item"`
	Value   string    `json:"value,omitempty"`
	Details string    `json:"details,omitempty"`
	Source  string    `json:"source,omitempty"`
	AddedBy string    `json:"added_by,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// ListData is a metric payload of free-form items.
type ListData []ListItem

func (ListData) DataType() DataType { return DataTypeList }

func (l ListData) stamp(actor string, at time.Time) {
	for i := range l {
		if l[i].AddedBy == "" {
			l[i].AddedBy = actor
		}
		if l[i].AddedAt.IsZero() {
			l[i].AddedAt = at
		}
	}
}

func (l ListData) clonePayload() Payload {
	out := make(ListData, len(l))
	copy(out, l)
	return out
}

// SummaryValue is a narrative metric payload.
type SummaryValue struct {
	Text       string    `json:"text"`
	Highlights []string  `json:"highlights,omitempty"`
	AsOf       string    `json:"as_of,omitempty"`
	AddedBy    string    `json:"added_by,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

func (*SummaryValue) DataType() DataType { return DataTypeSummary }

func (v *SummaryValue) stamp(actor string, at time.Time) {
	if v.AddedBy == "" {
		v.AddedBy = actor
	}
	if v.AddedAt.IsZero() {
		v.AddedAt = at
	}
}

func (v *SummaryValue) clonePayload() Payload {
	c := *v
	if v.Highlights != nil {
		c.Highlights = append([]string(nil), v.Highlights...)
	}
	return &c
}

// Metric is a named measurement embedded in a Record.
type Metric struct {
	ID            string
	Category      string
	Subcategory   string
	MetricName    string
	Description   string
	Payload       Payload
	IsActive      bool
	CreatedBy     string
	CreatedAt     time.Time
	LastUpdatedBy string
	UpdatedAt     time.Time
}

// DataType returns the data type of the metric's payload, or "" when unset.
func (m *Metric) DataType() DataType {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.DataType()
}

// Key returns the (category, metric_name) identity used by upserts.
func (m *Metric) Key() MetricKey {
	return MetricKey{Category: m.Category, MetricName: m.MetricName}
}

// MetricKey is the composite identity of a metric within a record.
type MetricKey struct {
	Category   string
	MetricName string
}

// Clone returns a deep copy of m.
func (m *Metric) Clone() Metric {
	c := *m
	if m.Payload != nil {
		c.Payload = m.Payload.clonePayload()
	}
	return c
}

// Validate checks the fields every metric must carry.
func (m *Metric) Validate() error {
	if strings.TrimSpace(m.MetricName) == "" {
		return apperr.Validation(apperr.CodeValidation, "metric_name is required")
	}
	if strings.TrimSpace(m.Category) == "" {
		return apperr.Validation(apperr.CodeValidation, "category is required for metric %q", m.MetricName)
	}
	if m.Payload == nil {
		return apperr.Validation(apperr.CodeInvalidDataType, "metric %q has no payload", m.MetricName)
	}
	return nil
}

type metricJSON struct {
	ID            string          `json:"id,omitempty"`
	Category      string          `json:"category"`
	Subcategory   string          `json:"subcategory,omitempty"`
	MetricName    string          `json:"metric_name"`
	Description   string          `json:"description,omitempty"`
	DataType      DataType        `json:"data_type"`
	YearlyData    json.RawMessage `json:"yearly_data,omitempty"`
	SingleValue   json.RawMessage `json:"single_value,omitempty"`
	ListData      json.RawMessage `json:"list_data,omitempty"`
	SummaryValue  json.RawMessage `json:"summary_value,omitempty"`
	IsActive      *bool           `json:"is_active,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"`
	LastUpdatedBy string          `json:"last_updated_by,omitempty"`
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
}

// MarshalJSON writes the payload under the field named by its data type.
func (m Metric) MarshalJSON() ([]byte, error) {
	active := m.IsActive
	out := metricJSON{
		ID:            m.ID,
		Category:      m.Category,
		Subcategory:   m.Subcategory,
		MetricName:    m.MetricName,
		Description:   m.Description,
		DataType:      m.DataType(),
		IsActive:      &active,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     timePtr(m.CreatedAt),
		LastUpdatedBy: m.LastUpdatedBy,
		UpdatedAt:     timePtr(m.UpdatedAt),
	}

	var err error
	switch p := m.Payload.(type) {
	case YearlySeries:
		if p == nil {
			p = YearlySeries{}
		}
		out.YearlyData, err = json.Marshal(p)
	case *SingleValue:
		out.SingleValue, err = json.Marshal(p)
	case ListData:
		if p == nil {
			p = ListData{}
		}
		out.ListData, err = json.Marshal(p)
	case *SummaryValue:
		out.SummaryValue, err = json.Marshal(p)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a metric, selecting the payload by data_type. When
// data_type is absent it is inferred from the single populated payload field.
// A payload field that disagrees with data_type is rejected.
func (m *Metric) UnmarshalJSON(data []byte) error {
	var in metricJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	present := map[DataType]json.RawMessage{}
	for dt, raw := range map[DataType]json.RawMessage{
		DataTypeYearlySeries: in.YearlyData,
		DataTypeSingleValue:  in.SingleValue,
		DataTypeList:         in.ListData,
		DataTypeSummary:      in.SummaryValue,
	} {
		if len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			present[dt] = raw
		}
	}

	dt := in.DataType
	switch {
	case dt == "" && len(present) == 1:
		for k := range present {
			dt = k
		}
	case dt == "":
		return apperr.Validation(apperr.CodeInvalidDataType, "metric %q: data_type is required", in.MetricName)
	case !dt.Valid():
		return apperr.Validation(apperr.CodeInvalidDataType, "metric %q: unknown data_type %q", in.MetricName, dt)
	}
	for other := range present {
		if other != dt {
			return apperr.Validation(apperr.CodeInvalidDataType,
				"metric %q: data_type %s does not allow %s payload", in.MetricName, dt, other)
		}
	}

	raw := present[dt]
	var payload Payload
	switch dt {
	case DataTypeYearlySeries:
		s := YearlySeries{}
		if raw != nil {
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
		}
		payload = s
	case DataTypeSingleValue:
		v := &SingleValue{}
		if raw != nil {
			if err := json.Unmarshal(raw, v); err != nil {
				return err
			}
		}
		payload = v
	case DataTypeList:
		l := ListData{}
		if raw != nil {
			if err := json.Unmarshal(raw, &l); err != nil {
				return err
			}
		}
		payload = l
	case DataTypeSummary:
		v := &SummaryValue{}
		if raw != nil {
			if err := json.Unmarshal(raw, v); err != nil {
				return err
			}
		}
		payload = v
	}

	*m = Metric{
		ID:            in.ID,
		Category:      in.Category,
		Subcategory:   in.Subcategory,
		MetricName:    in.MetricName,
		Description:   in.Description,
		Payload:       payload,
		IsActive:      in.IsActive == nil || *in.IsActive,
		CreatedBy:     in.CreatedBy,
		LastUpdatedBy: in.LastUpdatedBy,
	}
	if in.CreatedAt != nil {
		m.CreatedAt = *in.CreatedAt
	}
	if in.UpdatedAt != nil {
		m.UpdatedAt = *in.UpdatedAt
	}
	return nil
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
