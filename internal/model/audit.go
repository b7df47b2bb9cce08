package model

import "time"

// StampActor fills unset creation audit fields on the metric and every
// subdocument of its payload. Fields that already carry an actor are left as is.
func (m *Metric) StampActor(actor string, at time.Time) {
	if m.CreatedBy == "" {
		m.CreatedBy = actor
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = at
	}
	if m.Payload != nil {
		m.Payload.stamp(actor, at)
	}
}

// Touch records actor as the last updater of the metric.
func (m *Metric) Touch(actor string, at time.Time) {
	m.LastUpdatedBy = actor
	m.UpdatedAt = at
}

// StampActor fills unset audit fields on the record and all of its metrics.
func (r *Record) StampActor(actor string, at time.Time) {
	if r.CreatedBy == "" {
		r.CreatedBy = actor
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = at
	}
	for i := range r.Metrics {
		r.Metrics[i].StampActor(actor, at)
	}
	r.Touch(actor, at)
}

// Touch records actor as the last updater of the record.
func (r *Record) Touch(actor string, at time.Time) {
	r.LastUpdatedBy = actor
	r.LastUpdatedAt = at
}
