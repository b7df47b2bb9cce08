package records

import (
	"github.com/sells-group/esg-data/internal/catalog"
	"github.com/sells-group/esg-data/internal/importer"
	"github.com/sells-group/esg-data/internal/model"
)

// SummaryStats derives the aggregates stored with every record version from
// its active metrics. Each catalog stat group contributes <group>_total (the
// latest-year value of each yearly series plus numeric single values) and
// <group>_average (the mean of every numeric value in the group).
func SummaryStats(cat *catalog.Category, metrics []model.Metric) map[string]float64 {
	stats := map[string]float64{
		"total_metrics":         float64(len(metrics)),
		"active_metrics":        0,
		"yearly_series_metrics": 0,
		"single_value_metrics":  0,
		"list_metrics":          0,
		"summary_metrics":       0,
	}

	type acc struct {
		total float64
		sum   float64
		n     int
	}
	groups := map[string]*acc{}
	if cat != nil {
		for _, g := range cat.StatGroups {
			groups[g.Name] = &acc{}
		}
	}

	for i := range metrics {
		m := &metrics[i]
		if !m.IsActive {
			continue
		}
		stats["active_metrics"]++
		switch m.DataType() {
		case model.DataTypeYearlySeries:
			stats["yearly_series_metrics"]++
		case model.DataTypeSingleValue:
			stats["single_value_metrics"]++
		case model.DataTypeList:
			stats["list_metrics"]++
		case model.DataTypeSummary:
			stats["summary_metrics"]++
		}

		if cat == nil {
			continue
		}
		for _, name := range cat.StatGroupFor(m.Category) {
			a := groups[name]
			switch p := m.Payload.(type) {
			case model.YearlySeries:
				latestYear, latest, found := "", 0.0, false
				for _, yv := range p {
					v, ok := numericOf(yv.NumericValue, yv.Value)
					if !ok {
						continue
					}
					a.sum += v
					a.n++
					if !found || yv.Year >= latestYear {
						latestYear, latest, found = yv.Year, v, true
					}
				}
				if found {
					a.total += latest
				}
			case *model.SingleValue:
				if v, ok := numericOf(p.NumericValue, p.Value); ok {
					a.total += v
					a.sum += v
					a.n++
				}
			}
		}
	}

	for name, a := range groups {
		stats[name+"_total"] = a.total
		if a.n > 0 {
			stats[name+"_average"] = a.sum / float64(a.n)
		} else {
			stats[name+"_average"] = 0
		}
	}
	return stats
}

// numericOf prefers the parsed numeric value and falls back to a raw number.
func numericOf(num *float64, raw any) (float64, bool) {
	if num != nil {
		return *num, true
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		if f := importer.ParseNumber(v); f != nil {
			return *f, true
		}
	}
	return 0, false
}
