// Package catalog holds the ESG category definitions: the metric-category
// enum of each category, how uploaded columns map onto it, and which metric
// categories roll up into summary statistics.
package catalog

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/esg-data/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is an indexed set of ESG categories.
type Catalog struct {
	Categories []Category `yaml:"categories" json:"categories"`
	byKey      map[model.Category]*Category
}

// Category describes one ESG category.
type Category struct {
	Key                   model.Category `yaml:"key" json:"key"`
	Name                  string         `yaml:"name" json:"name"`
	RecordType            string         `yaml:"record_type" json:"record_type"`
	DefaultMetricCategory string         `yaml:"default_metric_category" json:"default_metric_category,omitempty"`
	MetricCategories      []string       `yaml:"metric_categories" json:"metric_categories"`
	Columns               []ColumnRule   `yaml:"columns" json:"-"`
	StatGroups            []StatGroup    `yaml:"stat_groups" json:"stat_groups,omitempty"`

	metricSet map[string]bool
}

// ColumnRule maps headers containing any Match pattern to a metric category.
type ColumnRule struct {
	MetricCategory string   `yaml:"metric_category"`
	Subcategory    string   `yaml:"subcategory"`
	Match          []string `yaml:"match"`
}

// StatGroup names a set of metric categories summed and averaged together.
type StatGroup struct {
	Name             string   `yaml:"name" json:"name"`
	MetricCategories []string `yaml:"metric_categories" json:"metric_categories"`
}

// ColumnMatch is the result of resolving a header against a category.
type ColumnMatch struct {
	MetricCategory string
	Subcategory    string
	Fallback       bool // resolved to the default metric category
}

// LoadDefault returns the catalog compiled into the binary.
func LoadDefault() (*Catalog, error) {
	return Load(defaultCatalog)
}

// LoadFile reads a catalog override from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Load(data)
}

// Load parses and indexes a catalog document with a top-level "catalog" key.
func Load(data []byte) (*Catalog, error) {
	var wrapper struct {
		Catalog Catalog `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}

	c := &wrapper.Catalog
	if len(c.Categories) == 0 {
		return nil, eris.New("catalog: no categories defined")
	}
	c.byKey = make(map[model.Category]*Category, len(c.Categories))
	for i := range c.Categories {
		cat := &c.Categories[i]
		if cat.Key == "" {
			return nil, eris.Errorf("catalog: category %d has no key", i)
		}
		if _, dup := c.byKey[cat.Key]; dup {
			return nil, eris.Errorf("catalog: duplicate category %q", cat.Key)
		}
		if err := cat.index(); err != nil {
			return nil, err
		}
		c.byKey[cat.Key] = cat
	}
	return c, nil
}

func (cat *Category) index() error {
	cat.metricSet = make(map[string]bool, len(cat.MetricCategories))
	for _, mc := range cat.MetricCategories {
		cat.metricSet[mc] = true
	}
	if cat.DefaultMetricCategory != "" && !cat.metricSet[cat.DefaultMetricCategory] {
		return eris.Errorf("catalog: %s: default metric category %q not in enum", cat.Key, cat.DefaultMetricCategory)
	}
	for i := range cat.Columns {
		rule := &cat.Columns[i]
		if !cat.metricSet[rule.MetricCategory] {
			return eris.Errorf("catalog: %s: column rule targets unknown metric category %q", cat.Key, rule.MetricCategory)
		}
		for j, p := range rule.Match {
			rule.Match[j] = NormalizeHeader(p)
		}
	}
	for _, g := range cat.StatGroups {
		for _, mc := range g.MetricCategories {
			if !cat.metricSet[mc] {
				return eris.Errorf("catalog: %s: stat group %q references unknown metric category %q", cat.Key, g.Name, mc)
			}
		}
	}
	return nil
}

// Get returns the category for key, or nil if it is not defined.
func (c *Catalog) Get(key model.Category) *Category {
	return c.byKey[key]
}

// Keys returns the category keys in sorted order.
func (c *Catalog) Keys() []model.Category {
	keys := make([]model.Category, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// HasMetricCategory reports whether mc belongs to the category's enum.
func (cat *Category) HasMetricCategory(mc string) bool {
	return cat.metricSet[mc]
}

// ResolveColumn maps an uploaded column header to a metric category. The
// unit suffix is ignored. Rules are tried in order; when none matches the
// default metric category is used if configured.
func (cat *Category) ResolveColumn(header string) (ColumnMatch, bool) {
	name, _ := SplitUnit(header)
	h := NormalizeHeader(name)
	if h == "" {
		return ColumnMatch{}, false
	}
	// A header naming the metric category itself wins.
	if key := strings.ReplaceAll(h, " ", "_"); cat.metricSet[key] {
		return ColumnMatch{MetricCategory: key}, true
	}
	for _, rule := range cat.Columns {
		for _, p := range rule.Match {
			if h == p || strings.Contains(h, p) {
				return ColumnMatch{MetricCategory: rule.MetricCategory, Subcategory: rule.Subcategory}, true
			}
		}
	}
	if cat.DefaultMetricCategory != "" {
		return ColumnMatch{MetricCategory: cat.DefaultMetricCategory, Fallback: true}, true
	}
	return ColumnMatch{}, false
}

// StatGroupFor returns the names of the stat groups containing mc.
func (cat *Category) StatGroupFor(mc string) []string {
	var out []string
	for _, g := range cat.StatGroups {
		for _, m := range g.MetricCategories {
			if m == mc {
				out = append(out, g.Name)
				break
			}
		}
	}
	return out
}
