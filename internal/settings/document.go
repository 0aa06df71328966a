package settings

import (
	"fmt"
	"math"
	"sort"
)

const (
	SectionLLM     = "llm"
	SectionBrowser = "browser"
	SectionSearch  = "search"
	SectionSandbox = "sandbox"

	subsectionVision = "vision"
	subsectionProxy  = "proxy"
)

// ManagedSections are the top-level tables the panel edits.
var ManagedSections = []string{SectionLLM, SectionBrowser, SectionSearch, SectionSandbox}

// Document is the decoded configuration file. Values are TOML scalars or
// nested map[string]any tables.
type Document map[string]any

// NewDocument returns a document with every managed section present and empty.
func NewDocument() Document {
	doc := Document{}
	for _, name := range ManagedSections {
		doc[name] = map[string]any{}
	}
	return doc
}

// normalize synthesizes absent managed sections. A managed section that is
// present but not a table is reported as an error.
func (d Document) normalize() error {
	for _, name := range ManagedSections {
		value, ok := d[name]
		if !ok || value == nil {
			d[name] = map[string]any{}
			continue
		}
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("section %q must be a table, got %T", name, value)
		}
	}
	return nil
}

// Section returns a read-only view on a top-level table. Unknown or
// non-table sections read as empty.
func (d Document) Section(name string) Section {
	table, _ := d[name].(map[string]any)
	return Section{values: table}
}

// Clone returns a deep copy so callers can edit without touching the source.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneTable(d))
}

func cloneTable(table map[string]any) map[string]any {
	out := make(map[string]any, len(table))
	for key, value := range table {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneTable(v)
	case []map[string]any:
		tables := make([]map[string]any, len(v))
		for i, table := range v {
			tables[i] = cloneTable(table)
		}
		return tables
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = cloneValue(item)
		}
		return items
	default:
		return v
	}
}

// Section is an accessor over one table. Every read supplies a default;
// missing keys and mismatched types never fail.
type Section struct {
	values map[string]any
}

func (s Section) Get(key string, def any) any {
	if value, ok := s.values[key]; ok && value != nil {
		return value
	}
	return def
}

func (s Section) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

func (s Section) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s Section) String(key string, def string) string {
	if value, ok := s.values[key].(string); ok {
		return value
	}
	return def
}

func (s Section) Bool(key string, def bool) bool {
	if value, ok := s.values[key].(bool); ok {
		return value
	}
	return def
}

func (s Section) Int(key string, def int) int {
	switch value := s.values[key].(type) {
	case int64:
		return int(value)
	case int:
		return value
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return def
		}
		return int(value)
	default:
		return def
	}
}

func (s Section) Float(key string, def float64) float64 {
	switch value := s.values[key].(type) {
	case float64:
		return value
	case int64:
		return float64(value)
	case int:
		return float64(value)
	default:
		return def
	}
}

// Table returns a nested table view, empty when absent.
func (s Section) Table(key string) Section {
	table, _ := s.values[key].(map[string]any)
	return Section{values: table}
}
