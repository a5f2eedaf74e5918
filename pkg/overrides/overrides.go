// Package overrides holds the alias table that maps present-day unit names onto
// the names used by an older reference dataset.
package overrides

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/normalize"
	"github.com/politicai/apportion/pkg/tabular"
)

// Entry maps one alias onto a canonical reference name. EffectiveYear is the
// year the alias came into existence: the entry applies to reference data
// published before it. Zero applies to every year.
type Entry struct {
	Alias         string `yaml:"alias"`
	Canonical     string `yaml:"canonical"`
	EffectiveYear int    `yaml:"effective_year,omitempty"`
	Note          string `yaml:"note,omitempty"`
}

func (e Entry) appliesTo(referenceYear int) bool {
	return e.EffectiveYear == 0 || referenceYear == 0 || referenceYear < e.EffectiveYear
}

// File is the on-disk YAML form
type File struct {
	Version   string  `yaml:"version"`
	Overrides []Entry `yaml:"overrides"`
}

// Table resolves aliases. Several aliases may share a canonical name; one
// alias never resolves to two different canonical keys for the same year.
type Table struct {
	version string
	norm    *normalize.Normalizer
	byRaw   map[string][]Entry
	byKey   map[string][]Entry
	size    int
}

// Empty returns a table without entries
func Empty() *Table {
	t, _ := New("", nil, nil)
	return t
}

// New indexes entries, returning *models.IntegrityError for conflicting aliases
func New(version string, entries []Entry, norm *normalize.Normalizer) (*Table, error) {
	if norm == nil {
		norm = normalize.New(normalize.DefaultSuffixes)
	}
	t := &Table{
		version: version,
		norm:    norm,
		byRaw:   make(map[string][]Entry),
		byKey:   make(map[string][]Entry),
	}

	for i, e := range entries {
		e.Alias = strings.TrimSpace(e.Alias)
		e.Canonical = strings.TrimSpace(e.Canonical)
		if e.Alias == "" || e.Canonical == "" {
			return nil, fmt.Errorf("override entry %d: alias and canonical are required", i+1)
		}

		key := norm.Key(e.Alias)
		for _, existing := range t.byKey[key] {
			if existing.EffectiveYear != e.EffectiveYear {
				continue
			}
			if norm.Key(existing.Canonical) != norm.Key(e.Canonical) {
				return nil, &models.IntegrityError{
					Table:     "overrides " + version,
					Key:       e.Alias,
					Reason:    "alias maps to more than one canonical unit",
					Conflicts: []string{existing.Canonical, e.Canonical},
				}
			}
		}

		t.byRaw[e.Alias] = append(t.byRaw[e.Alias], e)
		if key != "" {
			t.byKey[key] = append(t.byKey[key], e)
		}
		t.size++
	}
	return t, nil
}

// Load reads a YAML (.yaml/.yml) or tabular (alias, canonical, effective_year) file
func Load(path string, norm *normalize.Normalizer) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read overrides: %w", err)
		}
		var f File
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse overrides %s: %w", path, err)
		}
		version := f.Version
		if version == "" {
			version = filepath.Base(path)
		}
		return New(version, f.Overrides, norm)
	default:
		table, err := tabular.DefaultRegistry().Load(path, tabular.Options{})
		if err != nil {
			return nil, err
		}
		return fromTable(table, norm)
	}
}

func fromTable(table *tabular.Table, norm *normalize.Normalizer) (*Table, error) {
	cols, err := table.ResolveAll(map[string]tabular.Selector{
		"alias":     tabular.ByName("alias"),
		"canonical": tabular.ByName("canonical"),
	})
	if err != nil {
		return nil, err
	}
	yearCol, yearErr := table.Resolve(tabular.ByName("effective_year"))

	entries := make([]Entry, 0, table.Len())
	for r := 0; r < table.Len(); r++ {
		e := Entry{
			Alias:     table.Cell(r, cols["alias"]),
			Canonical: table.Cell(r, cols["canonical"]),
		}
		if yearErr == nil {
			if raw := table.Cell(r, yearCol); raw != "" {
				year, err := strconv.Atoi(raw)
				if err != nil {
					return nil, fmt.Errorf("overrides row %d: invalid effective_year %q", r+2, raw)
				}
				e.EffectiveYear = year
			}
		}
		entries = append(entries, e)
	}
	return New(table.Name, entries, norm)
}

// Resolve returns the canonical name for name as seen by reference data of
// referenceYear. The raw display name is tried before its normalized key.
func (t *Table) Resolve(name string, referenceYear int) (string, bool) {
	if t == nil {
		return "", false
	}
	if e, ok := pick(t.byRaw[strings.TrimSpace(name)], referenceYear); ok {
		return e.Canonical, true
	}
	if key := t.norm.Key(name); key != "" {
		if e, ok := pick(t.byKey[key], referenceYear); ok {
			return e.Canonical, true
		}
	}
	return "", false
}

// pick prefers the nearest boundary change after referenceYear, then
// entries without a year
func pick(entries []Entry, referenceYear int) (Entry, bool) {
	var candidates []Entry
	for _, e := range entries {
		if e.appliesTo(referenceYear) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return Entry{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].EffectiveYear, candidates[j].EffectiveYear
		if (a == 0) != (b == 0) {
			return b == 0
		}
		return a < b
	})
	return candidates[0], true
}

// Len returns the number of entries
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.size
}

// Version returns the artifact version label
func (t *Table) Version() string {
	if t == nil {
		return ""
	}
	return t.version
}
