package apportion

import (
	"fmt"
	"sort"
	"strings"

	"github.com/politicai/apportion/pkg/config"
	"github.com/politicai/apportion/pkg/logging"
	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/normalize"
	"github.com/politicai/apportion/pkg/tabular"
)

// ReferenceUnit is one sub-district total row of the reference table
type ReferenceUnit struct {
	Name      string
	Key       string
	StateCode string
	Row       int
	Values    map[string]float64
}

type scopedKey struct {
	state string
	key   string
}

// ReferenceIndex holds reference units by (state code, normalized name).
// The pair is unique; a collision is an IntegrityError.
type ReferenceIndex struct {
	Year       int
	Categories []string
	units      map[scopedKey]*ReferenceUnit
	byState    map[string][]string
}

// BuildReferenceIndex filters the table down to sub-district totals and
// indexes them. Unparseable measured values become zero with a warning.
func BuildReferenceIndex(table *tabular.Table, cfg config.Reference, norm *normalize.Normalizer, report *Report, log *logging.FieldLogger) (*ReferenceIndex, error) {
	cols, err := table.ResolveAll(map[string]tabular.Selector{
		"name":       cfg.Name,
		"state_code": cfg.StateCode,
	})
	if err != nil {
		return nil, err
	}
	levelCol, err := optionalColumn(table, cfg.Level)
	if err != nil {
		return nil, err
	}
	truCol, err := optionalColumn(table, cfg.TRU)
	if err != nil {
		return nil, err
	}

	categoryCols := make([]int, len(cfg.Categories))
	idx := &ReferenceIndex{
		Year:       cfg.Year,
		Categories: make([]string, len(cfg.Categories)),
		units:      make(map[scopedKey]*ReferenceUnit),
		byState:    make(map[string][]string),
	}
	for i, cat := range cfg.Categories {
		c, err := table.Resolve(cat.Column)
		if err != nil {
			return nil, err
		}
		categoryCols[i] = c
		idx.Categories[i] = cat.Name
	}

	for r := 0; r < table.Len(); r++ {
		if levelCol >= 0 && !strings.Contains(strings.ToLower(table.Cell(r, levelCol)), strings.ToLower(cfg.LevelMatch)) {
			continue
		}
		if truCol >= 0 && !strings.HasPrefix(strings.ToLower(table.Cell(r, truCol)), strings.ToLower(cfg.TotalPrefix)) {
			continue
		}

		name := table.Cell(r, cols["name"])
		key := norm.Key(name)
		if key == "" {
			continue
		}
		unit := &ReferenceUnit{
			Name:      name,
			Key:       key,
			StateCode: stateCode(table.Cell(r, cols["state_code"])),
			Row:       r + 2,
			Values:    make(map[string]float64, len(categoryCols)),
		}

		sk := scopedKey{state: unit.StateCode, key: key}
		if existing, dup := idx.units[sk]; dup {
			return nil, &models.IntegrityError{
				Table:  table.Name,
				Key:    fmt.Sprintf("%s/%s", unit.StateCode, key),
				Reason: "more than one sub-district normalizes to the same key",
				Conflicts: []string{
					fmt.Sprintf("%s (row %d)", existing.Name, existing.Row),
					fmt.Sprintf("%s (row %d)", unit.Name, unit.Row),
				},
			}
		}

		for i, c := range categoryCols {
			raw := table.Cell(r, c)
			v, ok := parseNumber(raw)
			if !ok {
				report.Summary.ParseFailures++
				w := report.warn(WarnValueCoercion, table.Name, name, fmt.Sprintf("%s value %q treated as 0", idx.Categories[i], raw))
				log.Warn("Unparseable measured value", logging.String("table", w.Table), logging.String("unit", name),
					logging.String("category", idx.Categories[i]), logging.String("value", raw))
			}
			unit.Values[idx.Categories[i]] = v
		}

		idx.units[sk] = unit
		idx.byState[unit.StateCode] = append(idx.byState[unit.StateCode], key)
	}

	for state := range idx.byState {
		sort.Strings(idx.byState[state])
	}
	report.Summary.ReferenceUnits = len(idx.units)
	return idx, nil
}

func optionalColumn(table *tabular.Table, sel tabular.Selector) (int, error) {
	if sel.IsZero() {
		return -1, nil
	}
	return table.Resolve(sel)
}

// Keys returns the sorted unit keys of one state
func (idx *ReferenceIndex) Keys(state string) []string {
	return idx.byState[state]
}

// States returns the sorted state codes present
func (idx *ReferenceIndex) States() []string {
	states := make([]string, 0, len(idx.byState))
	for s := range idx.byState {
		states = append(states, s)
	}
	sort.Strings(states)
	return states
}

// Lookup returns the unit for a state and key
func (idx *ReferenceIndex) Lookup(state, key string) (*ReferenceUnit, bool) {
	u, ok := idx.units[scopedKey{state: state, key: key}]
	return u, ok
}

// Len returns the number of indexed units
func (idx *ReferenceIndex) Len() int {
	return len(idx.units)
}
