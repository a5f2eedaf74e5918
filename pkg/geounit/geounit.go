// Package geounit derives the state, district and constituency hierarchy from
// an election results table and seeds it into a store.
package geounit

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/politicai/apportion/pkg/config"
	"github.com/politicai/apportion/pkg/logging"
	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/normalize"
	"github.com/politicai/apportion/pkg/sink"
	"github.com/politicai/apportion/pkg/tabular"
)

var (
	codeStrip   = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	codeSpace   = regexp.MustCompile(`\s+`)
	codeCollaps = regexp.MustCompile(`_+`)
)

// DistrictCode derives a stable code: "Bengaluru Urban (North)" becomes
// "BENGALURU_URBAN_NORTH"
func DistrictCode(name string) string {
	code := strings.ToUpper(name)
	code = codeStrip.ReplaceAllString(code, "")
	code = codeSpace.ReplaceAllString(strings.TrimSpace(code), "_")
	code = codeCollaps.ReplaceAllString(code, "_")
	return strings.Trim(code, "_")
}

// Hierarchy is one state with its districts and constituencies
type Hierarchy struct {
	State          *models.GeoUnit
	Districts      []*models.GeoUnit
	Constituencies []*models.GeoUnit
	Years          []int
}

// Units lists every unit parents first
func (h *Hierarchy) Units() []*models.GeoUnit {
	units := make([]*models.GeoUnit, 0, 1+len(h.Districts)+len(h.Constituencies))
	units = append(units, h.State)
	units = append(units, h.Districts...)
	return append(units, h.Constituencies...)
}

type resultRow struct {
	row      int
	state    string
	number   int
	name     string
	district string
}

// Extract validates the results table and builds the hierarchy. Spelling
// variants of a constituency name are resolved per number to the most common
// one, ties going to the alphabetically first. Districts are ordered by name
// and constituencies by number.
func Extract(table *tabular.Table, cols config.GeoUnitColumns, expectedState, stateCode string) (*Hierarchy, error) {
	idx, err := table.ResolveAll(map[string]tabular.Selector{
		"state":    cols.State,
		"number":   cols.Number,
		"name":     cols.Name,
		"district": cols.District,
	})
	if err != nil {
		return nil, err
	}
	yearCol := -1
	if !cols.Year.IsZero() {
		if c, err := table.Resolve(cols.Year); err == nil {
			yearCol = c
		}
	}

	rows := make([]resultRow, 0, table.Len())
	years := make(map[int]bool)
	for r := 0; r < table.Len(); r++ {
		row := resultRow{
			row:      r + 2,
			state:    normalize.Text(table.Cell(r, idx["state"])),
			name:     normalize.Text(table.Cell(r, idx["name"])),
			district: normalize.Text(table.Cell(r, idx["district"])),
		}
		rawNumber := table.Cell(r, idx["number"])
		for _, f := range [][2]string{{"state", row.state}, {"number", rawNumber}, {"name", row.name}, {"district", row.district}} {
			if f[1] == "" {
				return nil, &models.IntegrityError{Table: table.Name, Key: fmt.Sprintf("row %d", row.row), Reason: "missing " + f[0]}
			}
		}
		n, err := parseInt(rawNumber)
		if err != nil {
			return nil, &models.IntegrityError{Table: table.Name, Key: fmt.Sprintf("row %d", row.row), Reason: fmt.Sprintf("invalid constituency number %q", rawNumber)}
		}
		row.number = n

		if yearCol >= 0 {
			raw := table.Cell(r, yearCol)
			y, err := parseInt(raw)
			if err != nil {
				return nil, &models.IntegrityError{Table: table.Name, Key: fmt.Sprintf("row %d", row.row), Reason: fmt.Sprintf("invalid year %q", raw)}
			}
			years[y] = true
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, &models.SchemaError{Table: table.Name, Reason: "no result rows"}
	}

	states := uniqueSorted(rows, func(r resultRow) string { return r.state })
	if len(states) != 1 || (expectedState != "" && states[0] != expectedState) {
		return nil, &models.IntegrityError{Table: table.Name, Key: "state", Reason: fmt.Sprintf("expected only %q", expectedState), Conflicts: states}
	}

	names := resolveNames(rows)
	districtOf := make(map[int]string)
	for _, r := range rows {
		if d, ok := districtOf[r.number]; ok && d != r.district {
			return nil, &models.IntegrityError{
				Table:     table.Name,
				Key:       fmt.Sprintf("AC %d", r.number),
				Reason:    "constituency number maps to more than one district",
				Conflicts: []string{d, r.district},
			}
		}
		districtOf[r.number] = r.district
	}

	if stateCode == "" {
		stateCode = DistrictCode(states[0])
	}
	h := &Hierarchy{State: &models.GeoUnit{Name: states[0], Key: normalize.Key(states[0]), Code: stateCode, Level: models.LevelState}}

	districts := make(map[string]*models.GeoUnit)
	for _, name := range uniqueSorted(rows, func(r resultRow) string { return r.district }) {
		d := &models.GeoUnit{Name: name, Key: normalize.Key(name), Code: DistrictCode(name), Level: models.LevelDistrict, Parent: h.State}
		districts[name] = d
		h.Districts = append(h.Districts, d)
	}

	numbers := make([]int, 0, len(names))
	for n := range names {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	for _, n := range numbers {
		h.Constituencies = append(h.Constituencies, &models.GeoUnit{
			Name:   names[n],
			Key:    normalize.Key(names[n]),
			Code:   strconv.Itoa(n),
			Level:  models.LevelConstituency,
			Number: n,
			Parent: districts[districtOf[n]],
		})
	}

	for y := range years {
		h.Years = append(h.Years, y)
	}
	sort.Ints(h.Years)
	return h, nil
}

// resolveNames picks the most frequent spelling per constituency number
func resolveNames(rows []resultRow) map[int]string {
	counts := make(map[int]map[string]int)
	for _, r := range rows {
		if counts[r.number] == nil {
			counts[r.number] = make(map[string]int)
		}
		counts[r.number][r.name]++
	}
	names := make(map[int]string, len(counts))
	for n, variants := range counts {
		best, bestCount := "", 0
		for name, c := range variants {
			if c > bestCount || (c == bestCount && name < best) {
				best, bestCount = name, c
			}
		}
		names[n] = best
	}
	return names
}

func uniqueSorted(rows []resultRow, field func(resultRow) string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, r := range rows {
		v := field(r)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// parseInt accepts spreadsheet renderings such as "6" and "6.0"
func parseInt(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	return int(f), nil
}

// Seeder writes a hierarchy through a GeoUnitWriter
type Seeder struct {
	writer sink.GeoUnitWriter
	logger *logging.Logger
}

// NewSeeder creates a seeder
func NewSeeder(writer sink.GeoUnitWriter, logger *logging.Logger) *Seeder {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Seeder{writer: writer, logger: logger}
}

// SeedResult counts what was processed
type SeedResult struct {
	States         int
	Districts      int
	Constituencies int
	Years          int
	IDs            map[string]int64
}

// Seed inserts missing units and election years. Existing units are left as
// they are, so repeated seeding is a no-op.
func (s *Seeder) Seed(ctx context.Context, h *Hierarchy) (*SeedResult, error) {
	log := s.logger.WithFields(logging.Component("geounit"))

	ids, err := s.writer.SaveGeoUnits(ctx, h.Units())
	if err != nil {
		return nil, fmt.Errorf("failed to seed geo units: %w", err)
	}
	log.Info("Seeded geo units", logging.String("state", h.State.Name),
		logging.Int("districts", len(h.Districts)), logging.Int("constituencies", len(h.Constituencies)))

	if len(h.Years) > 0 {
		if err := s.writer.SaveElectionYears(ctx, h.Years); err != nil {
			return nil, fmt.Errorf("failed to seed elections: %w", err)
		}
		log.Info("Seeded elections", logging.Int("years", len(h.Years)))
	}

	return &SeedResult{
		States:         1,
		Districts:      len(h.Districts),
		Constituencies: len(h.Constituencies),
		Years:          len(h.Years),
		IDs:            ids,
	}, nil
}
