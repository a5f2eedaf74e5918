package sink

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/normalize"
)

// ErrNoGeoUnit is returned when a row names a constituency with no stored unit
var ErrNoGeoUnit = errors.New("no stored constituency geo unit")

// Linker is implemented by sinks that key rows by a stored geo unit
type Linker interface {
	// Linked reports whether constituency resolves to exactly one stored unit
	Linked(constituency string) bool
}

const selectConstituenciesSQL = `SELECT id, name FROM geo_units WHERE level = 'CONSTITUENCY'`

// geoIndex resolves constituency names to geo_units ids. An exact name wins;
// otherwise the normalized key is used when it names a single unit.
type geoIndex struct {
	mu     sync.RWMutex
	norm   *normalize.Normalizer
	byName map[string][]int64
	byKey  map[string][]int64
}

func newGeoIndex() *geoIndex {
	return &geoIndex{
		norm:   normalize.New(normalize.DefaultSuffixes),
		byName: make(map[string][]int64),
		byKey:  make(map[string][]int64),
	}
}

func (g *geoIndex) add(id int64, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byName[name] = appendID(g.byName[name], id)
	if key := g.norm.Key(name); key != "" {
		g.byKey[key] = appendID(g.byKey[key], id)
	}
}

func (g *geoIndex) resolve(name string) (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if ids, ok := g.byName[name]; ok {
		return single(ids)
	}
	return single(g.byKey[g.norm.Key(name)])
}

// link resolves the unit id of every row or fails on the first unresolved one
func (g *geoIndex) link(rows []models.AggregateResult) ([]int64, error) {
	ids := make([]int64, len(rows))
	for i, r := range rows {
		id, ok := g.resolve(r.Constituency)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoGeoUnit, r.Key())
		}
		ids[i] = id
	}
	return ids, nil
}

// addUnits indexes the constituencies among units saved with ids
func (g *geoIndex) addUnits(units []*models.GeoUnit, ids map[string]int64) {
	for _, u := range units {
		if u.Level != models.LevelConstituency {
			continue
		}
		if id, ok := ids[GeoUnitID(u)]; ok {
			g.add(id, u.Name)
		}
	}
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func (g *geoIndex) load(rows rowScanner) error {
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("failed to scan geo unit: %w", err)
		}
		g.add(id, name)
	}
	return rows.Err()
}

func appendID(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func single(ids []int64) (int64, bool) {
	if len(ids) != 1 {
		return 0, false
	}
	return ids[0], true
}

// partitionLinked splits rows into those l can store and the keys of the rest
func partitionLinked(l Linker, rows []models.AggregateResult) ([]models.AggregateResult, []models.ResultKey) {
	linked := make([]models.AggregateResult, 0, len(rows))
	var unlinked []models.ResultKey
	for _, r := range rows {
		if l.Linked(r.Constituency) {
			linked = append(linked, r)
			continue
		}
		unlinked = append(unlinked, r.Key())
	}
	return linked, unlinked
}

// UnlinkedByConstituency groups unlinked keys by constituency in name order
func UnlinkedByConstituency(keys []models.ResultKey) ([]string, map[string][]models.ResultKey) {
	groups := make(map[string][]models.ResultKey)
	for _, k := range keys {
		groups[k.Constituency] = append(groups[k.Constituency], k)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, groups
}
