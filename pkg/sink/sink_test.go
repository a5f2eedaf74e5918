package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/politicai/apportion/pkg/config"
	"github.com/politicai/apportion/pkg/models"
)

func sampleRows() []models.AggregateResult {
	return []models.AggregateResult{
		{Constituency: "Raibag", Year: 2011, Source: "census", Category: "Hindu", Amount: 5000, Percent: 80},
		{Constituency: "Raibag", Year: 2011, Source: "census", Category: "Muslim", Amount: 1250, Percent: 20},
		{Constituency: "Athni", Year: 2011, Source: "census", Category: "Hindu", Amount: 0, Percent: 0},
		{Constituency: "Athni", Year: 2011, Source: "census", Category: "Muslim", Amount: 0, Percent: 0},
		{Constituency: "Chikodi", Year: 2011, Source: "census", Category: "Hindu", Amount: 900.5, Percent: 100},
	}
}

func TestWriteBatches(t *testing.T) {
	mem := NewMemory()
	mem.Fail = func(rows []models.AggregateResult) error {
		if rows[0].Constituency == "Athni" {
			return errors.New("constraint violation")
		}
		return nil
	}

	report, err := WriteBatches(context.Background(), mem, sampleRows(), 2)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 3, report.Written)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 2, report.Failures[0].Batch)
	assert.Equal(t, []models.ResultKey{
		{Constituency: "Athni", Year: 2011, Category: "Hindu"},
		{Constituency: "Athni", Year: 2011, Category: "Muslim"},
	}, report.Failures[0].Keys)
	assert.Equal(t, 2, report.FailedRows())
	assert.ErrorContains(t, report.Failures[0], "constraint violation")

	stored := mem.Rows()
	require.Len(t, stored, 3)
	assert.Equal(t, "Chikodi", stored[2].Constituency)
	assert.Equal(t, 3, mem.Batches())
}

func TestWriteBatchesSkipsUnlinked(t *testing.T) {
	mem := NewMemory()
	mem.Link = func(constituency string) bool { return constituency != "Athni" }

	report, err := WriteBatches(context.Background(), mem, sampleRows(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 3, report.Written)
	assert.Empty(t, report.Failures)
	assert.Equal(t, []models.ResultKey{
		{Constituency: "Athni", Year: 2011, Category: "Hindu"},
		{Constituency: "Athni", Year: 2011, Category: "Muslim"},
	}, report.Unlinked)

	names, groups := UnlinkedByConstituency(report.Unlinked)
	assert.Equal(t, []string{"Athni"}, names)
	assert.Len(t, groups["Athni"], 2)
}

func TestWriteBatchesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := WriteBatches(ctx, NewMemory(), sampleRows(), 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Written)
}

func TestMemoryUpsert(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Upsert(ctx, sampleRows()))

	changed := sampleRows()[0]
	changed.Amount = 4000
	require.NoError(t, mem.Upsert(ctx, []models.AggregateResult{changed}))

	rows := mem.Rows()
	require.Len(t, rows, 5)
	assert.Equal(t, 4000.0, rows[0].Amount)
	require.NoError(t, mem.Close())
	assert.True(t, mem.Closed())
}

func TestCSVSinkUpsertsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.csv")
	ctx := context.Background()

	s, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, sampleRows()))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "constituency_name,year,source,category,amount,percent\n")
	assert.Contains(t, string(data), "Raibag,2011,census,Hindu,5000,80\n")
	assert.Contains(t, string(data), "Chikodi,2011,census,Hindu,900.5,100\n")

	rerun := sampleRows()[:1]
	rerun[0].Amount = 4000
	s, err = OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, rerun))
	require.NoError(t, s.Close())

	rows, err := readCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, 4000.0, rows[0].Amount)
}

func TestCSVSinkRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))
	_, err := OpenCSV(path)
	assert.ErrorContains(t, err, "has columns")
}

func TestXLSXSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.xlsx")
	ctx := context.Background()

	s, err := OpenXLSX(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, sampleRows()))
	require.NoError(t, s.Close())

	s, err = OpenXLSX(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, []models.AggregateResult{
		{Constituency: "Kagwad", Year: 2011, Source: "census", Category: "Hindu", Amount: 10, Percent: 100},
	}))
	require.NoError(t, s.Close())

	rows, err := readXLSX(path)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "Raibag", rows[0].Constituency)
	assert.InDelta(t, 5000, rows[0].Amount, 0.0001)
	assert.Equal(t, "Kagwad", rows[5].Constituency)
}

// seedConstituencies stores one district holding a constituency per name,
// numbered from 1 in argument order
func seedConstituencies(t *testing.T, w GeoUnitWriter, names ...string) map[string]int64 {
	t.Helper()
	state := &models.GeoUnit{Name: "Karnataka", Code: "KA", Level: models.LevelState}
	district := &models.GeoUnit{Name: "Belagavi", Code: "BELAGAVI", Level: models.LevelDistrict, Parent: state}
	units := []*models.GeoUnit{state, district}
	for i, name := range names {
		units = append(units, &models.GeoUnit{
			Name:   name,
			Code:   fmt.Sprintf("AC_%d", i+1),
			Level:  models.LevelConstituency,
			Number: i + 1,
			Parent: district,
		})
	}
	ids, err := w.SaveGeoUnits(context.Background(), units)
	require.NoError(t, err)
	return ids
}

func TestSQLiteSink(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "results.db"), "constituency_composition")
	require.NoError(t, err)
	defer s.Close()
	seedConstituencies(t, s, "Raibag", "Athni", "Chikodi")

	require.NoError(t, s.Upsert(ctx, sampleRows()))
	changed := sampleRows()[1]
	changed.Amount, changed.Source = 1300, "census v2"
	require.NoError(t, s.Upsert(ctx, []models.AggregateResult{changed}))

	rows, err := s.Results(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Athni", rows[0].Constituency)
	assert.Equal(t, changed, rows[4])
}

func TestSQLiteSinkLinksResultsToGeoUnits(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")

	seeder, err := OpenSQLite(path, "constituency_composition")
	require.NoError(t, err)
	ids := seedConstituencies(t, seeder, "Raibag (SC)", "Athni", "Chikodi")
	require.NoError(t, seeder.Close())

	s, err := OpenSQLite(path, "constituency_composition")
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.Linked("Raibag"), "normalized key resolves the qualified stored name")
	assert.False(t, s.Linked("Kittur"))

	kittur := models.AggregateResult{Constituency: "Kittur", Year: 2011, Source: "census", Category: "Hindu", Amount: 7, Percent: 100}
	report, err := WriteBatches(ctx, s, append(sampleRows(), kittur), 2)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Written)
	assert.Empty(t, report.Failures)
	assert.Equal(t, []models.ResultKey{kittur.Key()}, report.Unlinked)

	var geoID int64
	require.NoError(t, s.db.QueryRow(`SELECT geo_unit_id FROM constituency_composition WHERE constituency_name = 'Raibag' AND category = 'Muslim'`).Scan(&geoID))
	assert.Equal(t, ids["CONSTITUENCY/AC_1"], geoID)

	assert.ErrorIs(t, s.Upsert(ctx, []models.AggregateResult{kittur}), ErrNoGeoUnit)

	_, err = s.db.Exec(`INSERT INTO constituency_composition (geo_unit_id, constituency_name, year, category, amount, percent, updated_at)
		VALUES (999, 'Ghost', 2011, 'Hindu', 1, 100, '2026-01-01')`)
	assert.Error(t, err, "geo_unit_id must reference a stored unit")
}

func TestSQLiteSinkBatchRollback(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "results.db"), "constituency_composition")
	require.NoError(t, err)
	defer s.Close()
	seedConstituencies(t, s, "A", "B", "Bad", "C")

	_, err = s.db.Exec(`CREATE TRIGGER reject_bad BEFORE INSERT ON constituency_composition
		WHEN NEW.constituency_name = 'Bad'
		BEGIN SELECT RAISE(ABORT, 'rejected row'); END`)
	require.NoError(t, err)

	row := func(name string) models.AggregateResult {
		return models.AggregateResult{Constituency: name, Year: 2011, Source: "census", Category: "Hindu", Amount: 1, Percent: 100}
	}
	report, err := WriteBatches(ctx, s, []models.AggregateResult{row("A"), row("B"), row("Bad"), row("C")}, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 2, report.Written)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 2, report.Failures[0].Batch)
	assert.Equal(t, []models.ResultKey{row("Bad").Key(), row("C").Key()}, report.Failures[0].Keys)
	assert.ErrorContains(t, report.Failures[0], "rejected row")

	stored, err := s.Results(ctx)
	require.NoError(t, err)
	names := make([]string, len(stored))
	for i, r := range stored {
		names[i] = r.Constituency
	}
	assert.Equal(t, []string{"A", "B"}, names, "C shares the rolled-back transaction")
}

func TestGeoIndex(t *testing.T) {
	g := newGeoIndex()
	g.add(1, "Raibag (SC)")
	g.add(2, "Gokak")
	g.add(3, "GOKAK Taluk")
	g.add(4, "Kagwad")
	g.add(5, "Kagwad")
	g.add(1, "Raibag (SC)")

	id, ok := g.resolve("Raibag (SC)")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)
	id, ok = g.resolve("RAIBAG")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	id, ok = g.resolve("Gokak")
	assert.True(t, ok, "an exact name wins over an ambiguous key")
	assert.Equal(t, int64(2), id)
	_, ok = g.resolve("Gokak Tq")
	assert.False(t, ok, "two units share the key")
	_, ok = g.resolve("Kagwad")
	assert.False(t, ok, "two units share the name")
	_, ok = g.resolve("")
	assert.False(t, ok)

	assert.Contains(t, selectConstituenciesSQL, "'"+string(models.LevelConstituency)+"'")
}

func TestSQLiteSinkRejectsBadTable(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "results.db"), "results; DROP TABLE x")
	assert.Error(t, err)
}

func TestSQLiteGeoUnits(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "geo.db"), "constituency_composition")
	require.NoError(t, err)
	defer s.Close()

	state := &models.GeoUnit{Name: "Karnataka", Code: "KA", Level: models.LevelState}
	district := &models.GeoUnit{Name: "Belagavi", Code: "BELAGAVI", Level: models.LevelDistrict, Parent: state}
	ac := &models.GeoUnit{Name: "Raibag", Code: "AC_6", Level: models.LevelConstituency, Number: 6, Parent: district}

	ids, err := s.SaveGeoUnits(ctx, []*models.GeoUnit{state, district, ac})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	again, err := s.SaveGeoUnits(ctx, []*models.GeoUnit{state, district, ac})
	require.NoError(t, err)
	assert.Equal(t, ids, again, "insert-or-get returns existing ids")
	assert.True(t, s.Linked("Raibag"))
	assert.False(t, s.Linked("Belagavi"), "only constituencies are linkable")

	var parent int64
	require.NoError(t, s.db.QueryRow(`SELECT parent_id FROM geo_units WHERE code = 'AC_6'`).Scan(&parent))
	assert.Equal(t, ids["DISTRICT/BELAGAVI"], parent)

	orphan := &models.GeoUnit{Name: "Orphan", Code: "AC_7", Level: models.LevelConstituency, Parent: &models.GeoUnit{Code: "NOWHERE", Level: models.LevelDistrict}}
	_, err = s.SaveGeoUnits(ctx, []*models.GeoUnit{orphan})
	assert.ErrorContains(t, err, "before its parent")

	require.NoError(t, s.SaveElectionYears(ctx, []int{2013, 2018, 2018}))
	require.NoError(t, s.SaveElectionYears(ctx, []int{2018, 2023}))
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM elections`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestPostgresStatements(t *testing.T) {
	sql := upsertResultSQL("constituency_composition")
	assert.Contains(t, sql, `INSERT INTO "constituency_composition" (geo_unit_id,`)
	assert.Contains(t, sql, "ON CONFLICT (geo_unit_id, year, category) DO UPDATE")

	schema := postgresSchema("constituency_composition")
	assert.Contains(t, schema, "UNIQUE (code, level)")
	assert.Contains(t, schema, "geo_unit_id BIGINT NOT NULL REFERENCES geo_units(id)")
	assert.Less(t, strings.Index(schema, "geo_units ("), strings.Index(schema, `"constituency_composition"`))

	geo := newGeoIndex()
	geo.add(1, "Raibag")
	geo.add(2, "Athni")
	geo.add(3, "Chikodi")
	batch, err := resultBatch("constituency_composition", sampleRows(), geo, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, batch.Len())
	assert.Equal(t, int64(1), batch.QueuedQueries[0].Arguments[0])

	_, err = resultBatch("constituency_composition", []models.AggregateResult{{Constituency: "Kittur", Year: 2011, Category: "Hindu"}}, geo, time.Now())
	assert.ErrorIs(t, err, ErrNoGeoUnit)
}

func TestMongoModels(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	writes := upsertModels(sampleRows()[:2], now)
	require.Len(t, writes, 2)

	m, ok := writes[0].(*mongo.UpdateOneModel)
	require.True(t, ok)
	require.NotNil(t, m.Upsert)
	assert.True(t, *m.Upsert)
	assert.Equal(t, bson.D{
		{Key: "constituency_name", Value: "Raibag"},
		{Key: "year", Value: 2011},
		{Key: "category", Value: "Hindu"},
	}, m.Filter)

	set := m.Update.(bson.D)[0]
	assert.Equal(t, "$set", set.Key)
	assert.Contains(t, set.Value.(bson.D), bson.E{Key: "amount", Value: 5000.0})
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"csv", "mongo", "postgres", "sqlite", "xlsx"}, r.Types())

	path := filepath.Join(t.TempDir(), "results.csv")
	s, err := r.Open(context.Background(), config.Sink{Type: "csv", Path: path})
	require.NoError(t, err)
	assert.Equal(t, "csv", s.Name())
	require.NoError(t, s.Close())

	_, err = r.Open(context.Background(), config.Sink{Type: "redis"})
	assert.ErrorContains(t, err, "sink type not found")

	r.Register("memory", func(context.Context, config.Sink) (Sink, error) { return NewMemory(), nil })
	s, err = r.Open(context.Background(), config.Sink{Type: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())
}
