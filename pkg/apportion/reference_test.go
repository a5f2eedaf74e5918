package apportion

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/politicai/apportion/pkg/config"
	"github.com/politicai/apportion/pkg/logging"
	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/normalize"
	"github.com/politicai/apportion/pkg/tabular"
)

func testLog() *logging.FieldLogger {
	return logging.NewTestLogger(&bytes.Buffer{}).WithFields(logging.Component("test"))
}

func censusTable() *tabular.Table {
	return &tabular.Table{
		Name:    "census",
		Columns: []string{"State Code", "Level", "Name", "TRU", "Hindus Persons", "Jains Persons"},
		Rows: [][]string{
			{"029", "SUB-DISTRICT", "Sub-District - Chikodi", "Total", "100", "5"},
			{"029", "SUB-DISTRICT", "Sub-District - Chikodi", "Urban", "40", "1"},
			{"29.0", "Sub-District", "Athni (Part)", "TOTAL", "1,000", ""},
			{"29", "DISTRICT", "Belgaum", "Total", "9", "9"},
			{"29", "SUB-DISTRICT", "", "Total", "9", "9"},
		},
	}
}

func referenceConfig() config.Reference {
	return config.Reference{
		Year:        2011,
		Name:        tabular.ByName("Name"),
		StateCode:   tabular.ByTokens("state", "code"),
		Level:       tabular.ByName("Level"),
		LevelMatch:  "sub-district",
		TRU:         tabular.ByName("TRU"),
		TotalPrefix: "t",
		Categories: []config.Category{
			{Name: "Hindu", Column: tabular.ByTokens("hindus")},
			{Name: "Jain", Column: tabular.ByTokens("jains")},
		},
	}
}

func TestBuildReferenceIndex(t *testing.T) {
	report := &Report{}
	idx, err := BuildReferenceIndex(censusTable(), referenceConfig(), normalize.New(normalize.DefaultSuffixes), report, testLog())
	require.NoError(t, err)

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, []string{"29"}, idx.States())
	assert.Equal(t, []string{"athni", "chikodi"}, idx.Keys("29"))
	assert.Equal(t, []string{"Hindu", "Jain"}, idx.Categories)
	assert.Equal(t, 2011, idx.Year)

	chikodi, ok := idx.Lookup("29", "chikodi")
	require.True(t, ok)
	assert.Equal(t, map[string]float64{"Hindu": 100, "Jain": 5}, chikodi.Values)
	assert.Equal(t, 2, chikodi.Row, "sheet line of the first data row")

	athni, ok := idx.Lookup("29", "athni")
	require.True(t, ok)
	assert.Equal(t, 1000.0, athni.Values["Hindu"])
	assert.Equal(t, 0.0, athni.Values["Jain"])

	assert.Empty(t, report.Warnings, "blank cells are not coercion failures")
	assert.Equal(t, 2, report.Summary.ReferenceUnits)
}

func TestBuildReferenceIndexWithoutFilters(t *testing.T) {
	cfg := referenceConfig()
	cfg.Level, cfg.TRU = tabular.Selector{}, tabular.Selector{}
	table := &tabular.Table{
		Name:    "plain",
		Columns: []string{"state_code", "Name", "Hindus", "Jains"},
		Rows:    [][]string{{"29", "Gokak", "10", "x"}},
	}

	report := &Report{}
	idx, err := BuildReferenceIndex(table, cfg, normalize.New(nil), report, testLog())
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 1, report.Summary.ParseFailures)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, WarnValueCoercion, report.Warnings[0].Kind)
	assert.Equal(t, "Gokak", report.Warnings[0].Subject)
}

func TestBuildReferenceIndexMissingCategory(t *testing.T) {
	cfg := referenceConfig()
	cfg.Categories = append(cfg.Categories, config.Category{Name: "Sikh", Column: tabular.ByTokens("sikhs", "persons")})

	_, err := BuildReferenceIndex(censusTable(), cfg, normalize.New(normalize.DefaultSuffixes), &Report{}, testLog())
	var schema *models.SchemaError
	require.True(t, errors.As(err, &schema))
	assert.Equal(t, "census", schema.Table)
	assert.Contains(t, schema.Column, "sikhs")
}
