package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/politicai/apportion/pkg/tabular"
)

const runYAML = `name: karnataka-religion
year: 2011
source: Census 2011 (taluk-weighted)
reference:
  path: data/census.xlsx
  level_column: {tokens: [level]}
  tru_column: {tokens: [tru]}
  categories:
    - name: Hindu
      column: {tokens: [hindus, persons]}
    - name: Muslim
      column: {tokens: [muslims, persons]}
mapping:
  path: data/mapping.csv
overrides: overrides.yaml
sink:
  type: sqlite
  path: out/results.db
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, runYAML)
	dir := filepath.Dir(path)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "karnataka-religion", cfg.Name)
	assert.Equal(t, 2011, cfg.Year)
	assert.Equal(t, 2011, cfg.Reference.Year)
	assert.Equal(t, filepath.Join(dir, "data/census.xlsx"), cfg.Reference.Path)
	assert.Equal(t, filepath.Join(dir, "overrides.yaml"), cfg.Overrides)
	assert.Equal(t, filepath.Join(dir, "out/results.db"), cfg.Sink.Path)

	require.Len(t, cfg.Reference.Categories, 2)
	assert.Equal(t, []string{"muslims", "persons"}, cfg.Reference.Categories[1].Column.Tokens)
	assert.Equal(t, "sub-district", cfg.Reference.LevelMatch)
	assert.Equal(t, "t", cfg.Reference.TotalPrefix)
	assert.Equal(t, tabular.ByTokens("state", "code"), cfg.Reference.StateCode)
	assert.Equal(t, tabular.ByTokens("area", "name"), cfg.Reference.Name)
	assert.Equal(t, tabular.ByName("share_of_taluk_in_constituency"), cfg.Mapping.Share)

	assert.Equal(t, 85.0, cfg.Matcher.Threshold)
	assert.Equal(t, "weighted", cfg.Matcher.Scorer)
	assert.Nil(t, cfg.Normalizer.Suffixes)
	assert.Equal(t, DefaultBatchSize, cfg.Sink.BatchSize)
	assert.Equal(t, "constituency_composition", cfg.Sink.Table)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("APPORTION_LOG_LEVEL", "debug")
	t.Setenv("APPORTION_LOG_FORMAT", "json")
	t.Setenv("APPORTION_BATCH_SIZE", "50")
	t.Setenv("APPORTION_RUNSTORE", "/var/lib/apportion/runs.db")

	cfg, err := LoadConfig(writeConfig(t, runYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 50, cfg.Sink.BatchSize)
	assert.Equal(t, "/var/lib/apportion/runs.db", cfg.RunStore)
}

func TestLoadConfigInvalidBatchSizeEnvIgnored(t *testing.T) {
	t.Setenv("APPORTION_BATCH_SIZE", "lots")
	cfg, err := LoadConfig(writeConfig(t, runYAML))
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, cfg.Sink.BatchSize)
}

func TestDatabaseURLFeedsPostgresSink(t *testing.T) {
	body := runYAML[:len(runYAML)-len("sink:\n  type: sqlite\n  path: out/results.db\n")] + "sink:\n  type: postgres\n"
	_, err := LoadConfig(writeConfig(t, body))
	assert.ErrorContains(t, err, "dsn")

	t.Setenv("DATABASE_URL", "postgres://localhost/politicai")
	cfg, err := LoadConfig(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/politicai", cfg.Sink.DSN)
}

func TestLoadConfigZeroThresholdSelectsDefault(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, runYAML+"matcher:\n  threshold: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 85.0, cfg.Matcher.Threshold)

	cfg, err = LoadConfig(writeConfig(t, runYAML+"matcher:\n  threshold: 92.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 92.5, cfg.Matcher.Threshold)

	_, err = LoadConfig(writeConfig(t, runYAML+"matcher:\n  threshold: -1\n"))
	assert.ErrorContains(t, err, "matcher.threshold")
}

func TestLoadConfigElectoral(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, runYAML))
	require.NoError(t, err)
	assert.Nil(t, cfg.Electoral)

	cfg, err = LoadConfig(writeConfig(t, runYAML+"electoral:\n  nota: [NOTA, None of the Above]\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Electoral)
	assert.Equal(t, []string{"NOTA", "None of the Above"}, cfg.Electoral.NOTA)

	cfg, err = LoadConfig(writeConfig(t, runYAML+"electoral: {}\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Electoral)
	assert.Nil(t, cfg.Electoral.NOTA)
}

func TestShippedRunConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "karnataka-2011.yaml"))
	require.NoError(t, err)
	assert.Equal(t, tabular.ByTokens("area", "name"), cfg.Reference.Name)
	assert.Equal(t, tabular.ByTokens("area", "name"), cfg.Reference.Level)
	assert.Equal(t, "sub-district -", cfg.Reference.LevelMatch)
	assert.Equal(t, tabular.ByTokens("tru"), cfg.Reference.TRU)
	assert.Len(t, cfg.Reference.Categories, 6)
	assert.Equal(t, 85.0, cfg.Matcher.Threshold)
	assert.Equal(t, "sqlite", cfg.Sink.Type)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Year:      2011,
			Reference: Reference{Input: Input{Path: "census.csv"}, Categories: []Category{{Name: "Hindu", Column: tabular.ByIndex(3)}}},
			Mapping:   Mapping{Input: Input{Path: "mapping.csv"}},
			Sink:      Sink{Path: "out.csv"},
		}
		cfg.ApplyDefaults()
		return cfg
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(c *Config){
		"year":        func(c *Config) { c.Year = 0 },
		"reference":   func(c *Config) { c.Reference.Path = "" },
		"mapping":     func(c *Config) { c.Mapping.Path = "" },
		"categories":  func(c *Config) { c.Reference.Categories = nil },
		"no column":   func(c *Config) { c.Reference.Categories[0].Column = tabular.Selector{} },
		"duplicate":   func(c *Config) { c.Reference.Categories = append(c.Reference.Categories, c.Reference.Categories[0]) },
		"threshold":   func(c *Config) { c.Matcher.Threshold = 120 },
		"negative":    func(c *Config) { c.Matcher.Threshold = -5 },
		"scorer":      func(c *Config) { c.Matcher.Scorer = "soundex" },
		"sink type":   func(c *Config) { c.Sink.Type = "redis" },
		"sink path":   func(c *Config) { c.Sink.Path = "" },
		"schedule":    func(c *Config) { c.Schedule = "every day" },
		"log format":  func(c *Config) { c.Logging.Format = "xml" },
		"constituent": func(c *Config) { c.Constituencies = &Constituencies{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestInputOptions(t *testing.T) {
	no := false
	opts := Input{Sheet: "Data", SkipRows: 2, HasHeaders: &no, Delimiter: ";"}.Options()
	assert.Equal(t, "Data", opts.Sheet)
	assert.Equal(t, 2, opts.SkipRows)
	assert.Equal(t, ";", opts.Delimiter)
	require.NotNil(t, opts.HasHeaders)
	assert.False(t, *opts.HasHeaders)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APPORTION_TEST_DOTENV=loaded\n"), 0o644))
	t.Setenv("APPORTION_TEST_DOTENV", "")
	os.Unsetenv("APPORTION_TEST_DOTENV")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("APPORTION_TEST_DOTENV"))
}

func TestLoadGeoUnits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geounits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`results:
  path: results.xlsx
expected_state: Karnataka
state_code: KA
sink:
  path: geo.db
`), 0o644))

	cfg, err := LoadGeoUnits(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "results.xlsx"), cfg.Results.Path)
	assert.Equal(t, "sqlite", cfg.Sink.Type)
	assert.Equal(t, tabular.ByName("AC NO."), cfg.Columns.Number)
	assert.Equal(t, "Karnataka", cfg.ExpectedState)
	assert.Equal(t, "KA", cfg.StateCode)

	cfg.Sink.Type = "csv"
	assert.Error(t, cfg.Validate())
}
