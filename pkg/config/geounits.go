package config

import (
	"fmt"
	"path/filepath"

	"github.com/politicai/apportion/pkg/logging"
	"github.com/politicai/apportion/pkg/tabular"
)

// GeoUnitColumns selects the election results columns the hierarchy is built from
type GeoUnitColumns struct {
	State    tabular.Selector `yaml:"state"`
	Number   tabular.Selector `yaml:"number"`
	Name     tabular.Selector `yaml:"name"`
	District tabular.Selector `yaml:"district"`
	Year     tabular.Selector `yaml:"year,omitempty"`
}

// GeoUnits configures seeding of the state, district and constituency hierarchy
type GeoUnits struct {
	Results       Input                 `yaml:"results"`
	Columns       GeoUnitColumns        `yaml:"columns"`
	ExpectedState string                `yaml:"expected_state"`
	StateCode     string                `yaml:"state_code"`
	Sink          Sink                  `yaml:"sink"`
	Logging       logging.LoggingConfig `yaml:"logging"`
}

// LoadGeoUnits reads a geo-unit seeding file
func LoadGeoUnits(path string) (*GeoUnits, error) {
	cfg := &GeoUnits{}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	cfg.Results.Path = resolvePath(dir, cfg.Results.Path)
	if cfg.Sink.Path != "" {
		cfg.Sink.Path = resolvePath(dir, cfg.Sink.Path)
	}

	cfg.ApplyDefaults()
	cfg.Logging.Level = getEnv("APPORTION_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("APPORTION_LOG_FORMAT", cfg.Logging.Format)
	cfg.Sink.DSN = getEnv("DATABASE_URL", cfg.Sink.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills the column headers used by the state election results
func (g *GeoUnits) ApplyDefaults() {
	if g.Columns.State.IsZero() {
		g.Columns.State = tabular.ByName("STATE/UT NAME")
	}
	if g.Columns.Number.IsZero() {
		g.Columns.Number = tabular.ByName("AC NO.")
	}
	if g.Columns.Name.IsZero() {
		g.Columns.Name = tabular.ByName("AC NAME")
	}
	if g.Columns.District.IsZero() {
		g.Columns.District = tabular.ByName("DISTRICTS")
	}
	if g.Columns.Year.IsZero() {
		g.Columns.Year = tabular.ByName("YEAR")
	}
	if g.Sink.Type == "" {
		g.Sink.Type = "sqlite"
	}
	g.Sink.applyDefaults()
	if g.Logging.Level == "" {
		g.Logging.Level = "info"
	}
	if g.Logging.Format == "" {
		g.Logging.Format = "text"
	}
}

// Validate requires a results file and a store that can hold geo units
func (g *GeoUnits) Validate() error {
	if g.Results.Path == "" {
		return fmt.Errorf("results.path is required")
	}
	if g.Sink.Type != "sqlite" && g.Sink.Type != "postgres" {
		return fmt.Errorf("geo units can only be written to sqlite or postgres, got %q", g.Sink.Type)
	}
	return g.Sink.Validate()
}
