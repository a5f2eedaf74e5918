package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/politicai/apportion/pkg/logging"
	"github.com/politicai/apportion/pkg/matching"
	"github.com/politicai/apportion/pkg/tabular"
)

// DefaultBatchSize is the number of output rows per sink transaction
const DefaultBatchSize = 500

// SinkTypes are the sink kinds a config may name
var SinkTypes = []string{"csv", "xlsx", "sqlite", "postgres", "mongo"}

// Input locates one tabular file
type Input struct {
	Path       string `yaml:"path"`
	Sheet      string `yaml:"sheet,omitempty"`
	SkipRows   int    `yaml:"skip_rows,omitempty"`
	HasHeaders *bool  `yaml:"has_headers,omitempty"`
	Delimiter  string `yaml:"delimiter,omitempty"`
}

// Options converts the input settings for the tabular loaders
func (in Input) Options() tabular.Options {
	return tabular.Options{
		Sheet:      in.Sheet,
		SkipRows:   in.SkipRows,
		HasHeaders: in.HasHeaders,
		Delimiter:  in.Delimiter,
	}
}

// Category binds an output category to the reference column holding it
type Category struct {
	Name   string           `yaml:"name"`
	Column tabular.Selector `yaml:"column"`
}

// Reference describes the per-sub-district counts table. Level and TRU are
// optional filters: rows are kept when the level contains LevelMatch and the
// TRU flag starts with TotalPrefix, both ignoring case.
type Reference struct {
	Input       `yaml:",inline"`
	Year        int              `yaml:"year,omitempty"`
	Name        tabular.Selector `yaml:"name_column"`
	StateCode   tabular.Selector `yaml:"state_code_column"`
	Level       tabular.Selector `yaml:"level_column,omitempty"`
	LevelMatch  string           `yaml:"level_match,omitempty"`
	TRU         tabular.Selector `yaml:"tru_column,omitempty"`
	TotalPrefix string           `yaml:"total_prefix,omitempty"`
	Categories  []Category       `yaml:"categories"`
}

// Mapping describes the sub-district to constituency share table
type Mapping struct {
	Input        `yaml:",inline"`
	SubDistrict  tabular.Selector `yaml:"sub_district_column"`
	Constituency tabular.Selector `yaml:"constituency_column"`
	StateCode    tabular.Selector `yaml:"state_code_column"`
	District     tabular.Selector `yaml:"district_column,omitempty"`
	Share        tabular.Selector `yaml:"share_column"`
}

// Constituencies optionally lists canonical constituency names; output
// names are matched against it.
type Constituencies struct {
	Input `yaml:",inline"`
	Name  tabular.Selector `yaml:"name_column"`
}

// Matcher tunes fuzzy matching. A zero or omitted threshold selects
// matching.DefaultThreshold (85); a score of 0 would accept every candidate.
type Matcher struct {
	Threshold float64 `yaml:"threshold"`
	Scorer    string  `yaml:"scorer"`
}

// Electoral enables contest statistics when the categories are parties and
// the amounts vote counts. A nil NOTA list treats "NOTA" as the only
// non-contesting category.
type Electoral struct {
	NOTA []string `yaml:"nota,omitempty"`
}

// Normalizer overrides the stripped suffix list. A nil list keeps the
// defaults; an empty list strips nothing.
type Normalizer struct {
	Suffixes []string `yaml:"suffixes"`
}

// Sink selects the output destination
type Sink struct {
	Type       string `yaml:"type"`
	Path       string `yaml:"path,omitempty"`
	DSN        string `yaml:"dsn,omitempty"`
	Table      string `yaml:"table,omitempty"`
	Database   string `yaml:"database,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	BatchSize  int    `yaml:"batch_size,omitempty"`
}

// Config is one apportionment run
type Config struct {
	Name           string                `yaml:"name"`
	Year           int                   `yaml:"year"`
	Source         string                `yaml:"source"`
	Reference      Reference             `yaml:"reference"`
	Mapping        Mapping               `yaml:"mapping"`
	Overrides      string                `yaml:"overrides,omitempty"`
	Constituencies *Constituencies       `yaml:"constituencies,omitempty"`
	Matcher        Matcher               `yaml:"matcher"`
	Electoral      *Electoral            `yaml:"electoral,omitempty"`
	Normalizer     Normalizer            `yaml:"normalizer"`
	Sink           Sink                  `yaml:"sink"`
	RunStore       string                `yaml:"run_store,omitempty"`
	Schedule       string                `yaml:"schedule,omitempty"`
	Logging        logging.LoggingConfig `yaml:"logging"`
}

// LoadDotEnv loads .env files into the environment, ignoring missing ones
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig reads a run file, applies defaults and environment overrides,
// and validates the result
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	cfg.Reference.Path = resolvePath(dir, cfg.Reference.Path)
	cfg.Mapping.Path = resolvePath(dir, cfg.Mapping.Path)
	cfg.Overrides = resolvePath(dir, cfg.Overrides)
	if cfg.Constituencies != nil {
		cfg.Constituencies.Path = resolvePath(dir, cfg.Constituencies.Path)
	}
	if cfg.Sink.Path != "" {
		cfg.Sink.Path = resolvePath(dir, cfg.Sink.Path)
	}
	if cfg.RunStore != "" {
		cfg.RunStore = resolvePath(dir, cfg.RunStore)
	}

	cfg.ApplyDefaults()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "apportion"
	}
	if c.Reference.Year == 0 {
		c.Reference.Year = c.Year
	}
	if c.Reference.Name.IsZero() {
		c.Reference.Name = tabular.ByTokens("area", "name")
	}
	if c.Reference.StateCode.IsZero() {
		c.Reference.StateCode = tabular.ByTokens("state", "code")
	}
	if !c.Reference.Level.IsZero() && c.Reference.LevelMatch == "" {
		c.Reference.LevelMatch = "sub-district"
	}
	if !c.Reference.TRU.IsZero() && c.Reference.TotalPrefix == "" {
		c.Reference.TotalPrefix = "t"
	}

	if c.Mapping.SubDistrict.IsZero() {
		c.Mapping.SubDistrict = tabular.ByName("taluk_name")
	}
	if c.Mapping.Constituency.IsZero() {
		c.Mapping.Constituency = tabular.ByName("constituency_name")
	}
	if c.Mapping.StateCode.IsZero() {
		c.Mapping.StateCode = tabular.ByName("state_code")
	}
	if c.Mapping.Share.IsZero() {
		c.Mapping.Share = tabular.ByName("share_of_taluk_in_constituency")
	}
	if c.Constituencies != nil && c.Constituencies.Name.IsZero() {
		c.Constituencies.Name = tabular.ByName("AC NAME")
	}

	if c.Matcher.Threshold == 0 {
		c.Matcher.Threshold = matching.DefaultThreshold
	}
	if c.Matcher.Scorer == "" {
		c.Matcher.Scorer = matching.DefaultScorer
	}
	c.Sink.applyDefaults()
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// ApplyEnv overlays environment variables on the file settings
func (c *Config) ApplyEnv() {
	c.Logging.Level = getEnv("APPORTION_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("APPORTION_LOG_FORMAT", c.Logging.Format)
	c.Sink.DSN = getEnv("DATABASE_URL", c.Sink.DSN)
	c.Sink.BatchSize = getEnvAsInt("APPORTION_BATCH_SIZE", c.Sink.BatchSize)
	c.RunStore = getEnv("APPORTION_RUNSTORE", c.RunStore)
}

// Validate rejects configurations a run cannot start with
func (c *Config) Validate() error {
	if c.Year <= 0 {
		return fmt.Errorf("year is required")
	}
	if c.Reference.Path == "" {
		return fmt.Errorf("reference.path is required")
	}
	if c.Mapping.Path == "" {
		return fmt.Errorf("mapping.path is required")
	}
	if len(c.Reference.Categories) == 0 {
		return fmt.Errorf("reference.categories must not be empty")
	}
	seen := make(map[string]bool, len(c.Reference.Categories))
	for i, cat := range c.Reference.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			return fmt.Errorf("reference.categories[%d]: name is required", i)
		}
		if cat.Column.IsZero() {
			return fmt.Errorf("reference.categories[%d] (%s): column is required", i, cat.Name)
		}
		if seen[cat.Name] {
			return fmt.Errorf("reference.categories: duplicate category %q", cat.Name)
		}
		seen[cat.Name] = true
	}
	if c.Constituencies != nil && c.Constituencies.Path == "" {
		return fmt.Errorf("constituencies.path is required when constituencies is set")
	}
	if c.Matcher.Threshold <= 0 || c.Matcher.Threshold > 100 {
		return fmt.Errorf("matcher.threshold must be in (0, 100], got %v", c.Matcher.Threshold)
	}
	if _, err := matching.LookupScorer(c.Matcher.Scorer); err != nil {
		return fmt.Errorf("matcher.scorer: %w", err)
	}
	if err := c.Sink.Validate(); err != nil {
		return err
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
		}
	}
	if f := c.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", f)
	}
	return nil
}

func (s *Sink) applyDefaults() {
	if s.Type == "" {
		s.Type = "csv"
	}
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.Table == "" {
		s.Table = "constituency_composition"
	}
	if s.Collection == "" {
		s.Collection = s.Table
	}
	if s.Database == "" {
		s.Database = "apportion"
	}
}

// Validate checks the sink type and its location
func (s *Sink) Validate() error {
	known := false
	for _, t := range SinkTypes {
		if s.Type == t {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown sink type %q (available: %s)", s.Type, strings.Join(SinkTypes, ", "))
	}
	switch s.Type {
	case "csv", "xlsx", "sqlite":
		if s.Path == "" {
			return fmt.Errorf("sink.path is required for %s sinks", s.Type)
		}
	case "postgres", "mongo":
		if s.DSN == "" {
			return fmt.Errorf("sink.dsn (or DATABASE_URL) is required for %s sinks", s.Type)
		}
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("sink.batch_size must be positive")
	}
	return nil
}

func readYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
