// Package sink writes aggregate results to their durable destinations. Every
// sink treats one Upsert call as one transaction. File and document sinks
// upsert by (constituency, year, category); SQL sinks replace the constituency
// name with the id of its stored geo unit.
package sink

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/politicai/apportion/pkg/config"
	"github.com/politicai/apportion/pkg/models"
)

// Sink receives output rows
type Sink interface {
	Name() string
	// Upsert writes rows atomically: either all rows are stored or none are.
	Upsert(ctx context.Context, rows []models.AggregateResult) error
	Close() error
}

// GeoUnitWriter persists the administrative hierarchy
type GeoUnitWriter interface {
	// SaveGeoUnits inserts units that are absent by (code, level) and returns
	// the id of every unit keyed by GeoUnitID. Parents must precede children.
	SaveGeoUnits(ctx context.Context, units []*models.GeoUnit) (map[string]int64, error)
	SaveElectionYears(ctx context.Context, years []int) error
}

// GeoUnitID is the lookup key of a unit in SaveGeoUnits results
func GeoUnitID(u *models.GeoUnit) string {
	return string(u.Level) + "/" + u.Code
}

// Factory opens a sink from its configuration
type Factory func(ctx context.Context, cfg config.Sink) (Sink, error)

// Registry maps sink types to factories
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows every built-in sink type
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("csv", func(_ context.Context, cfg config.Sink) (Sink, error) {
		return OpenCSV(cfg.Path)
	})
	r.Register("xlsx", func(_ context.Context, cfg config.Sink) (Sink, error) {
		return OpenXLSX(cfg.Path)
	})
	r.Register("sqlite", func(_ context.Context, cfg config.Sink) (Sink, error) {
		return OpenSQLite(cfg.Path, cfg.Table)
	})
	r.Register("postgres", func(ctx context.Context, cfg config.Sink) (Sink, error) {
		return OpenPostgres(ctx, cfg.DSN, cfg.Table)
	})
	r.Register("mongo", func(ctx context.Context, cfg config.Sink) (Sink, error) {
		return OpenMongo(ctx, cfg.DSN, cfg.Database, cfg.Collection)
	})
	return r
}

// Register adds or replaces the factory for a sink type
func (r *Registry) Register(sinkType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[sinkType] = f
}

// Open creates the sink described by cfg
func (r *Registry) Open(ctx context.Context, cfg config.Sink) (Sink, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sink type not found: %s", cfg.Type)
	}
	s, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s sink: %w", cfg.Type, err)
	}
	return s, nil
}

// Types lists the registered sink types
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// SinkWriteError reports one rolled-back batch and the keys it carried
type SinkWriteError struct {
	Batch int
	Keys  []models.ResultKey
	Err   error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink batch %d (%d rows) failed: %v", e.Batch, len(e.Keys), e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}

// BatchReport summarizes WriteBatches
type BatchReport struct {
	Batches  int
	Written  int
	Failures []*SinkWriteError
	// Unlinked holds rows skipped because their constituency has no stored unit
	Unlinked []models.ResultKey
}

// FailedRows counts the rows of every failed batch
func (r BatchReport) FailedRows() int {
	n := 0
	for _, f := range r.Failures {
		n += len(f.Keys)
	}
	return n
}

// WriteBatches upserts rows in batches of size. A failed batch is recorded and
// the next batch is attempted; only context cancellation stops early. When s
// is a Linker, rows it cannot link are skipped and listed in Unlinked.
func WriteBatches(ctx context.Context, s Sink, rows []models.AggregateResult, size int) (BatchReport, error) {
	var report BatchReport
	if size <= 0 {
		size = config.DefaultBatchSize
	}
	if l, ok := s.(Linker); ok {
		rows, report.Unlinked = partitionLinked(l, rows)
	}
	for start, batch := 0, 1; start < len(rows); start, batch = start+size, batch+1 {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		end := min(start+size, len(rows))
		chunk := rows[start:end]
		report.Batches++

		if err := s.Upsert(ctx, chunk); err != nil {
			keys := make([]models.ResultKey, len(chunk))
			for i, r := range chunk {
				keys[i] = r.Key()
			}
			report.Failures = append(report.Failures, &SinkWriteError{Batch: batch, Keys: keys, Err: err})
			continue
		}
		report.Written += len(chunk)
	}
	return report, nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdent guards table names interpolated into SQL
func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
