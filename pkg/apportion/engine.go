// Package apportion distributes sub-district reference counts onto
// constituencies by share and writes the long-format composition rows.
package apportion

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/politicai/apportion/pkg/config"
	"github.com/politicai/apportion/pkg/electoral"
	"github.com/politicai/apportion/pkg/logging"
	"github.com/politicai/apportion/pkg/matching"
	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/normalize"
	"github.com/politicai/apportion/pkg/overrides"
	"github.com/politicai/apportion/pkg/sink"
	"github.com/politicai/apportion/pkg/tabular"
)

// RunRecorder persists run history
type RunRecorder interface {
	StartRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
}

// Engine runs one configured apportionment. Collaborators are injected;
// nothing is shared between engines.
type Engine struct {
	cfg     *config.Config
	loaders *tabular.Registry
	sinks   *sink.Registry
	output  sink.Sink
	runs    RunRecorder
	logger  *logging.Logger
	norm    *normalize.Normalizer
	now     func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithLoaders replaces the tabular loader registry
func WithLoaders(r *tabular.Registry) Option { return func(e *Engine) { e.loaders = r } }

// WithSinks replaces the sink registry used to open cfg.Sink
func WithSinks(r *sink.Registry) Option { return func(e *Engine) { e.sinks = r } }

// WithOutput writes to s instead of opening cfg.Sink. The engine does not close it.
func WithOutput(s sink.Sink) Option { return func(e *Engine) { e.output = s } }

// WithRunRecorder records run history
func WithRunRecorder(r RunRecorder) Option { return func(e *Engine) { e.runs = r } }

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine creates an engine for cfg
func NewEngine(cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		loaders: tabular.DefaultRegistry(),
		sinks:   sink.DefaultRegistry(),
		logger:  logging.GetLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Normalizer.Suffixes != nil {
		e.norm = normalize.New(cfg.Normalizer.Suffixes)
	} else {
		e.norm = normalize.New(normalize.DefaultSuffixes)
	}
	return e
}

// Run computes the composition and writes it. Schema and integrity errors
// abort before anything is written; failed sink batches are reported in the
// returned Report and do not stop the run.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	run := &models.Run{
		ID:        uuid.NewString(),
		Name:      e.cfg.Name,
		Status:    models.RunStatusRunning,
		StartedAt: e.now().UTC(),
	}
	log := e.logger.WithFields(logging.Component("apportion"), logging.RunID(run.ID))
	log.Info("Run started", logging.String("name", run.Name), logging.Int("year", e.cfg.Year))

	if e.runs != nil {
		if err := e.runs.StartRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record run start: %w", err)
		}
	}

	report, err := e.compute(ctx, run.ID, log)
	if err == nil {
		err = e.write(ctx, report, log)
	}

	finished := e.now().UTC()
	run.FinishedAt = &finished
	if report != nil {
		run.Summary = report.Summary
		run.Warnings = report.WarningStrings()
	}
	if err != nil {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		log.Error("Run failed", err)
	} else {
		run.Status = report.Status()
		log.Info("Run finished", logging.String("status", string(run.Status)),
			logging.Int("rows_written", report.Summary.RowsWritten),
			logging.Int("unmatched_units", report.Summary.UnmatchedUnits),
			logging.Int("unlinked_rows", report.Summary.UnlinkedRows),
			logging.Int("warnings", len(report.Warnings)))
	}

	if e.runs != nil {
		if recErr := e.runs.FinishRun(context.WithoutCancel(ctx), run); recErr != nil {
			log.Error("Failed to record run result", recErr)
		}
	}
	return report, err
}

// Compute produces the output rows without writing them
func (e *Engine) Compute(ctx context.Context) (*Report, error) {
	id := uuid.NewString()
	return e.compute(ctx, id, e.logger.WithFields(logging.Component("apportion"), logging.RunID(id)))
}

func (e *Engine) compute(ctx context.Context, runID string, log *logging.FieldLogger) (*Report, error) {
	report := &Report{RunID: runID}

	refTable, err := e.loaders.Load(e.cfg.Reference.Path, e.cfg.Reference.Options())
	if err != nil {
		return report, err
	}
	mapTable, err := e.loaders.Load(e.cfg.Mapping.Path, e.cfg.Mapping.Options())
	if err != nil {
		return report, err
	}

	table := overrides.Empty()
	if e.cfg.Overrides != "" {
		if table, err = overrides.Load(e.cfg.Overrides, e.norm); err != nil {
			return report, err
		}
		log.Debug("Loaded overrides", logging.String("version", table.Version()), logging.Int("entries", table.Len()))
	}

	index, err := BuildReferenceIndex(refTable, e.cfg.Reference, e.norm, report, log)
	if err != nil {
		return report, err
	}
	mappings, err := ReadMappings(mapTable, e.cfg.Mapping, e.norm, report, log)
	if err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	canonical, err := e.constituencyNames(log, report)
	if err != nil {
		return report, err
	}

	scorer, err := matching.LookupScorer(e.cfg.Matcher.Scorer)
	if err != nil {
		return report, err
	}
	matchers := make(map[string]*matching.Matcher)
	matcherFor := func(state string) *matching.Matcher {
		if m, ok := matchers[state]; ok {
			return m
		}
		m := matching.New(index.Keys(state), matching.Options{
			Threshold:     e.cfg.Matcher.Threshold,
			Scorer:        scorer,
			Overrides:     table,
			ReferenceYear: index.Year,
			Normalizer:    e.norm,
		})
		matchers[state] = m
		return m
	}

	allocations := make([]models.Allocation, 0, len(mappings)*len(index.Categories))
	seen := make(map[scopedKey]bool)
	for _, m := range mappings {
		constituency := m.Constituency
		if canonical != nil {
			constituency = canonical(constituency)
		}

		res, ok := matcherFor(m.StateCode).Match(m.SubDistrict)
		sk := scopedKey{state: m.StateCode, key: m.SubDistrict}
		if !seen[sk] {
			seen[sk] = true
			e.countMatch(report, mapTable.Name, m, res, log)
		}

		var measured map[string]float64
		if ok {
			unit, _ := index.Lookup(m.StateCode, res.Key)
			measured = Allocate(unit.Values, m.Share)
		}
		for _, category := range index.Categories {
			allocations = append(allocations, models.Allocation{
				Constituency: constituency,
				Year:         e.cfg.Year,
				Category:     category,
				Amount:       measured[category],
			})
		}
	}

	report.Results = Aggregate(allocations, e.cfg.Source, index.Categories)
	e.countTotals(report, log)
	if e.cfg.Electoral != nil {
		e.contestStats(report, log)
	}
	return report, nil
}

func (e *Engine) contestStats(report *Report, log *logging.FieldLogger) {
	opts := electoral.Options{NOTA: e.cfg.Electoral.NOTA}
	report.Margins = electoral.Margins(report.Results, opts)
	report.VoteShares = electoral.VoteShares(report.Results, opts)
	report.Seats = electoral.SeatSummary(report.Margins)

	counts := electoral.CountByCompetitiveness(report.Margins)
	log.Info("Computed contest margins", logging.Int("contests", len(report.Margins)),
		logging.Int("safe", counts[electoral.Safe]),
		logging.Int("marginal", counts[electoral.Marginal]),
		logging.Int("swing", counts[electoral.Swing]))
}

func (e *Engine) countMatch(report *Report, table string, m models.ShareMapping, res matching.Result, log *logging.FieldLogger) {
	switch res.Method {
	case matching.MethodExact:
		report.Summary.ExactMatches++
	case matching.MethodOverride:
		report.Summary.OverrideMatches++
	case matching.MethodFuzzy:
		report.Summary.FuzzyMatches++
		log.Debug("Fuzzy match", logging.String("sub_district", m.SubDistrict), logging.String("key", res.Key), logging.Float("score", res.Score))
	}
	if res.Matched() {
		report.Summary.MatchedUnits++
		return
	}

	report.Summary.UnmatchedUnits++
	report.Unmatched = append(report.Unmatched, m.SubDistrict)
	detail := "no candidate"
	if res.Candidate != "" {
		detail = fmt.Sprintf("best candidate %q scored %.1f", res.Candidate, res.Score)
	}
	report.warn(WarnMatchMiss, table, m.SubDistrict, detail)
	log.Warn("Unmatched sub-district", logging.String("sub_district", m.SubDistrict),
		logging.String("state_code", m.StateCode), logging.String("detail", detail))
}

func (e *Engine) countTotals(report *Report, log *logging.FieldLogger) {
	type group struct {
		constituency string
		year         int
	}
	totals := make(map[group]float64)
	var order []group
	for _, r := range report.Results {
		g := group{r.Constituency, r.Year}
		if _, ok := totals[g]; !ok {
			order = append(order, g)
		}
		totals[g] += r.Amount
	}
	report.Summary.Constituencies = len(order)
	for _, g := range order {
		if totals[g] > 0 {
			continue
		}
		report.Summary.ZeroTotals++
		report.warn(WarnZeroTotal, "output", g.constituency, fmt.Sprintf("total for %d is %v", g.year, totals[g]))
		log.Warn("Constituency total is zero", logging.String("constituency", g.constituency), logging.Int("year", g.year))
	}
}

// constituencyNames returns a canonicalizer over the configured constituency
// list, or nil when none is configured
func (e *Engine) constituencyNames(log *logging.FieldLogger, report *Report) (func(string) string, error) {
	src := e.cfg.Constituencies
	if src == nil {
		return nil, nil
	}
	table, err := e.loaders.Load(src.Path, src.Options())
	if err != nil {
		return nil, err
	}
	col, err := table.Resolve(src.Name)
	if err != nil {
		return nil, err
	}

	display := make(map[string]string)
	for r := 0; r < table.Len(); r++ {
		name := normalize.Text(table.Cell(r, col))
		key := e.norm.Key(name)
		if key == "" {
			continue
		}
		if _, ok := display[key]; !ok {
			display[key] = name
		}
	}
	keys := make([]string, 0, len(display))
	for k := range display {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	matcher := matching.New(keys, matching.Options{Threshold: e.cfg.Matcher.Threshold, Normalizer: e.norm})

	missed := make(map[string]bool)
	return func(name string) string {
		if res, ok := matcher.Match(name); ok {
			return display[res.Key]
		}
		if !missed[name] {
			missed[name] = true
			report.warn(WarnMatchMiss, table.Name, name, "constituency kept as written")
			log.Warn("Unmatched constituency", logging.String("constituency", name))
		}
		return name
	}, nil
}

func (e *Engine) write(ctx context.Context, report *Report, log *logging.FieldLogger) error {
	out := e.output
	if out == nil {
		opened, err := e.sinks.Open(ctx, e.cfg.Sink)
		if err != nil {
			return err
		}
		out = opened
	}

	batches, err := sink.WriteBatches(ctx, out, report.Results, e.cfg.Sink.BatchSize)
	report.SinkFailures = batches.Failures
	report.Unlinked = batches.Unlinked
	report.Summary.RowsWritten = batches.Written
	report.Summary.UnlinkedRows = len(batches.Unlinked)

	if e.output == nil {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			// file sinks write on Close, so nothing reached disk
			keys := make([]models.ResultKey, len(report.Results))
			for i, r := range report.Results {
				keys[i] = r.Key()
			}
			report.SinkFailures = append(report.SinkFailures, &sink.SinkWriteError{Batch: batches.Batches + 1, Keys: keys, Err: closeErr})
			report.Summary.RowsWritten = 0
		}
	}

	for _, f := range report.SinkFailures {
		report.Summary.FailedBatches++
		report.Summary.FailedRows += len(f.Keys)
		report.warn(WarnSinkWrite, out.Name(), fmt.Sprintf("batch %d", f.Batch), fmt.Sprintf("%v; keys: %s", f.Err, keyList(f.Keys)))
		log.Warn("Sink batch failed", logging.String("sink", out.Name()), logging.Int("batch", f.Batch),
			logging.Int("rows", len(f.Keys)), logging.Error(f.Err))
	}

	names, groups := sink.UnlinkedByConstituency(batches.Unlinked)
	for _, name := range names {
		report.warn(WarnGeoUnitMissing, out.Name(), name, "skipped keys: "+keyList(groups[name]))
		log.Warn("Constituency has no stored geo unit", logging.String("sink", out.Name()),
			logging.String("constituency", name), logging.Int("rows", len(groups[name])))
	}
	return err
}
