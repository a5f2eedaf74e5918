// Package matching resolves source unit names to keys of a reference dataset:
// the override table first, then the exact key, then fuzzy similarity.
package matching

import (
	"sort"

	"github.com/patrickmn/go-cache"

	"github.com/politicai/apportion/pkg/normalize"
	"github.com/politicai/apportion/pkg/overrides"
)

// DefaultThreshold is the minimum fuzzy score accepted
const DefaultThreshold = 85.0

// Method records which step produced a match
type Method string

const (
	MethodNone     Method = "none"
	MethodExact    Method = "exact"
	MethodOverride Method = "override"
	MethodFuzzy    Method = "fuzzy"
)

// Result describes one match attempt. On a miss Candidate and Score hold the
// best fuzzy candidate seen, if any, for diagnostics.
type Result struct {
	Source    string
	SourceKey string
	Key       string
	Method    Method
	Candidate string
	Score     float64
}

// Matched reports whether a target key was found
func (r Result) Matched() bool {
	return r.Method != MethodNone && r.Key != ""
}

// Options configures a Matcher. Zero values select the defaults.
type Options struct {
	Threshold     float64
	Scorer        Scorer
	Overrides     *overrides.Table
	ReferenceYear int
	Normalizer    *normalize.Normalizer
}

// Matcher is immutable after construction; results are memoised per source name.
type Matcher struct {
	targets   []string
	set       map[string]struct{}
	threshold float64
	scorer    Scorer
	overrides *overrides.Table
	year      int
	norm      *normalize.Normalizer
	memo      *cache.Cache
}

// New builds a matcher over already-normalized target keys. Empty keys are
// dropped since they never match.
func New(targets []string, opts Options) *Matcher {
	m := &Matcher{
		set:       make(map[string]struct{}, len(targets)),
		threshold: opts.Threshold,
		scorer:    opts.Scorer,
		overrides: opts.Overrides,
		year:      opts.ReferenceYear,
		norm:      opts.Normalizer,
		memo:      cache.New(cache.NoExpiration, 0),
	}
	if m.threshold <= 0 {
		m.threshold = DefaultThreshold
	}
	if m.scorer == nil {
		m.scorer = Weighted
	}
	if m.norm == nil {
		m.norm = normalize.New(normalize.DefaultSuffixes)
	}
	for _, t := range targets {
		if t == "" {
			continue
		}
		if _, dup := m.set[t]; dup {
			continue
		}
		m.set[t] = struct{}{}
		m.targets = append(m.targets, t)
	}
	sort.Strings(m.targets)
	return m
}

// Match resolves name. The override table is consulted on the raw display
// name before the normalized key is compared; fuzzy scoring runs on the
// override's canonical key when one applies.
func (m *Matcher) Match(name string) (Result, bool) {
	if cached, ok := m.memo.Get(name); ok {
		res := cached.(Result)
		return res, res.Matched()
	}
	res := m.match(name)
	m.memo.Set(name, res, cache.NoExpiration)
	return res, res.Matched()
}

func (m *Matcher) match(name string) Result {
	key := m.norm.Key(name)
	res := Result{Source: name, SourceKey: key, Method: MethodNone}
	if key == "" {
		return res
	}

	effective := key
	if canonical, ok := m.overrides.Resolve(name, m.year); ok {
		if ck := m.norm.Key(canonical); ck != "" {
			if m.has(ck) {
				res.Key, res.Method, res.Score = ck, MethodOverride, 100
				return res
			}
			effective = ck
		}
	}

	if m.has(key) {
		res.Key, res.Method, res.Score = key, MethodExact, 100
		return res
	}

	candidate, score := m.best(effective)
	res.Candidate, res.Score = candidate, score
	if candidate != "" && score >= m.threshold {
		res.Key, res.Method = candidate, MethodFuzzy
	}
	return res
}

// best scans targets in sorted order and keeps the first of equal scores
func (m *Matcher) best(key string) (string, float64) {
	var (
		bestKey   string
		bestScore = -1.0
	)
	for _, t := range m.targets {
		if s := m.scorer(key, t); s > bestScore {
			bestKey, bestScore = t, s
		}
	}
	if bestKey == "" {
		return "", 0
	}
	return bestKey, bestScore
}

func (m *Matcher) has(key string) bool {
	_, ok := m.set[key]
	return ok
}

// Targets returns the sorted target keys
func (m *Matcher) Targets() []string {
	out := make([]string, len(m.targets))
	copy(out, m.targets)
	return out
}

// Threshold returns the fuzzy acceptance threshold in use
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Memoised returns the number of cached results
func (m *Matcher) Memoised() int {
	return m.memo.ItemCount()
}
