package apportion

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/politicai/apportion/pkg/models"
)

// Allocate multiplies every measured category by share. Negative measured
// values pass through unchanged in sign.
func Allocate(measured map[string]float64, share float64) map[string]float64 {
	out := make(map[string]float64, len(measured))
	for category, v := range measured {
		out[category] = v * share
	}
	return out
}

type groupKey struct {
	constituency string
	year         int
}

// Aggregate sums allocations per (constituency, year, category) and emits
// one row per category with its percentage of the group total. Groups are
// ordered by constituency then year; categories follow the given order, with
// any others appended alphabetically. A group whose total is not positive
// gets 0 percent throughout.
func Aggregate(allocations []models.Allocation, source string, categories []string) []models.AggregateResult {
	sums := make(map[groupKey]map[string]float64)
	seen := make(map[string]bool, len(categories))
	order := append([]string(nil), categories...)
	for _, c := range categories {
		seen[c] = true
	}
	var extra []string

	for _, a := range allocations {
		k := groupKey{constituency: a.Constituency, year: a.Year}
		if sums[k] == nil {
			sums[k] = make(map[string]float64)
		}
		sums[k][a.Category] += a.Amount
		if !seen[a.Category] {
			seen[a.Category] = true
			extra = append(extra, a.Category)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	keys := make([]groupKey, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].constituency != keys[j].constituency {
			return keys[i].constituency < keys[j].constituency
		}
		return keys[i].year < keys[j].year
	})

	results := make([]models.AggregateResult, 0, len(keys)*len(order))
	amounts := make([]float64, len(order))
	for _, k := range keys {
		for i, c := range order {
			amounts[i] = sums[k][c]
		}
		total := floats.Sum(amounts)
		for i, c := range order {
			pct := 0.0
			if total > 0 {
				pct = 100 * amounts[i] / total
			}
			results = append(results, models.AggregateResult{
				Constituency: k.constituency,
				Year:         k.year,
				Source:       source,
				Category:     c,
				Amount:       amounts[i],
				Percent:      pct,
			})
		}
	}
	return results
}

// GroupTotal returns the summed amount of one constituency and year
func GroupTotal(results []models.AggregateResult, constituency string, year int) float64 {
	var amounts []float64
	for _, r := range results {
		if r.Constituency == constituency && r.Year == year {
			amounts = append(amounts, r.Amount)
		}
	}
	return floats.Sum(amounts)
}
