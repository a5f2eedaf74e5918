package matching

import (
	"fmt"
	"sort"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"
)

// Scorer rates the similarity of two normalized keys on a 0..100 scale
type Scorer func(a, b string) float64

// DefaultScorer is used when no scorer is configured
const DefaultScorer = "weighted"

var scorers = map[string]Scorer{
	"levenshtein":  LevenshteinRatio,
	"jaro_winkler": JaroWinkler,
	"weighted":     Weighted,
}

// LookupScorer returns the named scorer; "" selects DefaultScorer
func LookupScorer(name string) (Scorer, error) {
	if name == "" {
		name = DefaultScorer
	}
	s, ok := scorers[name]
	if !ok {
		return nil, fmt.Errorf("unknown scorer %q (available: %v)", name, ScorerNames())
	}
	return s, nil
}

// ScorerNames lists the registered scorers
func ScorerNames() []string {
	names := make([]string, 0, len(scorers))
	for name := range scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LevenshteinRatio is 100 * (1 - distance / longer length)
func LevenshteinRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(longest))
}

// JaroWinkler scales the Jaro-Winkler similarity to 0..100
func JaroWinkler(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	return 100 * smetrics.JaroWinkler(a, b, 0.7, 4)
}

// Weighted is the plain ratio, or a discounted best-window ratio when one key
// is much longer than the other ("belgaum" inside "belgaumcity").
func Weighted(a, b string) float64 {
	ratio := LevenshteinRatio(a, b)

	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return ratio
	}
	lenRatio := float64(len(long)) / float64(len(short))
	if lenRatio < 1.5 {
		return ratio
	}

	scale := 0.9
	if lenRatio >= 8 {
		scale = 0.6
	}
	return max(ratio, scale*partialRatio(short, long))
}

// partialRatio is the best ratio of short against every equal-length window of long
func partialRatio(short, long []rune) float64 {
	s := string(short)
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		r := LevenshteinRatio(s, string(long[i:i+len(short)]))
		if r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}
