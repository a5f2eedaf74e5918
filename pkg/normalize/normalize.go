// Package normalize turns free-text administrative unit names into comparable keys.
package normalize

import (
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// DefaultSuffixes are unit-type words stripped from the end of a key
var DefaultSuffixes = []string{"taluka", "taluk", "talq", "tal", "tq"}

var (
	reQualifier = regexp.MustCompile(`\([^)]*\)`)
	reNonAlnum  = regexp.MustCompile(`[^a-z0-9]+`)
)

// Normalizer canonicalizes names. The zero value strips DefaultSuffixes.
type Normalizer struct {
	suffixes []string
}

// New creates a Normalizer stripping the given suffixes. Suffixes are
// normalized themselves so callers may pass display spellings like "Tq.".
func New(suffixes []string) *Normalizer {
	n := &Normalizer{suffixes: make([]string, 0, len(suffixes))}
	for _, s := range suffixes {
		if k := reNonAlnum.ReplaceAllString(strings.ToLower(s), ""); k != "" {
			n.suffixes = append(n.suffixes, k)
		}
	}
	return n
}

var defaultNormalizer = New(DefaultSuffixes)

// Key normalizes raw with the default suffix list
func Key(raw string) string {
	return defaultNormalizer.Key(raw)
}

// Key returns the comparable key for raw. The empty key means "unmatchable".
func (n *Normalizer) Key(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = strings.ToLower(unidecode.Unidecode(s))

	// "Sub-District - Nipani" keeps the unit name only
	if i := strings.LastIndex(s, " - "); i >= 0 {
		s = s[i+len(" - "):]
	}
	s = reQualifier.ReplaceAllString(s, "")
	s = reNonAlnum.ReplaceAllString(s, "")

	return n.stripSuffixes(s)
}

// stripSuffixes repeats until no suffix applies so Key stays idempotent. A
// suffix is never stripped if nothing would remain.
func (n *Normalizer) stripSuffixes(s string) string {
	suffixes := n.suffixes
	if suffixes == nil {
		suffixes = defaultNormalizer.suffixes
	}
	for {
		stripped := false
		for _, suffix := range suffixes {
			if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
				s = s[:len(s)-len(suffix)]
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

// Text collapses whitespace runs and trims, keeping case and punctuation. It is
// used for display names that are stored rather than compared.
func Text(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
