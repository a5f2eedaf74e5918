package apportion

import (
	"math"
	"strconv"
	"strings"
)

var numberCleaner = strings.NewReplacer(",", "", " ", "", "_", "", "\u00a0", "")

// parseNumber reads a measured quantity. Blank cells are zero without error;
// thousands separators are accepted.
func parseNumber(raw string) (float64, bool) {
	s := numberCleaner.Replace(strings.TrimSpace(raw))
	if s == "" || s == "-" {
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// stateCode canonicalizes numeric codes so "29", "029" and "29.0" agree
func stateCode(raw string) string {
	s := strings.TrimSpace(raw)
	if v, err := strconv.ParseFloat(s, 64); err == nil && v == math.Trunc(v) && !math.IsInf(v, 0) {
		return strconv.FormatInt(int64(v), 10)
	}
	return s
}
