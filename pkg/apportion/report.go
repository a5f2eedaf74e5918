package apportion

import (
	"fmt"
	"strings"

	"github.com/politicai/apportion/pkg/electoral"
	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/sink"
)

// WarningKind classifies a recoverable problem
type WarningKind string

const (
	WarnMatchMiss      WarningKind = "match_miss"
	WarnValueCoercion  WarningKind = "value_coercion"
	WarnShareInvalid   WarningKind = "share_invalid"
	WarnShareOverflow  WarningKind = "share_overflow"
	WarnZeroTotal      WarningKind = "zero_total"
	WarnSinkWrite      WarningKind = "sink_write"
	WarnGeoUnitMissing WarningKind = "geo_unit_missing"
)

// Warning is a recoverable problem kept for the run summary
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Table   string      `json:"table"`
	Subject string      `json:"subject"`
	Detail  string      `json:"detail"`
}

func (w Warning) String() string {
	if w.Detail == "" {
		return fmt.Sprintf("%s [%s] %s", w.Kind, w.Table, w.Subject)
	}
	return fmt.Sprintf("%s [%s] %s: %s", w.Kind, w.Table, w.Subject, w.Detail)
}

// Report is the outcome of one run
type Report struct {
	RunID        string
	Summary      models.RunSummary
	Warnings     []Warning
	Unmatched    []string
	Results      []models.AggregateResult
	SinkFailures []*sink.SinkWriteError
	Unlinked     []models.ResultKey

	// Set when the run computes contest statistics
	Margins    []electoral.Margin
	VoteShares []electoral.PartyVote
	Seats      []electoral.PartySeats
}

func (r *Report) warn(kind WarningKind, table, subject, detail string) Warning {
	w := Warning{Kind: kind, Table: table, Subject: subject, Detail: detail}
	r.Warnings = append(r.Warnings, w)
	return w
}

// Count returns the number of warnings of kind
func (r *Report) Count(kind WarningKind) int {
	n := 0
	for _, w := range r.Warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}

// Status is partial when any batch failed to write
func (r *Report) Status() models.RunStatus {
	if len(r.SinkFailures) > 0 {
		return models.RunStatusPartial
	}
	return models.RunStatusCompleted
}

// keyList renders result keys for a warning detail
func keyList(keys []models.ResultKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}

// WarningStrings renders warnings for the run store
func (r *Report) WarningStrings() []string {
	out := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = w.String()
	}
	return out
}
