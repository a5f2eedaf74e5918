package models

import "time"

// RunStatus represents the outcome of an apportionment run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// RunSummary holds the counts reported at the end of a run
type RunSummary struct {
	MappingRows     int `json:"mapping_rows"`
	ReferenceUnits  int `json:"reference_units"`
	MatchedUnits    int `json:"matched_units"`
	UnmatchedUnits  int `json:"unmatched_units"`
	ExactMatches    int `json:"exact_matches"`
	OverrideMatches int `json:"override_matches"`
	FuzzyMatches    int `json:"fuzzy_matches"`
	ParseFailures   int `json:"parse_failures"`
	ZeroTotals      int `json:"zero_totals"`
	Constituencies  int `json:"constituencies"`
	RowsWritten     int `json:"rows_written"`
	FailedBatches   int `json:"failed_batches"`
	FailedRows      int `json:"failed_rows"`
	UnlinkedRows    int `json:"unlinked_rows"`
	ShareOverflows  int `json:"share_overflows"`
	InvalidShares   int `json:"invalid_shares"`
}

// Run is a recorded execution of the apportionment pipeline
type Run struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Summary    RunSummary `json:"summary"`
	Warnings   []string   `json:"warnings,omitempty"`
	Error      string     `json:"error,omitempty"`
}
