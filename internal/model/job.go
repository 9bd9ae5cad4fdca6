package model

import (
	"time"

	"github.com/guregu/null/v6"
)

// Job kinds
const (
	JobKindUniverseUpdate = "universe_update"
)

// Job statuses
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// UpdateJob is a ledger row for a background update run
type UpdateJob struct {
	ID               int64       `json:"id" db:"id"`
	Kind             string      `json:"kind" db:"kind"`
	Status           string      `json:"status" db:"status"`
	TotalSymbols     int         `json:"total_symbols" db:"total_symbols"`
	ProcessedSymbols int         `json:"processed_symbols" db:"processed_symbols"`
	UpdatedSymbols   int         `json:"updated_symbols" db:"updated_symbols"`
	UpToDateSymbols  int         `json:"up_to_date_symbols" db:"up_to_date_symbols"`
	NoDataSymbols    int         `json:"no_data_symbols" db:"no_data_symbols"`
	FailedSymbols    int         `json:"failed_symbols" db:"failed_symbols"`
	BarsInserted     int64       `json:"bars_inserted" db:"bars_inserted"`
	Error            null.String `json:"error" db:"error"`
	StartedAt        time.Time   `json:"started_at" db:"started_at"`
	FinishedAt       null.Time   `json:"finished_at" db:"finished_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// Outcome of updating a single symbol
const (
	OutcomeUpdated  = "updated"
	OutcomeUpToDate = "up_to_date"
	OutcomeNoData   = "no_data"
	OutcomeFailed   = "failed"
)

// SymbolOutcome is the result of one per-symbol update
type SymbolOutcome struct {
	ISIN     string `json:"isin"`
	Outcome  string `json:"outcome"`
	Inserted int    `json:"inserted"`
	Error    string `json:"error,omitempty"`
}

// JobProgress holds the running counters of a universe walk
type JobProgress struct {
	Total     int   `json:"total"`
	Processed int   `json:"processed"`
	Updated   int   `json:"updated"`
	UpToDate  int   `json:"up_to_date"`
	NoData    int   `json:"no_data"`
	Failed    int   `json:"failed"`
	Inserted  int64 `json:"inserted"`
}

// Record folds one symbol outcome into the counters
func (p *JobProgress) Record(o SymbolOutcome) {
	p.Processed++
	p.Inserted += int64(o.Inserted)
	switch o.Outcome {
	case OutcomeUpdated:
		p.Updated++
	case OutcomeUpToDate:
		p.UpToDate++
	case OutcomeNoData:
		p.NoData++
	default:
		p.Failed++
	}
}
