package model

import (
	"fmt"
	"time"
)

// OutcomeKind classifies the result of processing one item
type OutcomeKind string

const (
	OutcomeProcessed OutcomeKind = "processed"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeTooLarge  OutcomeKind = "too_large"
)

// ItemOutcome is the per-item result of a pipeline job. Item failures never abort a batch.
type ItemOutcome struct {
	Key     string
	Kind    OutcomeKind
	Indexed bool
	Err     error
}

// BatchReport aggregates the outcomes of one batch
type BatchReport struct {
	Source    Source
	Processed int
	Skipped   int
	Failed    int
	TooLarge  int
	Indexed   int
}

// Add folds one outcome into the report
func (r *BatchReport) Add(o ItemOutcome) {
	switch o.Kind {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	case OutcomeTooLarge:
		r.TooLarge++
	}
	if o.Indexed {
		r.Indexed++
	}
}

// Total returns the number of items seen
func (r BatchReport) Total() int {
	return r.Processed + r.Skipped + r.Failed + r.TooLarge
}

func (r BatchReport) String() string {
	return fmt.Sprintf("%d processed, %d skipped, %d failed, %d too large",
		r.Processed, r.Skipped, r.Failed, r.TooLarge)
}

// Run is one recorded ingestion run
type Run struct {
	ID         string     `json:"id" db:"id"`
	Source     Source     `json:"source" db:"source"`
	State      State      `json:"state" db:"state"`
	Message    string     `json:"message" db:"message"`
	Processed  int        `json:"processed" db:"processed"`
	Skipped    int        `json:"skipped" db:"skipped"`
	Failed     int        `json:"failed" db:"failed"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}
