package engine

import (
	"context"
	"time"
)

// Job is the unit of work the scheduler dispatches. Implementations carry
// the tile extent, footprint reference and resolved point cloud sources.
type Job interface {
	// TileID uniquely identifies the job within a run, for example
	// "buildings_2022_100000_400000". Outcomes are keyed by this identity.
	TileID() string
}

// Executor runs a single job to completion. Implementations must contain
// their own failures: any error returned is recorded as the job's outcome
// and never aborts sibling jobs.
type Executor interface {
	ExecuteTile(ctx context.Context, job Job) error
}

// OutcomeStatus is the terminal state of a dispatched job.
type OutcomeStatus string

const (
	StatusSucceeded OutcomeStatus = "succeeded"
	StatusFailed    OutcomeStatus = "failed"

	// StatusSkipped marks jobs that were never dispatched because the run
	// was cancelled before a worker picked them up.
	StatusSkipped OutcomeStatus = "skipped"
)

// Outcome records the result of one job. Never mutated after insertion.
type Outcome struct {
	TileID   string        `json:"tile_id"`
	Status   OutcomeStatus `json:"status"`
	Code     string        `json:"code,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Summarize tallies a slice of outcomes.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}
