package qa

import (
	"fmt"
	"time"
)

// Status classifies how a collection or join run ended.
type Status string

// Run statuses.
const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Reason explains an early stop.
type Reason string

// Stop reasons.
const (
	ReasonNone           Reason = ""
	ReasonEndOfResults   Reason = "end_of_results"
	ReasonQuotaExhausted Reason = "quota_exhausted"
	ReasonCanceled       Reason = "canceled"
	ReasonAPIFailures    Reason = "api_failures"
	ReasonNothingToDo    Reason = "nothing_to_do"
)

// Result summarizes a run of the collector or the joiner.
type Result struct {
	Stage  string
	RunID  string
	Status Status
	Reason Reason
	Err    error
	// Batches counts pages for the collector and question batches for the joiner.
	Batches int
	// Added counts new questions (collector) or new rows (joiner).
	Added int
	// Total is the size of the persisted collection after the run.
	Total    int
	Duration time.Duration
}

// Failed reports whether the run ended on an unexpected error.
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}

// String renders a one-line summary.
func (r Result) String() string {
	s := fmt.Sprintf("%s %s", r.Stage, r.Status)
	if r.Reason != ReasonNone {
		s += " (" + string(r.Reason) + ")"
	}
	if r.Err != nil {
		s += ": " + r.Err.Error()
	}
	return s
}
