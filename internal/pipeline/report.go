package pipeline

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/couchcryptid/forecast-etl/internal/domain"
)

// Outcome summarizes how a single location fared in a run.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Report is the result of one run: the two tables plus everything needed to
// tell which locations are missing or degraded.
type Report struct {
	RunID       string                     `json:"run_id"`
	StartedAt   time.Time                  `json:"started_at"`
	FinishedAt  time.Time                  `json:"finished_at"`
	Tables      domain.Tables              `json:"tables"`
	Counts      map[string]domain.RowCount `json:"counts"`
	Outcomes    map[string]Outcome         `json:"outcomes"`
	Diagnostics []domain.Diagnostic        `json:"diagnostics"`
}

// Err folds every diagnostic into one error, or nil for a clean run.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, d := range r.Diagnostics {
		result = multierror.Append(result, d)
	}
	return result.ErrorOrNil()
}

// DiagnosticsFor returns the diagnostics recorded for one location.
func (r *Report) DiagnosticsFor(location string) []domain.Diagnostic {
	var out []domain.Diagnostic
	for _, d := range r.Diagnostics {
		if d.Location == location {
			out = append(out, d)
		}
	}
	return out
}
