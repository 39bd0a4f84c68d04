// Package check runs the registry checkers for one vehicle, folds their
// outcomes into a report and decides what the process should do.
package check

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/JakeFAU/carwatch/internal/source"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

// Decision is the run-level verdict.
type Decision string

// Decisions and their process exit codes.
const (
	Clean       Decision = "clean"
	Alert       Decision = "alert"
	ConfigError Decision = "config_error"
)

// Exit codes are part of the command's contract with schedulers.
const (
	ExitClean       = 0
	ExitAlert       = 1
	ExitConfigError = 2
)

// ExitCode maps the decision to the process exit status.
func (d Decision) ExitCode() int {
	switch d {
	case Clean:
		return ExitClean
	case Alert:
		return ExitAlert
	default:
		return ExitConfigError
	}
}

// Report is the full record of one run.
type Report struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Query      vehicle.Query    `json:"query"`
	Outcomes   []source.Outcome `json:"outcomes"`
	Decision   Decision         `json:"decision"`
}

// Aggregate collects outcomes in checker order.
func Aggregate(outcomes []source.Outcome) Report {
	collected := make([]source.Outcome, len(outcomes))
	copy(collected, outcomes)
	return Report{Outcomes: collected}
}

// Decide returns Alert when any source matched. Blocked sources never raise
// an alert and never count as a clean answer either; they only show up in the
// report.
func Decide(r Report) Decision {
	for _, o := range r.Outcomes {
		if o.Matched() {
			return Alert
		}
	}
	return Clean
}

// Matches returns the matched outcomes in checker order.
func (r Report) Matches() []source.Outcome {
	var out []source.Outcome
	for _, o := range r.Outcomes {
		if o.Matched() {
			out = append(out, o)
		}
	}
	return out
}

// Blocked returns the names of sources that gave no usable answer.
func (r Report) Blocked() []string {
	var names []string
	for _, o := range r.Outcomes {
		if o.Status == source.StatusBlocked {
			names = append(names, o.Source)
		}
	}
	return names
}

// WriteJSON writes the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
