// Package source defines the contract shared by the registry checkers: a
// three-way outcome, the checker capability, and the page primitives the
// browser-backed checkers drive.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/carwatch/internal/browser"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

// Status is the classification of a single source check.
type Status string

// Possible check statuses. Blocked is neither a positive nor a negative
// finding.
const (
	StatusNoMatch Status = "no_match"
	StatusMatched Status = "matched"
	StatusBlocked Status = "blocked"
)

// Outcome is the result of checking one source.
type Outcome struct {
	Source   string        `json:"source"`
	Status   Status        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	URL      string        `json:"url,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration_ns"`
	Snapshot string        `json:"snapshot,omitempty"`
}

// Matched reports whether the outcome is a positive finding.
func (o Outcome) Matched() bool { return o.Status == StatusMatched }

// NoMatch builds a negative outcome.
func NoMatch(src, url, detail string) Outcome {
	return Outcome{Source: src, Status: StatusNoMatch, URL: url, Detail: detail}
}

// Matched builds a positive outcome; detail carries the matched record text.
func Matched(src, url, detail string) Outcome {
	return Outcome{Source: src, Status: StatusMatched, URL: url, Detail: detail}
}

// Blocked builds an outcome for a page that gave no usable answer.
func Blocked(src, url, detail string) Outcome {
	return Outcome{Source: src, Status: StatusBlocked, URL: url, Detail: detail}
}

// Blockedf is Blocked with a formatted detail, typically wrapping an error.
func Blockedf(src, url, format string, args ...any) Outcome {
	return Blocked(src, url, fmt.Sprintf(format, args...))
}

// Page is the subset of a browser tab the checkers need.
type Page interface {
	Location(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Eval(ctx context.Context, script string, out any) error
	Drag(ctx context.Context, path []browser.Point, stepDelay time.Duration) error
	Close() error
}

// Navigator opens pages. A browser session is the production implementation.
type Navigator interface {
	Navigate(ctx context.Context, url string) (Page, error)
}

// Checker checks one registry for the queried vehicle. Implementations never
// return errors: failures resolve to StatusBlocked.
type Checker interface {
	Name() string
	// NeedsBrowser reports whether Check must be given a Navigator.
	NeedsBrowser() bool
	Check(ctx context.Context, nav Navigator, query vehicle.Query) Outcome
}

// SnapshotStore persists the HTML of pages that could not be classified.
type SnapshotStore interface {
	Save(ctx context.Context, source, html string) (string, error)
}

// Pause sleeps for d or until ctx is done.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
