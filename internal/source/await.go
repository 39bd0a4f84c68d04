package source

import (
	"context"
	"fmt"
	"time"
)

// Verdict is a classification of one page snapshot. Final marks a Blocked
// verdict that will not change by waiting, such as a verification page.
type Verdict struct {
	Status Status
	Detail string
	Final  bool
}

// Await polls page until classify returns a settled verdict or timeout
// elapses. A timeout resolves to Blocked, never to NoMatch. The last HTML
// read is returned for diagnostics.
func Await(
	ctx context.Context,
	page Page,
	timeout time.Duration,
	interval time.Duration,
	classify func(html string) Verdict,
) (Verdict, string) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	last := Verdict{Status: StatusBlocked, Detail: "result page never rendered"}
	var lastHTML string

	for {
		html, err := page.HTML(ctx)
		if err == nil {
			lastHTML = html
			v := classify(html)
			if v.Status != StatusBlocked || v.Final {
				return v, html
			}
			last = v
		} else {
			last = Verdict{Status: StatusBlocked, Detail: fmt.Sprintf("read page: %v", err)}
		}

		if !time.Now().Add(interval).Before(deadline) {
			last.Detail = fmt.Sprintf("timed out after %s: %s", timeout, last.Detail)
			return last, lastHTML
		}
		if err := Pause(ctx, interval); err != nil {
			return Verdict{Status: StatusBlocked, Detail: fmt.Sprintf("wait canceled: %v", err), Final: true}, lastHTML
		}
	}
}
