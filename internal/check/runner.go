package check

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/carwatch/internal/alert"
	"github.com/JakeFAU/carwatch/internal/retry"
	"github.com/JakeFAU/carwatch/internal/source"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

// Mode selects how checkers share the browser.
type Mode string

// Supported modes.
const (
	// Sequential runs checkers one after another in a single browser.
	Sequential Mode = "sequential"
	// Concurrent runs every checker at once, each in its own browser.
	Concurrent Mode = "concurrent"
)

// ParseMode accepts the mode names case-insensitively; empty means
// Sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Sequential:
		return Sequential, nil
	case Concurrent:
		return Concurrent, nil
	default:
		return "", fmt.Errorf("unknown check mode %q", s)
	}
}

// Clock supplies report timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Observer receives run metrics.
type Observer interface {
	ObserveOutcome(source, status, pageURL string, attempts int, d time.Duration)
	ObserveDecision(decision string, finished time.Time)
	ObserveAlert(err error)
}

// Config tunes a Runner.
type Config struct {
	Mode  Mode
	Retry retry.Policy
}

// Deps are the Runner's collaborators. Browser, Observer and IDs may be nil;
// Dispatcher defaults to logging the alert.
type Deps struct {
	Browser    BrowserFactory
	Dispatcher alert.Dispatcher
	Observer   Observer
	Clock      Clock
	IDs        IDGenerator
	Logger     *zap.Logger
}

// Runner executes one monitoring run.
type Runner struct {
	checkers []source.Checker
	cfg      Config
	deps     Deps
	logger   *zap.Logger
}

// NewRunner wires a runner over checkers, which run and report in the given
// order.
func NewRunner(checkers []source.Checker, cfg Config, deps Deps) (*Runner, error) {
	if len(checkers) == 0 {
		return nil, fmt.Errorf("at least one checker is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = Sequential
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = alert.LogOnly{Logger: deps.Logger}
	}
	return &Runner{
		checkers: checkers,
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
	}, nil
}

// Run checks every source for q. The returned error is non-nil only with
// ConfigError: an invalid query or a browser that would not start. Source
// failures are reported as Blocked outcomes instead.
func (r *Runner) Run(ctx context.Context, q vehicle.Query) (Report, Decision, error) {
	report := Report{
		RunID:     r.newRunID(),
		StartedAt: r.deps.Clock.Now(),
		Query:     q,
	}
	log := r.logger.With(zap.String("run_id", report.RunID))

	if err := q.Validate(); err != nil {
		return r.finish(report, ConfigError), ConfigError, err
	}
	log.Info("checking registries", zap.Stringer("query", q), zap.String("mode", string(r.cfg.Mode)))

	var (
		outcomes []source.Outcome
		err      error
	)
	if r.cfg.Mode == Concurrent {
		outcomes, err = r.runConcurrent(ctx, q, log)
	} else {
		outcomes, err = r.runSequential(ctx, q, log)
	}
	if err != nil {
		log.Error("browser unavailable", zap.Error(err))
		return r.finish(report, ConfigError), ConfigError, err
	}

	agg := Aggregate(outcomes)
	report.Outcomes = agg.Outcomes
	decision := Decide(report)
	for _, o := range report.Outcomes {
		log.Info("source checked",
			zap.String("source", o.Source),
			zap.String("status", string(o.Status)),
			zap.String("detail", o.Detail),
			zap.Int("attempts", o.Attempts),
			zap.Duration("duration", o.Duration),
		)
		if r.deps.Observer != nil {
			r.deps.Observer.ObserveOutcome(o.Source, string(o.Status), o.URL, o.Attempts, o.Duration)
		}
	}
	if blocked := report.Blocked(); len(blocked) > 0 {
		log.Warn("some sources gave no answer", zap.Strings("sources", blocked))
	}

	report = r.finish(report, decision)
	if decision == Alert {
		r.dispatch(ctx, report, log)
	} else {
		log.Info("no listings found")
	}
	return report, decision, nil
}

func (r *Runner) finish(report Report, d Decision) Report {
	report.Decision = d
	report.FinishedAt = r.deps.Clock.Now()
	if r.deps.Observer != nil {
		r.deps.Observer.ObserveDecision(string(d), report.FinishedAt)
	}
	return report
}

// dispatch sends exactly one alert for the run. Delivery failures are logged
// and do not change the decision.
func (r *Runner) dispatch(ctx context.Context, report Report, log *zap.Logger) {
	matches := make([]alert.Match, 0, len(report.Outcomes))
	for _, o := range report.Matches() {
		matches = append(matches, alert.Match{Source: o.Source, Label: r.label(o.Source), URL: o.URL})
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Source)
	}
	log.Warn("listing found", zap.Strings("sources", names))

	err := r.deps.Dispatcher.Send(ctx, alert.Message{Text: alert.BuildMessage(matches), Payload: report})
	if r.deps.Observer != nil {
		r.deps.Observer.ObserveAlert(err)
	}
	if err != nil {
		log.Warn("alert delivery failed", zap.Error(err))
		return
	}
	log.Info("alert sent")
}

func (r *Runner) label(name string) string {
	for _, c := range r.checkers {
		if c.Name() != name {
			continue
		}
		if l, ok := c.(interface{ Label() string }); ok {
			return l.Label()
		}
	}
	return name
}

func (r *Runner) runSequential(ctx context.Context, q vehicle.Query, log *zap.Logger) ([]source.Outcome, error) {
	var nav source.Navigator
	if r.needsBrowser() {
		b, err := r.openBrowser(ctx)
		if err != nil {
			return nil, err
		}
		defer r.closeBrowser(b, log)
		nav = b
	}

	outcomes := make([]source.Outcome, 0, len(r.checkers))
	for _, c := range r.checkers {
		var cnav source.Navigator
		if c.NeedsBrowser() {
			cnav = nav
		}
		outcomes = append(outcomes, r.checkWithRetry(ctx, c, cnav, q, log))
	}
	return outcomes, nil
}

func (r *Runner) runConcurrent(ctx context.Context, q vehicle.Query, log *zap.Logger) ([]source.Outcome, error) {
	outcomes := make([]source.Outcome, len(r.checkers))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range r.checkers {
		g.Go(func() error {
			var nav source.Navigator
			if c.NeedsBrowser() {
				b, err := r.openBrowser(gctx)
				if err != nil {
					return fmt.Errorf("%s: %w", c.Name(), err)
				}
				defer r.closeBrowser(b, log)
				nav = b
			}
			outcomes[i] = r.checkWithRetry(gctx, c, nav, q, log)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// checkWithRetry repeats a Blocked check within the retry policy. Matched
// and NoMatch are final.
func (r *Runner) checkWithRetry(
	ctx context.Context,
	c source.Checker,
	nav source.Navigator,
	q vehicle.Query,
	log *zap.Logger,
) source.Outcome {
	log = log.With(zap.String("source", c.Name()))
	start := time.Now()
	var out source.Outcome
	for attempt := 1; ; attempt++ {
		out = c.Check(ctx, nav, q)
		if out.Source == "" {
			out.Source = c.Name()
		}
		out.Attempts = attempt
		if out.Status != source.StatusBlocked || !r.cfg.Retry.Retry(attempt) || ctx.Err() != nil {
			break
		}
		log.Info("source blocked, retrying", zap.Int("attempt", attempt), zap.String("detail", out.Detail))
		if err := r.cfg.Retry.Wait(ctx, attempt); err != nil {
			break
		}
	}
	out.Duration = time.Since(start)
	return out
}

func (r *Runner) needsBrowser() bool {
	for _, c := range r.checkers {
		if c.NeedsBrowser() {
			return true
		}
	}
	return false
}

func (r *Runner) openBrowser(ctx context.Context) (Browser, error) {
	if r.deps.Browser == nil {
		return nil, errors.New("no browser configured")
	}
	b, err := r.deps.Browser(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}
	return b, nil
}

func (r *Runner) closeBrowser(b Browser, log *zap.Logger) {
	if err := b.Close(); err != nil {
		log.Warn("close browser", zap.Error(err))
	}
}

func (r *Runner) newRunID() string {
	if r.deps.IDs == nil {
		return ""
	}
	id, err := r.deps.IDs.NewID()
	if err != nil {
		r.logger.Warn("generate run id", zap.Error(err))
		return ""
	}
	return id
}
