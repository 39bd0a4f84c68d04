// Package konfiskat checks the confiscated-property registry at
// konfiskat-gov.ru for the watched vehicle.
package konfiskat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/carwatch/internal/source"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

const (
	// Name identifies the source in reports, logs and metrics.
	Name = "konfiskat"
	// Label is the human-readable source name used in alerts.
	Label = "Конфискат (konfiskat-gov.ru)"
	// DefaultURL is the automobiles category, percent-encoded.
	DefaultURL = "https://konfiskat-gov.ru/%D0%B0%D0%B2%D1%82%D0%BE%D0%BC%D0%BE%D0%B1%D0%B8%D0%BB%D0%B8"
)

const (
	formSelector    = "form#js-search-form"
	queryInput      = "input[name='query']"
	submitButton    = "form#js-search-form button[type='submit']"
	openFormScript  = `(() => { if (typeof openFilterSearch === "function") { openFilterSearch(); return true; } return false; })()`
	markStaleScript = `(() => {
	const nodes = document.querySelectorAll(".property-listing");
	nodes.forEach((n) => n.setAttribute("data-carwatch-stale", "1"));
	return nodes.length;
})()`
)

// Config tunes the browser-driven check.
type Config struct {
	URL           string
	SettleDelay   time.Duration
	FormTimeout   time.Duration
	ResultTimeout time.Duration
	PollInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.FormTimeout <= 0 {
		c.FormTimeout = 15 * time.Second
	}
	if c.ResultTimeout <= 0 {
		c.ResultTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Checker drives the registry's search form in a browser.
type Checker struct {
	cfg       Config
	snapshots source.SnapshotStore
	logger    *zap.Logger
}

// New creates a browser-backed Konfiskat checker. snapshots may be nil.
func New(cfg Config, snapshots source.SnapshotStore, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		cfg:       cfg.withDefaults(),
		snapshots: snapshots,
		logger:    logger.Named(Name),
	}
}

// Name implements source.Checker.
func (c *Checker) Name() string { return Name }

// Label implements the optional labeler used by alert messages.
func (c *Checker) Label() string { return Label }

// NeedsBrowser implements source.Checker.
func (c *Checker) NeedsBrowser() bool { return true }

// Check searches for each of the query's terms in turn; the first match wins.
func (c *Checker) Check(ctx context.Context, nav source.Navigator, q vehicle.Query) source.Outcome {
	terms := q.Terms()
	if len(terms) == 0 {
		return source.NoMatch(Name, c.cfg.URL, "no VIN or plate to search")
	}
	if nav == nil {
		return source.Blocked(Name, c.cfg.URL, "no browser session")
	}

	page, err := c.open(ctx, nav)
	if err != nil {
		return source.Blockedf(Name, c.cfg.URL, "load search page: %v", err)
	}
	defer func() {
		if page != nil {
			_ = page.Close()
		}
	}()

	if title, blocked := c.verificationShown(ctx, page); blocked {
		c.logger.Info("verification page shown", zap.String("title", title))
		if !c.passSlider(ctx, page) {
			return c.blocked(ctx, page, fmt.Sprintf("KillBot verification could not be passed (title %q)", title))
		}
	}

	for i, term := range terms {
		if i > 0 {
			_ = page.Close()
			if page, err = c.open(ctx, nav); err != nil {
				return source.Blockedf(Name, c.cfg.URL, "reload search page: %v", err)
			}
		}

		outcome, done := c.search(ctx, page, term, q)
		if done {
			return outcome
		}
	}
	return source.NoMatch(Name, c.cfg.URL, "no matching listings for "+strings.Join(terms, ", "))
}

// search submits one term. done is false only when the registry answered
// NoMatch and the next term should be tried.
func (c *Checker) search(ctx context.Context, page source.Page, term string, q vehicle.Query) (source.Outcome, bool) {
	log := c.logger.With(zap.String("term", term))

	if err := c.openForm(ctx, page); err != nil {
		log.Debug("search form not ready, trying verification slider", zap.Error(err))
		if !c.passSlider(ctx, page) {
			return c.blocked(ctx, page, fmt.Sprintf("search form unavailable: %v", err)), true
		}
		if err := c.openForm(ctx, page); err != nil {
			return c.blocked(ctx, page, fmt.Sprintf("search form unavailable after verification: %v", err)), true
		}
	}

	var stale int
	if err := page.Eval(ctx, markStaleScript, &stale); err != nil {
		log.Debug("mark stale listings failed", zap.Error(err))
	}
	if err := page.Fill(ctx, queryInput, term); err != nil {
		return c.blocked(ctx, page, fmt.Sprintf("fill query: %v", err)), true
	}
	if err := page.Click(ctx, submitButton); err != nil {
		return c.blocked(ctx, page, fmt.Sprintf("submit query: %v", err)), true
	}
	if err := source.Pause(ctx, c.cfg.SettleDelay/2); err != nil {
		return source.Blockedf(Name, c.cfg.URL, "wait canceled: %v", err), true
	}

	verdict, html := source.Await(ctx, page, c.cfg.ResultTimeout, c.cfg.PollInterval, func(html string) source.Verdict {
		return ClassifyHTML(html, q)
	})
	log.Debug("search classified", zap.String("status", string(verdict.Status)), zap.String("detail", verdict.Detail))

	switch verdict.Status {
	case source.StatusMatched:
		url, err := page.Location(ctx)
		if err != nil || url == "" {
			url = c.cfg.URL
		}
		return source.Matched(Name, url, fmt.Sprintf("match for %q: %s", term, verdict.Detail)), true
	case source.StatusNoMatch:
		return source.Outcome{}, false
	default:
		return c.blockedHTML(ctx, html, verdict.Detail), true
	}
}

func (c *Checker) open(ctx context.Context, nav source.Navigator) (source.Page, error) {
	page, err := nav.Navigate(ctx, c.cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := source.Pause(ctx, c.cfg.SettleDelay); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

func (c *Checker) verificationShown(ctx context.Context, page source.Page) (string, bool) {
	html, err := page.HTML(ctx)
	if err != nil {
		return "", false
	}
	v := ClassifyHTML(html, vehicle.Query{})
	if v.Status == source.StatusBlocked && v.Final {
		title, _ := page.Title(ctx)
		return title, true
	}
	return "", false
}

func (c *Checker) openForm(ctx context.Context, page source.Page) error {
	if err := page.WaitVisible(ctx, formSelector, c.cfg.FormTimeout); err != nil {
		// The form can be attached but collapsed until openFilterSearch runs.
		exists, existsErr := page.Exists(ctx, formSelector)
		if existsErr != nil || !exists {
			return err
		}
	}
	var opened bool
	if err := page.Eval(ctx, openFormScript, &opened); err != nil {
		return fmt.Errorf("open filter panel: %w", err)
	}
	if err := page.WaitVisible(ctx, queryInput, c.cfg.FormTimeout); err != nil {
		return err
	}
	return nil
}

func (c *Checker) blocked(ctx context.Context, page source.Page, detail string) source.Outcome {
	html, err := page.HTML(ctx)
	if err != nil {
		c.logger.Debug("read blocked page failed", zap.Error(err))
	}
	return c.blockedHTML(ctx, html, detail)
}

func (c *Checker) blockedHTML(ctx context.Context, html, detail string) source.Outcome {
	out := source.Blocked(Name, c.cfg.URL, detail)
	if c.snapshots == nil || html == "" {
		return out
	}
	uri, err := c.snapshots.Save(ctx, Name, html)
	if err != nil {
		c.logger.Warn("save snapshot failed", zap.Error(err))
		return out
	}
	out.Snapshot = uri
	return out
}
