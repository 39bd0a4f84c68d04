// Package rosim checks the Rosimushchestvo property marketplace at
// fiol.rosim.gov.ru. The marketplace filters transport lots by VIN only.
package rosim

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/carwatch/internal/source"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

const (
	// Name identifies the source in reports, logs and metrics.
	Name = "rosim"
	// Label is the human-readable source name used in alerts.
	Label = "Росимущество (fiol.rosim.gov.ru)"
	// DefaultURL is the marketplace landing page.
	DefaultURL = "https://fiol.rosim.gov.ru/mk/"
)

// XPath is used where the target is identified by its text.
const (
	transportTab = `//ul[contains(@class,'filter-tabs__tabs')]/li[contains(normalize-space(.),'Транспорт')]`
	moreFilters  = `//button[contains(@class,'filter-actions__btn-show')][contains(normalize-space(.),'Дополнительные')]`
	vinInput     = `//div[contains(@class,'filters-vehicle-card')]//div[contains(@class,'field-filter')]` +
		`[.//h4[contains(normalize-space(.),'Идентификационный')]]//input[contains(@class,'input')]`
	applyButton = "button.filter-actions__btn-apply"
)

// Config tunes the marketplace check.
type Config struct {
	URL           string
	SettleDelay   time.Duration
	FieldTimeout  time.Duration
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
	if c.FieldTimeout <= 0 {
		c.FieldTimeout = 15 * time.Second
	}
	if c.ResultTimeout <= 0 {
		c.ResultTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Checker drives the marketplace filter panel in a browser.
type Checker struct {
	cfg       Config
	snapshots source.SnapshotStore
	logger    *zap.Logger
}

// New creates a Rosim checker. snapshots may be nil.
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

// Check filters the transport lots by the query's VIN. A plate-only query is
// a NoMatch because the marketplace cannot search by plate.
func (c *Checker) Check(ctx context.Context, nav source.Navigator, q vehicle.Query) source.Outcome {
	if q.VIN == "" {
		return source.NoMatch(Name, c.cfg.URL, "VIN not set; plate search unsupported")
	}
	if nav == nil {
		return source.Blocked(Name, c.cfg.URL, "no browser session")
	}

	page, err := nav.Navigate(ctx, c.cfg.URL)
	if err != nil {
		return source.Blockedf(Name, c.cfg.URL, "load marketplace: %v", err)
	}
	defer func() { _ = page.Close() }()

	if err := source.Pause(ctx, c.cfg.SettleDelay); err != nil {
		return source.Blockedf(Name, c.cfg.URL, "wait canceled: %v", err)
	}
	if html, err := page.HTML(ctx); err == nil {
		if v := ClassifyHTML(html, q); v.Final {
			return c.blockedHTML(ctx, html, v.Detail)
		}
	}

	if err := c.clickIfPresent(ctx, page, transportTab, c.cfg.SettleDelay); err != nil {
		return c.blocked(ctx, page, fmt.Sprintf("open transport tab: %v", err))
	}
	if err := c.clickIfPresent(ctx, page, moreFilters, c.cfg.SettleDelay/2); err != nil {
		return c.blocked(ctx, page, fmt.Sprintf("expand filters: %v", err))
	}

	if err := page.WaitVisible(ctx, vinInput, c.cfg.FieldTimeout); err != nil {
		return c.blocked(ctx, page, fmt.Sprintf("VIN field not found: %v", err))
	}
	var before string
	if html, err := page.HTML(ctx); err == nil {
		before = resultTextHTML(html)
	}
	if err := page.Fill(ctx, vinInput, q.VIN); err != nil {
		return c.blocked(ctx, page, fmt.Sprintf("fill VIN: %v", err))
	}
	if err := page.Click(ctx, applyButton); err != nil {
		return c.blocked(ctx, page, fmt.Sprintf("apply filter: %v", err))
	}
	if err := source.Pause(ctx, c.cfg.SettleDelay); err != nil {
		return source.Blockedf(Name, c.cfg.URL, "wait canceled: %v", err)
	}

	verdict, html := source.Await(ctx, page, c.cfg.ResultTimeout, c.cfg.PollInterval, func(html string) source.Verdict {
		v := ClassifyHTML(html, q)
		// The unfiltered table stays on screen until the filtered one arrives.
		if v.Status == source.StatusMatched && before != "" && resultTextHTML(html) == before {
			return source.Verdict{Status: source.StatusBlocked, Detail: "results table not refreshed after filtering"}
		}
		return v
	})
	c.logger.Debug("filter classified", zap.String("status", string(verdict.Status)), zap.String("detail", verdict.Detail))

	switch verdict.Status {
	case source.StatusMatched:
		url, err := page.Location(ctx)
		if err != nil || url == "" {
			url = c.cfg.URL
		}
		return source.Matched(Name, url, verdict.Detail)
	case source.StatusNoMatch:
		return source.NoMatch(Name, c.cfg.URL, verdict.Detail)
	default:
		return c.blockedHTML(ctx, html, verdict.Detail)
	}
}

func (c *Checker) clickIfPresent(ctx context.Context, page source.Page, selector string, settle time.Duration) error {
	ok, err := page.Exists(ctx, selector)
	if err != nil || !ok {
		return nil
	}
	if err := page.Click(ctx, selector); err != nil {
		return err
	}
	return source.Pause(ctx, settle)
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
