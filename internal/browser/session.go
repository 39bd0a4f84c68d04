// Package browser owns the Chrome process used by the source checkers.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrLaunch indicates the browser runtime could not be started.
var ErrLaunch = errors.New("browser launch failed")

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultAcceptLanguage = "ru-RU,ru;q=0.9,en;q=0.8"
	defaultNavTimeout     = 45 * time.Second
)

// stealthScript hides the most common automation fingerprints before any
// site script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {
	get: () => undefined,
	configurable: true,
	enumerable: true,
});
window.chrome = { runtime: {} };
`

// Options controls how the browser is launched and how pages are prepared.
type Options struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	AcceptLanguage    string
	Locale            string
	Timezone          string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
}

// DefaultOptions mirrors a desktop Chrome visiting from Moscow.
func DefaultOptions() Options {
	return Options{
		Headless:          true,
		UserAgent:         defaultUserAgent,
		AcceptLanguage:    defaultAcceptLanguage,
		Locale:            "ru-RU",
		Timezone:          "Europe/Moscow",
		WindowWidth:       1280,
		WindowHeight:      800,
		NavigationTimeout: defaultNavTimeout,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.UserAgent == "" {
		o.UserAgent = def.UserAgent
	}
	if o.AcceptLanguage == "" {
		o.AcceptLanguage = def.AcceptLanguage
	}
	if o.WindowWidth <= 0 || o.WindowHeight <= 0 {
		o.WindowWidth, o.WindowHeight = def.WindowWidth, def.WindowHeight
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = def.NavigationTimeout
	}
	return o
}

// allocatorOptions builds the Chrome command line.
func (o Options) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.WindowSize(o.WindowWidth, o.WindowHeight),
		chromedp.UserAgent(o.UserAgent),
	)
	if o.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"), chromedp.Flag("disable-gpu", true))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	return opts
}

// Session owns one browser process for the duration of a check.
type Session struct {
	opts          Options
	logger        *zap.Logger
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
}

// Open launches the browser. The returned Session must be closed by the
// caller; a launch failure wraps ErrLaunch.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	logger.Debug("browser started", zap.Bool("headless", opts.Headless))

	return &Session{
		opts:          opts,
		logger:        logger,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

// Close terminates the browser process. It is safe to call more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.browserCancel()
		s.allocCancel()
		s.logger.Debug("browser closed")
	})
	return nil
}

// Navigate opens a new tab, loads rawURL and waits for the body to be ready.
// The load is bounded by the session's navigation timeout.
func (s *Session) Navigate(ctx context.Context, rawURL string) (*Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	stopForward := forwardCancel(ctx, cancelTab)

	// The first Run attaches the target, so it runs on tabCtx itself and the
	// bound is enforced by canceling the tab.
	err := startBounded(s.opts.NavigationTimeout, cancelTab, func() error {
		return chromedp.Run(tabCtx, s.pageSetupAction())
	})
	if err != nil {
		stopForward()
		cancelTab()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	page := &Page{
		ctx:           tabCtx,
		cancel:        cancelTab,
		stopForward:   stopForward,
		actionTimeout: s.opts.NavigationTimeout,
	}
	err = page.run(ctx, s.opts.NavigationTimeout,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return page, nil
}

func (s *Session) pageSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if _, err := cdppage.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install init script: %w", err)
		}
		override := emulation.SetUserAgentOverride(s.opts.UserAgent).WithAcceptLanguage(s.opts.AcceptLanguage)
		if err := override.Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		headers := network.Headers{"Accept-Language": s.opts.AcceptLanguage}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		if s.opts.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(s.opts.Locale).Do(ctx); err != nil {
				return fmt.Errorf("set locale: %w", err)
			}
		}
		if s.opts.Timezone != "" {
			if err := emulation.SetTimezoneOverride(s.opts.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}
		}
		return nil
	})
}

// errStartTimeout reports a tab that was not ready within its bound.
var errStartTimeout = errors.New("tab setup timed out")

// startBounded runs start and calls cancel if it has not returned within d.
// A start that loses the race to the timer is reported as timed out because
// its tab is already canceled.
func startBounded(d time.Duration, cancel context.CancelFunc, start func() error) error {
	if d <= 0 {
		return start()
	}
	timer := time.AfterFunc(d, cancel)
	err := start()
	if !timer.Stop() {
		return fmt.Errorf("%w after %s", errStartTimeout, d)
	}
	return err
}

// forwardCancel cancels the tab when the caller's context finishes first.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
