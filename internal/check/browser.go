package check

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/carwatch/internal/browser"
	"github.com/JakeFAU/carwatch/internal/source"
)

// Browser is a navigator that must be released after use.
type Browser interface {
	source.Navigator
	Close() error
}

// BrowserFactory starts a browser. Errors are treated as configuration
// errors by the runner.
type BrowserFactory func(ctx context.Context) (Browser, error)

// ChromeLauncher returns a factory that opens chromedp sessions with opts.
func ChromeLauncher(opts browser.Options, logger *zap.Logger) BrowserFactory {
	return func(ctx context.Context) (Browser, error) {
		s, err := browser.Open(ctx, opts, logger)
		if err != nil {
			return nil, err
		}
		return sessionBrowser{s: s}, nil
	}
}

type sessionBrowser struct {
	s *browser.Session
}

func (b sessionBrowser) Navigate(ctx context.Context, url string) (source.Page, error) {
	p, err := b.s.Navigate(ctx, url)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (b sessionBrowser) Close() error { return b.s.Close() }
