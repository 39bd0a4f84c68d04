package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X float64
	Y float64
}

// Page is a single browser tab. Selectors are resolved with DOM search, so
// both CSS selectors and XPath expressions are accepted.
type Page struct {
	ctx           context.Context
	cancel        context.CancelFunc
	stopForward   func()
	actionTimeout time.Duration
	closeOnce     sync.Once
}

// Close closes the tab.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.stopForward()
		p.cancel()
	})
	return nil
}

// Location returns the current document URL.
func (p *Page) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.actionTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Title returns the document title.
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, p.actionTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// HTML returns the rendered DOM.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.actionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Exists reports whether selector matches at least one node right now.
func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, p.actionTimeout, chromedp.Nodes(selector, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	if err != nil {
		return false, fmt.Errorf("query %q: %w", selector, err)
	}
	return len(nodes) > 0, nil
}

// WaitVisible blocks until selector is visible or timeout elapses.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.BySearch)); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

// Fill replaces the value of an input with value, typing it key by key.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	err := p.run(ctx, p.actionTimeout,
		chromedp.Clear(selector, chromedp.BySearch, chromedp.NodeVisible),
		chromedp.SendKeys(selector, value, chromedp.BySearch, chromedp.NodeVisible),
	)
	if err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

// Click clicks the first visible node matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.run(ctx, p.actionTimeout, chromedp.Click(selector, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// Eval evaluates script and decodes its JSON result into out.
func (p *Page) Eval(ctx context.Context, script string, out any) error {
	if err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Drag presses the left button at path[0], moves through the remaining
// points and releases at the last one.
func (p *Page) Drag(ctx context.Context, path []Point, stepDelay time.Duration) error {
	if len(path) < 2 {
		return fmt.Errorf("drag path needs at least two points, got %d", len(path))
	}
	start, end := path[0], path[len(path)-1]
	actions := []chromedp.Action{
		input.DispatchMouseEvent(input.MouseMoved, start.X, start.Y),
		chromedp.Sleep(stepDelay),
		input.DispatchMouseEvent(input.MousePressed, start.X, start.Y).
			WithButton(input.Left).WithClickCount(1),
	}
	for _, pt := range path[1:] {
		actions = append(actions,
			chromedp.Sleep(stepDelay),
			input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y).WithButton(input.Left),
		)
	}
	actions = append(actions,
		input.DispatchMouseEvent(input.MouseReleased, end.X, end.Y).
			WithButton(input.Left).WithClickCount(1),
	)
	if err := p.run(ctx, p.actionTimeout, actions...); err != nil {
		return fmt.Errorf("drag: %w", err)
	}
	return nil
}

// run executes actions on the tab under a per-call timeout that also honors
// the caller's context.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = defaultNavTimeout
	}
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}
