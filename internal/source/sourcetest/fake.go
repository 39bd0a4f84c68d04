// Package sourcetest provides in-memory pages and navigators for checker
// tests.
package sourcetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/carwatch/internal/browser"
	"github.com/JakeFAU/carwatch/internal/source"
)

// Page is a scripted source.Page. Clicking a selector listed in AfterClick
// replaces the page content, which is how a test models a search submit.
type Page struct {
	mu sync.Mutex

	URL        string
	TitleText  string
	Content    string
	Visible    map[string]bool
	Present    map[string]bool
	AfterClick map[string]string
	EvalFunc   func(script string, out any) error
	FillErr    error
	ClickErr   error

	Filled  map[string]string
	Clicked []string
	Dragged [][]browser.Point
	Closed  bool
}

// Location implements source.Page.
func (p *Page) Location(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URL, nil
}

// Title implements source.Page.
func (p *Page) Title(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TitleText, nil
}

// HTML implements source.Page.
func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Content, nil
}

// Exists implements source.Page.
func (p *Page) Exists(_ context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Present[selector] || p.Visible[selector], nil
}

// WaitVisible implements source.Page. It fails immediately for selectors
// that are not marked visible.
func (p *Page) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Visible[selector] {
		return nil
	}
	return fmt.Errorf("wait visible %q: %w", selector, context.DeadlineExceeded)
}

// Fill implements source.Page.
func (p *Page) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FillErr != nil {
		return p.FillErr
	}
	if p.Filled == nil {
		p.Filled = make(map[string]string)
	}
	p.Filled[selector] = value
	return nil
}

// Click implements source.Page.
func (p *Page) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ClickErr != nil {
		return p.ClickErr
	}
	p.Clicked = append(p.Clicked, selector)
	if next, ok := p.AfterClick[selector]; ok {
		p.Content = next
	}
	return nil
}

// Eval implements source.Page. Without EvalFunc it leaves out untouched.
func (p *Page) Eval(_ context.Context, script string, out any) error {
	if p.EvalFunc == nil {
		return nil
	}
	return p.EvalFunc(script, out)
}

// Drag implements source.Page.
func (p *Page) Drag(_ context.Context, path []browser.Point, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Dragged = append(p.Dragged, path)
	return nil
}

// Close implements source.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Navigator hands out Pages in order; the last one is reused once the list
// runs out.
type Navigator struct {
	mu     sync.Mutex
	Pages  []*Page
	Err    error
	Visits []string
}

// Navigate implements source.Navigator.
func (n *Navigator) Navigate(_ context.Context, url string) (source.Page, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Visits = append(n.Visits, url)
	if n.Err != nil {
		return nil, n.Err
	}
	if len(n.Pages) == 0 {
		return nil, errors.New("sourcetest: no pages")
	}
	idx := len(n.Visits) - 1
	if idx >= len(n.Pages) {
		idx = len(n.Pages) - 1
	}
	return n.Pages[idx], nil
}

// Snapshots records saved HTML in memory.
type Snapshots struct {
	mu    sync.Mutex
	Saved map[string]string
	Err   error
}

// Save implements source.SnapshotStore.
func (s *Snapshots) Save(_ context.Context, src, html string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	if s.Saved == nil {
		s.Saved = make(map[string]string)
	}
	uri := fmt.Sprintf("mem://%s/%d.html", src, len(s.Saved))
	s.Saved[uri] = html
	return uri, nil
}
