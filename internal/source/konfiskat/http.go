package konfiskat

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/carwatch/internal/policy/ratelimit"
	"github.com/JakeFAU/carwatch/internal/source"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

const (
	defaultHTTPUserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:109.0) Gecko/20100101 Firefox/115.0"
	// Real listing pages are well above this; anything smaller is an interstitial.
	minPageBytes = 5000
)

// HTTPConfig tunes the form-post transport.
type HTTPConfig struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
	// RequestInterval spaces requests to the registry; zero disables it.
	RequestInterval time.Duration
}

// HTTPChecker searches the registry by posting its search form directly,
// without a browser. The registry guards the form with a CSRF token that is
// read from the listing page first.
type HTTPChecker struct {
	cfg           HTTPConfig
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	snapshots     source.SnapshotStore
	logger        *zap.Logger
}

// NewHTTP creates a colly-backed Konfiskat checker. snapshots may be nil.
func NewHTTP(cfg HTTPConfig, snapshots source.SnapshotStore, logger *zap.Logger) *HTTPChecker {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultHTTPUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	})

	return &HTTPChecker{
		cfg:           cfg,
		baseCollector: c,
		limiter:       ratelimit.New(cfg.RequestInterval),
		snapshots:     snapshots,
		logger:        logger.Named(Name),
	}
}

// Name implements source.Checker.
func (h *HTTPChecker) Name() string { return Name }

// Label implements the optional labeler used by alert messages.
func (h *HTTPChecker) Label() string { return Label }

// NeedsBrowser implements source.Checker.
func (h *HTTPChecker) NeedsBrowser() bool { return false }

// Check ignores nav; every request goes over plain HTTP.
func (h *HTTPChecker) Check(ctx context.Context, _ source.Navigator, q vehicle.Query) source.Outcome {
	terms := q.Terms()
	if len(terms) == 0 {
		return source.NoMatch(Name, h.cfg.URL, "no VIN or plate to search")
	}

	landing, _, err := h.fetch(ctx, func(c *colly.Collector) error {
		return c.Visit(h.cfg.URL)
	})
	if err != nil {
		return source.Blockedf(Name, h.cfg.URL, "load search page: %v", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(landing))
	if err != nil {
		return source.Blockedf(Name, h.cfg.URL, "parse search page: %v", err)
	}

	token := extractToken(doc)
	if token == "" {
		detail := "CSRF token not found"
		if source.IsBlockPage(doc) || len(landing) < minPageBytes {
			detail += " (site may be showing bot verification)"
		}
		return h.blocked(ctx, string(landing), detail)
	}

	for _, term := range terms {
		form := map[string]string{
			"_token":     token,
			"query":      term,
			"page":       "1",
			"category[]": "1",
		}
		body, finalURL, err := h.fetch(ctx, func(c *colly.Collector) error {
			return c.Post(h.cfg.URL, form)
		})
		if err != nil {
			return source.Blockedf(Name, h.cfg.URL, "search %q: %v", term, err)
		}

		verdict := ClassifyHTML(string(body), q)
		h.logger.Debug("search classified",
			zap.String("term", term),
			zap.String("status", string(verdict.Status)),
			zap.String("detail", verdict.Detail),
		)
		switch verdict.Status {
		case source.StatusMatched:
			if finalURL == "" {
				finalURL = h.cfg.URL
			}
			return source.Matched(Name, finalURL, fmt.Sprintf("match for %q: %s", term, verdict.Detail))
		case source.StatusBlocked:
			return h.blocked(ctx, string(body), verdict.Detail)
		}
	}
	return source.NoMatch(Name, h.cfg.URL, "no matching listings for "+strings.Join(terms, ", "))
}

// fetch runs one request on a clone of the base collector and returns the
// response body and final URL. Clones share the cookie jar, so the session
// cookie issued with the token is sent with the search post.
func (h *HTTPChecker) fetch(ctx context.Context, do func(*colly.Collector) error) ([]byte, string, error) {
	if err := h.limiter.Wait(ctx, h.cfg.URL); err != nil {
		return nil, "", err
	}
	var (
		body     []byte
		finalURL string
		fetchErr error
	)
	req := h.baseCollector.Clone()
	req.UserAgent = h.cfg.UserAgent
	req.SetRequestTimeout(h.cfg.Timeout)
	req.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.8")
	})
	req.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		finalURL = r.Request.URL.String()
	})
	req.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- do(req)
	}()

	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, "", fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if err != nil {
			return nil, "", fmt.Errorf("colly request failed: %w", err)
		}
		return body, finalURL, nil
	}
}

func (h *HTTPChecker) blocked(ctx context.Context, html, detail string) source.Outcome {
	out := source.Blocked(Name, h.cfg.URL, detail)
	if h.snapshots == nil || html == "" {
		return out
	}
	uri, err := h.snapshots.Save(ctx, Name, html)
	if err != nil {
		h.logger.Warn("save snapshot failed", zap.Error(err))
		return out
	}
	out.Snapshot = uri
	return out
}

// extractToken reads the Laravel CSRF token from the search form or the
// csrf-token meta tag.
func extractToken(doc *goquery.Document) string {
	if v, ok := doc.Find(`input[name="_token"]`).First().Attr("value"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[name="csrf-token"]`).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
