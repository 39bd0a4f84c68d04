// Package konfiskat includes tests for the form-post transport.
package konfiskat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/carwatch/internal/source"
	"github.com/JakeFAU/carwatch/internal/source/sourcetest"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

// registryServer serves a search page with a CSRF token and answers posts
// with result(query).
type registryServer struct {
	mu      sync.Mutex
	queries []string
	token   string
	landing string
	result  func(query string) string
}

func (s *registryServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.Method == http.MethodGet {
		_, _ = w.Write([]byte(s.landing))
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("_token") != s.token {
		w.WriteHeader(419)
		return
	}
	query := r.PostForm.Get("query")
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	_, _ = w.Write([]byte(s.result(query)))
}

func landingWithToken(token string) string {
	return page("Автомобили",
		`<form id="js-search-form"><input type="hidden" name="_token" value="`+token+`"><input name="query"></form>`+
			strings.Repeat("<p>лот</p>", 1000))
}

// TestHTTPChecker_Matched posts the search with the form token and finds the VIN.
func TestHTTPChecker_Matched(t *testing.T) {
	t.Parallel()

	reg := &registryServer{
		token:   "tok-123",
		landing: landingWithToken("tok-123"),
		result: func(query string) string {
			return page("Автомобили", listing("Lada Granta VIN "+query, false))
		},
	}
	server := httptest.NewServer(reg)
	defer server.Close()

	c := NewHTTP(HTTPConfig{URL: server.URL, Timeout: 5 * time.Second}, nil, zap.NewNop())
	out := c.Check(context.Background(), nil, vehicle.NewQuery(testVIN, ""))

	require.Equal(t, source.StatusMatched, out.Status, out.Detail)
	assert.Contains(t, out.Detail, testVIN)
	assert.Equal(t, []string{testVIN}, reg.queries)
	assert.False(t, c.NeedsBrowser())
}

// TestHTTPChecker_MetaToken reads the token from the meta tag and searches every term.
func TestHTTPChecker_MetaToken(t *testing.T) {
	t.Parallel()

	reg := &registryServer{
		token:   "meta-tok",
		landing: `<html><head><meta name="csrf-token" content="meta-tok"></head><body>` + strings.Repeat("<p>лот</p>", 1000) + `</body></html>`,
		result: func(string) string {
			return page("Автомобили", "<p>Ничего не найдено</p>")
		},
	}
	server := httptest.NewServer(reg)
	defer server.Close()

	c := NewHTTP(HTTPConfig{URL: server.URL, Timeout: 5 * time.Second}, nil, zap.NewNop())
	out := c.Check(context.Background(), nil, vehicle.NewQuery(testVIN, "А123ВС77"))

	require.Equal(t, source.StatusNoMatch, out.Status, out.Detail)
	assert.Equal(t, []string{testVIN, "А123ВС77"}, reg.queries)
}

// TestHTTPChecker_MissingToken ensures a page without a token is Blocked with a snapshot.
func TestHTTPChecker_MissingToken(t *testing.T) {
	t.Parallel()

	landing := page("Проверка пользователя", "<div>Сдвиньте ползунок</div>")
	reg := &registryServer{landing: landing, result: func(string) string { return "" }}
	server := httptest.NewServer(reg)
	defer server.Close()

	snaps := &sourcetest.Snapshots{}
	c := NewHTTP(HTTPConfig{URL: server.URL, Timeout: 5 * time.Second}, snaps, zap.NewNop())
	out := c.Check(context.Background(), nil, vehicle.NewQuery(testVIN, ""))

	require.Equal(t, source.StatusBlocked, out.Status)
	assert.Contains(t, out.Detail, "CSRF token not found")
	assert.Contains(t, out.Detail, "bot verification")
	require.NotEmpty(t, out.Snapshot)
	assert.Equal(t, landing, snaps.Saved[out.Snapshot])
	assert.Empty(t, reg.queries)
}

// TestHTTPChecker_ServerError ensures HTTP errors are Blocked with the status code.
func TestHTTPChecker_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewHTTP(HTTPConfig{URL: server.URL, Timeout: 5 * time.Second}, nil, zap.NewNop())
	out := c.Check(context.Background(), nil, vehicle.NewQuery(testVIN, ""))

	require.Equal(t, source.StatusBlocked, out.Status)
	assert.Contains(t, out.Detail, "503")
}

// TestHTTPChecker_ContextCanceled ensures cancellation stops an in-flight request.
func TestHTTPChecker_ContextCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewHTTP(HTTPConfig{URL: server.URL, Timeout: 5 * time.Second}, nil, zap.NewNop())
	out := c.Check(ctx, nil, vehicle.NewQuery(testVIN, ""))

	require.Equal(t, source.StatusBlocked, out.Status)
	assert.Contains(t, out.Detail, "canceled")
}

// TestExtractToken covers the token sources.
func TestExtractToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want string
	}{
		{"form field", `<input name="_token" value=" abc ">`, "abc"},
		{"meta fallback", `<meta name="csrf-token" content="def"><input name="_token" value="">`, "def"},
		{"absent", `<p>nothing</p>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.want, extractToken(doc))
		})
	}
}
