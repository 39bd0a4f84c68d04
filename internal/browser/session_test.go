// Package browser includes tests for session options and lifecycle helpers.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestOptionsWithDefaults checks that zero options are filled from DefaultOptions.
func TestOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	got := Options{Headless: false}.withDefaults()
	assert.False(t, got.Headless)
	assert.Equal(t, defaultUserAgent, got.UserAgent)
	assert.Equal(t, defaultAcceptLanguage, got.AcceptLanguage)
	assert.Equal(t, 1280, got.WindowWidth)
	assert.Equal(t, 800, got.WindowHeight)
	assert.Equal(t, defaultNavTimeout, got.NavigationTimeout)

	custom := Options{UserAgent: "ua", NavigationTimeout: time.Second, WindowWidth: 10, WindowHeight: 20}.withDefaults()
	assert.Equal(t, "ua", custom.UserAgent)
	assert.Equal(t, time.Second, custom.NavigationTimeout)
	assert.Equal(t, 10, custom.WindowWidth)
}

// TestAllocatorOptionsGrowWithExecPath checks that ExecPath and headless toggle allocator options.
func TestAllocatorOptionsGrowWithExecPath(t *testing.T) {
	t.Parallel()

	base := DefaultOptions().allocatorOptions()
	withPath := Options{ExecPath: "/opt/chrome"}.withDefaults().allocatorOptions()
	visible := Options{Headless: false}.withDefaults().allocatorOptions()

	assert.Len(t, withPath, len(base)+1)
	assert.Len(t, visible, len(base)-1)
}

// TestForwardCancel ensures a finished caller context cancels the tab.
func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context was not canceled")
	}
	stop()
}

// TestStartBounded verifies that tab setup is canceled once its bound
// elapses and left alone when it finishes in time.
func TestStartBounded(t *testing.T) {
	t.Parallel()

	t.Run("times out", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := startBounded(20*time.Millisecond, cancel, func() error {
			<-ctx.Done()
			return ctx.Err()
		})
		require.ErrorIs(t, err, errStartTimeout)
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("finishes in time", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := startBounded(time.Second, cancel, func() error { return nil })
		require.NoError(t, err)
		assert.NoError(t, ctx.Err())
	})

	t.Run("returns start error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("attach failed")
		err := startBounded(time.Second, func() {}, func() error { return boom })
		assert.ErrorIs(t, err, boom)
	})
}

// TestOpenMissingBinary ensures a missing Chrome binary is reported as ErrLaunch.
func TestOpenMissingBinary(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.ExecPath = "/nonexistent/chrome-binary"
	_, err := Open(context.Background(), opts, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLaunch), "got %v", err)
}

// TestSessionNavigateAndInteract drives a real browser against a test server; skipped without Chrome.
func TestSessionNavigateAndInteract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><head><title>Поиск</title></head><body>
<form id="f"><input name="query"><button type="button" id="go"
 onclick="document.getElementById('out').textContent = document.querySelector('input').value">go</button></form>
<div id="out"></div><script>document.title = navigator.webdriver === undefined ? 'stealth' : 'exposed';</script>
</body></html>`)
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.NavigationTimeout = 10 * time.Second
	session, err := Open(context.Background(), opts, zap.NewNop())
	if err != nil {
		t.Skipf("chrome unavailable: %v", err)
	}
	defer session.Close()

	ctx := context.Background()
	page, err := session.Navigate(ctx, srv.URL)
	require.NoError(t, err)
	defer page.Close()

	title, err := page.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stealth", title)

	exists, err := page.Exists(ctx, "#missing")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, page.Fill(ctx, "input[name='query']", "KN98H4MDDBCB9K305"))
	require.NoError(t, page.Click(ctx, "#go"))

	html, err := page.HTML(ctx)
	require.NoError(t, err)
	assert.True(t, strings.Contains(html, `<div id="out">KN98H4MDDBCB9K305</div>`), html)

	var sum int
	require.NoError(t, page.Eval(ctx, "1 + 2", &sum))
	assert.Equal(t, 3, sum)

	err = page.WaitVisible(ctx, "#never", 200*time.Millisecond)
	require.Error(t, err)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
}
