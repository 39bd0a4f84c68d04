// Package gcs_test contains unit tests for the GCS blob store.
package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/carwatch/internal/artifact/gcs"
)

func newTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "snapshots"})
	require.NoError(t, err)
	return store
}

// TestPutObject uploads through a fake GCS endpoint and checks the gs:// URI.
func TestPutObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/snapshots/o")
		assert.Equal(t, "run/rosim.html", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "<p>blocked</p>")
		fmt.Fprintln(w, `{"name": "run/rosim.html", "bucket": "snapshots"}`)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), "run/rosim.html", "text/html", strings.NewReader("<p>blocked</p>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://snapshots/run/rosim.html", uri)
}

// TestPutObject_ServerError ensures upload failures are returned.
func TestPutObject_ServerError(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "run/rosim.html", "text/html", strings.NewReader("x"))
	assert.Error(t, err)
}

// TestNew_Validation ensures a client and bucket are required.
func TestNew_Validation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{Bucket: " "})
	assert.Error(t, err)
}
