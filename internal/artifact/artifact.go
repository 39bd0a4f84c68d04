// Package artifact persists diagnostic snapshots of pages that a checker
// could not classify, so a Blocked outcome can be inspected after the run.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// BlobStore writes an object and returns a URI for it.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// Clock supplies timestamps for object names.
type Clock interface {
	Now() time.Time
}

// Snapshots names and stores page HTML under a per-run prefix. It implements
// source.SnapshotStore.
type Snapshots struct {
	store  BlobStore
	prefix string
	clock  Clock
}

// NewSnapshots creates a snapshot writer. Objects land under
// <prefix>/<runID>/.
func NewSnapshots(store BlobStore, prefix, runID string, clock Clock) (*Snapshots, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Snapshots{
		store:  store,
		prefix: path.Join(strings.Trim(prefix, "/"), runID),
		clock:  clock,
	}, nil
}

// Save writes html as <source>-<unix>-<digest>.html and returns its URI.
func (s *Snapshots) Save(ctx context.Context, source, html string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", fmt.Errorf("source is required")
	}
	name := fmt.Sprintf("%s-%d-%s.html", source, s.clock.Now().Unix(), Digest([]byte(html))[:12])
	uri, err := s.store.PutObject(ctx, path.Join(s.prefix, name), "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("save %s snapshot: %w", source, err)
	}
	return uri, nil
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
