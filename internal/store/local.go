package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local is a filesystem BlobStore, one file per key. When a TTL is set,
// files older than the TTL read as absent, so a tiered store falls through
// to the durable tier and repopulates.
type Local struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewLocal creates a filesystem store rooted at dir, creating it if needed.
// ttl of zero disables staleness checks.
func NewLocal(dir string, ttl time.Duration) (*Local, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "ledgersync-cache")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	return &Local{dir: dir, ttl: ttl, now: time.Now}, nil
}

// Dir returns the cache directory.
func (l *Local) Dir() string { return l.dir }

func (l *Local) path(key string) string {
	// Keys are caller-controlled identifiers; keep them from escaping the dir.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(l.dir, safe)
}

// Get returns the cached document for key, treating expired files as absent.
func (l *Local) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path := l.path(key)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if l.ttl > 0 && l.now().Sub(info.ModTime()) > l.ttl {
		return nil, false, nil
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	return doc, true, nil
}

// Put writes the document atomically via a temp file rename.
func (l *Local) Put(ctx context.Context, key string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := l.path(key)
	tmp, err := os.CreateTemp(l.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
