// Package cache implements the content-addressed download cache (spec
// §4.5): payloads are keyed by sha256(url), streamed to a partial file,
// checked against their declared size, and atomically renamed into place
// once complete. The payload content itself is not hashed or compared
// against a digest. A sidecar lock file guarantees at-most-one in-flight
// download per key across processes.
//
// Adapted from xe's internal/cache/cas.go (CAS.StoreBlobFromURL): same
// temp-file-then-check-then-rename shape, generalized from a flat
// "<sha>.whl" layout to the spec's "<sha>/<filename>" directory layout,
// and with a real gofrs/flock lock replacing the teacher's optimistic
// os.Stat race (the spec requires genuine multi-process exclusion).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"pahkat/src/internal/pahkaterr"
	"pahkat/src/internal/telemetry"
)

// ErrIntegrity is wrapped when a downloaded payload's size does not match
// its declared size.
var ErrIntegrity = fmt.Errorf("cache: integrity error")

// ErrLockTimeout is wrapped when the sidecar lock cannot be acquired
// within the bounded wait.
var ErrLockTimeout = fmt.Errorf("cache: lock timeout")

const lockWait = 2 * time.Minute

// Payload is the minimal shape the cache needs from a catalogue.Payload:
// its URL and declared size. Kept decoupled from the catalogue package so
// the cache has no import-time dependency on the data model.
type Payload struct {
	URL  string
	Size int64
}

// Cache is a content-addressed store rooted at Root.
type Cache struct {
	Root string
	HTTP *http.Client
}

func New(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &Cache{Root: root, HTTP: &http.Client{Timeout: 10 * time.Minute}}, nil
}

// Key returns the content-address for a payload URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) entryDir(key string) string {
	return filepath.Join(c.Root, key)
}

func (c *Cache) lockPath(key string) string {
	return filepath.Join(c.Root, key+".lock")
}

// filenameFromURL derives the payload's filename from its URL path.
func filenameFromURL(url string) string {
	base := filepath.Base(url)
	if base == "" || base == "." || base == "/" {
		return "payload"
	}
	return base
}

// Get returns the local path to payload's cached file, downloading it if
// necessary. Two sequential calls for the same payload return the same
// path and byte-identical content (§8 "Cache idempotence").
func (c *Cache) Get(ctx context.Context, payload Payload) (string, error) {
	key := Key(payload.URL)
	filename := filenameFromURL(payload.URL)
	target := filepath.Join(c.entryDir(key), filename)

	if complete, err := c.checkComplete(target, payload.Size); err != nil {
		return "", err
	} else if complete {
		return target, nil
	}

	done := telemetry.StartSpan("cache.get", "url", payload.URL, "key", key)

	if err := os.MkdirAll(c.Root, 0755); err != nil {
		done("status", "error", "error", err.Error())
		return "", pahkaterr.Annotate(pahkaterr.Download, err, "prepare cache root")
	}

	lock := flock.New(c.lockPath(key))
	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 250*time.Millisecond)
	if err != nil || !locked {
		done("status", "error", "error", "lock timeout")
		return "", pahkaterr.Annotate(pahkaterr.Concurrency, ErrLockTimeout, "acquire cache lock")
	}
	defer lock.Unlock()

	// Re-check after acquiring the lock: another process may have
	// finished the download while we waited.
	if complete, err := c.checkComplete(target, payload.Size); err != nil {
		done("status", "error", "error", err.Error())
		return "", err
	} else if complete {
		done("status", "ok", "cache_hit", true)
		return target, nil
	}

	path, err := c.download(ctx, payload, key, filename)
	if err != nil {
		done("status", "error", "error", err.Error())
		return "", err
	}
	done("status", "ok", "cache_hit", false)
	return path, nil
}

func (c *Cache) checkComplete(target string, declaredSize int64) (bool, error) {
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, pahkaterr.Annotate(pahkaterr.Download, err, "stat cache entry")
	}
	if declaredSize > 0 && info.Size() != declaredSize {
		return false, nil
	}
	return true, nil
}

func (c *Cache) download(ctx context.Context, payload Payload, key, filename string) (path string, err error) {
	dir := c.entryDir(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", pahkaterr.Annotate(pahkaterr.Download, err, "create cache entry dir")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.URL, nil)
	if err != nil {
		return "", pahkaterr.Annotate(pahkaterr.Download, err, "build download request")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", pahkaterr.Annotate(pahkaterr.Download, err, "download payload")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", pahkaterr.Annotate(pahkaterr.Download, fmt.Errorf("download failed: %s", resp.Status), "download payload")
	}

	partial := filepath.Join(dir, filename+".partial")
	tmp, err := os.Create(partial)
	if err != nil {
		return "", pahkaterr.Annotate(pahkaterr.Download, err, "create partial file")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(partial)
		}
	}()

	written, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		return "", pahkaterr.Annotate(pahkaterr.Download, copyErr, "stream payload")
	}
	if closeErr != nil {
		return "", pahkaterr.Annotate(pahkaterr.Download, closeErr, "finalize partial file")
	}
	if payload.Size > 0 && written != payload.Size {
		return "", pahkaterr.Annotate(pahkaterr.Download,
			fmt.Errorf("%w: expected %d bytes, got %d", ErrIntegrity, payload.Size, written), "verify payload size")
	}

	target := filepath.Join(dir, filename)
	if err := os.Rename(partial, target); err != nil {
		return "", pahkaterr.Annotate(pahkaterr.Download, err, "finalize cache entry")
	}
	return target, nil
}

// Discard removes a partially-downloaded entry, used when cancellation
// lands mid-download (spec §4.4 cancellation semantics).
func (c *Cache) Discard(payload Payload) error {
	key := Key(payload.URL)
	filename := filenameFromURL(payload.URL)
	return os.Remove(filepath.Join(c.entryDir(key), filename+".partial"))
}

// Prune removes cache entries whose directory modification time is older
// than maxAge. No core operation calls this: the spec leaves eviction
// policy undefined (§9 Open Questions) and explicitly permits an opt-in
// LRU sweep without breaking contracts, so this is offered but never
// wired into Get or the executor.
func (c *Cache) Prune(maxAge time.Duration) error {
	entries, err := os.ReadDir(c.Root)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.RemoveAll(filepath.Join(c.Root, e.Name()))
		}
	}
	return nil
}
