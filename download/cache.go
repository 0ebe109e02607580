package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/log"
)

const refMarker = "ref"

// ResponseCache is the run-local scratch cache of HTTP responses. Bodies are
// stored under the first 20 hex characters of SHA-1(url), headers in a
// sibling `.h` file. A `ref` marker written at construction time lets the
// shutdown cleanup drop everything that was not touched during this run.
type ResponseCache struct {
	dir          string
	skipCleaning bool
	ref          time.Time
}

// NewResponseCache creates (or reuses) the cache directory and drops the ref
// marker.
func NewResponseCache(dir string, skipCleaning bool) (*ResponseCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	ref := time.Now()
	if err := os.WriteFile(filepath.Join(dir, refMarker), nil, 0o644); err != nil {
		return nil, err
	}
	return &ResponseCache{dir: dir, skipCleaning: skipCleaning, ref: ref}, nil
}

func cacheKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:20]
}

func (c *ResponseCache) bodyPath(url string) string {
	return filepath.Join(c.dir, cacheKey(url))
}

// Get returns the cached response for url, touching the entry so cleanup
// keeps it.
func (c *ResponseCache) Get(url string) ([]byte, http.Header, bool) {
	path := c.bodyPath(url)
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, false
	}
	var header http.Header
	if raw, err := os.ReadFile(path + ".h"); err == nil {
		_ = json.Unmarshal(raw, &header)
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	_ = os.Chtimes(path+".h", now, now)
	return body, header, true
}

// Put stores one response body plus its headers.
func (c *ResponseCache) Put(url string, body []byte, header http.Header) error {
	path := c.bodyPath(url)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}
	raw, err := json.Marshal(header)
	if err != nil {
		return err
	}
	return os.WriteFile(path+".h", raw, 0o644)
}

// Cleanup removes entries older than the run's ref marker. With
// skipCleaning set it leaves everything in place for the next run.
func (c *ResponseCache) Cleanup(ctx context.Context) error {
	if c.skipCleaning {
		log.G(ctx).Debug("scratch cache cleaning skipped")
		return nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == refMarker {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(c.ref) {
			if err := os.Remove(filepath.Join(c.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	log.G(ctx).WithField("removed", removed).Debug("scratch cache cleaned")
	return nil
}
