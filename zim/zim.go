// Package zim defines the archive writer contract the scraper appends to.
// The production creator is an external binding; DirCreator writes the same
// entries to a plain directory tree for tests and development runs.
package zim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/containerd/errdefs"
)

// Namespace tags for archive entries.
const (
	NamespaceArticle  = 'A'
	NamespaceImage    = 'I'
	NamespaceResource = '-'
	NamespaceRedirect = 'U'
	NamespaceMetadata = 'M'
)

// Entry is one addressable archive member.
type Entry struct {
	Namespace byte
	URL       string
	Title     string
	MimeType  string
	Data      []byte

	// Indexable marks 'A' entries that should enter the title index.
	Indexable bool
}

// Creator is an append-only archive sink keyed by (namespace, url). Finish
// must be called exactly once after the last AddArticle.
type Creator interface {
	AddArticle(ctx context.Context, e Entry) error
	Finish() error
}

// DirCreator writes entries into a directory, one subdirectory per
// namespace. It is safe for concurrent use and deduplicates by
// (namespace, url): the first entry for a key wins.
type DirCreator struct {
	root string

	mu       sync.Mutex
	seen     map[string]struct{}
	finished bool
}

// NewDirCreator creates the namespace layout under root.
func NewDirCreator(root string) (*DirCreator, error) {
	for _, ns := range []byte{NamespaceArticle, NamespaceImage, NamespaceResource, NamespaceRedirect, NamespaceMetadata} {
		if err := os.MkdirAll(filepath.Join(root, string(ns)), 0o755); err != nil {
			return nil, fmt.Errorf("creating archive layout: %w", err)
		}
	}
	return &DirCreator{root: root, seen: map[string]struct{}{}}, nil
}

func (c *DirCreator) AddArticle(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.URL == "" {
		return fmt.Errorf("%w: entry without url", errdefs.ErrInvalidArgument)
	}

	key := string(e.Namespace) + "/" + e.URL
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return fmt.Errorf("%w: archive already finalized", errdefs.ErrFailedPrecondition)
	}
	if _, dup := c.seen[key]; dup {
		c.mu.Unlock()
		return nil
	}
	c.seen[key] = struct{}{}
	c.mu.Unlock()

	path := filepath.Join(c.root, string(e.Namespace), filepath.FromSlash(e.URL))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating entry directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path, e.Data, 0o644); err != nil {
		return fmt.Errorf("writing entry %s: %w", key, err)
	}
	return nil
}

// Finish marks the archive complete. Calling it twice is an error, as is any
// AddArticle afterwards.
func (c *DirCreator) Finish() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return fmt.Errorf("%w: archive already finalized", errdefs.ErrFailedPrecondition)
	}
	c.finished = true
	return nil
}

// Len reports how many distinct entries were added.
func (c *DirCreator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
