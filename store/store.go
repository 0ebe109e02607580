// Package store holds the run-local persistent state of a scrape: article
// details, pending and retried file downloads, and redirects. Everything is
// kept in a single bolt database inside the run's scratch directory so a
// restarted run can resume from where enumeration left off.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/containerd/log"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
)

// Bucket names for the typed namespaces.
var (
	bucketArticleDetail   = []byte("articleDetail")
	bucketFilesToDownload = []byte("filesToDownload")
	bucketFilesToRetry    = []byte("filesToRetry")
	bucketRedirects       = []byte("redirects")
)

// DB wraps the bolt database backing all typed namespaces.
type DB struct {
	db *bolt.DB
}

// Open opens (creating if needed) the store database at path and makes sure
// all namespace buckets exist.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketArticleDetail, bucketFilesToDownload, bucketFilesToRetry, bucketRedirects} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating store buckets: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Bucket is a typed view over one bolt bucket. Values are JSON-encoded.
// Workers receive decoded copies during iteration; writes go back through
// Set or Upsert.
type Bucket[T any] struct {
	db   *bolt.DB
	name []byte
}

func newBucket[T any](d *DB, name []byte) *Bucket[T] {
	return &Bucket[T]{db: d.db, name: name}
}

// Set stores v under key, replacing any previous value.
func (b *Bucket[T]) Set(key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", b.name, key, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.name).Put([]byte(key), data)
	})
}

// Get returns the value stored under key, and whether it was present.
func (b *Bucket[T]) Get(key string) (T, bool, error) {
	var v T
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(b.name).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return v, false, fmt.Errorf("decoding %s/%s: %w", b.name, key, err)
	}
	return v, found, nil
}

// Has reports whether key is present.
func (b *Bucket[T]) Has(key string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(b.name).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// Delete removes key. Deleting an absent key is not an error.
func (b *Bucket[T]) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.name).Delete([]byte(key))
	})
}

// Len returns the number of stored entries.
func (b *Bucket[T]) Len() (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(b.name).Stats().KeyN
		return nil
	})
	return n, err
}

// Keys returns a snapshot of all keys in the bucket.
func (b *Bucket[T]) Keys() ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b.name).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Clear drops all entries from the bucket.
func (b *Bucket[T]) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(b.name); err != nil {
			return err
		}
		_, err := tx.CreateBucket(b.name)
		return err
	})
}

// Upsert atomically reads the value under key (if any) and replaces it with
// whatever fn returns. fn's second result controls whether the write happens.
func (b *Bucket[T]) Upsert(key string, fn func(old T, exists bool) (T, bool)) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.name)
		var old T
		exists := false
		if data := bkt.Get([]byte(key)); data != nil {
			if err := json.Unmarshal(data, &old); err != nil {
				return fmt.Errorf("decoding %s/%s: %w", b.name, key, err)
			}
			exists = true
		}
		next, write := fn(old, exists)
		if !write {
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encoding %s/%s: %w", b.name, key, err)
		}
		return bkt.Put([]byte(key), data)
	})
}

// Iterate dispatches every stored entry to fn across the given number of
// workers. The key set is snapshotted up front and split into disjoint
// slices, one cursor per worker, so entries written during iteration are not
// visited. fn returning an error aborts the whole iteration; per-item
// failures that should not stop a phase are handled (and logged) by fn.
func (b *Bucket[T]) Iterate(ctx context.Context, workers int, fn func(ctx context.Context, key string, v T) error) error {
	if workers < 1 {
		workers = 1
	}
	keys, err := b.Keys()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if workers > len(keys) {
		workers = len(keys)
	}
	log.G(ctx).WithFields(log.Fields{"bucket": string(b.name), "entries": len(keys), "workers": workers}).Debug("iterating store bucket")

	g, ctx := errgroup.WithContext(ctx)
	per := (len(keys) + workers - 1) / workers
	for start := 0; start < len(keys); start += per {
		end := min(start+per, len(keys))
		slice := keys[start:end]
		g.Go(func() error {
			for _, key := range slice {
				if err := ctx.Err(); err != nil {
					return err
				}
				v, found, err := b.Get(key)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				if err := fn(ctx, key, v); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
