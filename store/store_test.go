package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "scrape.db"))
	assert.NilError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBucketRoundTrip(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	redirects := Redirects(db)

	_, found, err := redirects.Get("Londinium")
	assert.NilError(t, err)
	assert.Assert(t, !found)

	err = redirects.Set("Londinium", Redirect{From: "Londinium", To: "London"})
	assert.NilError(t, err)

	r, found, err := redirects.Get("Londinium")
	assert.NilError(t, err)
	assert.Assert(t, found)
	assert.Check(t, is.Equal(r.To, "London"))

	n, err := redirects.Len()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(n, 1))

	assert.NilError(t, redirects.Delete("Londinium"))
	has, err := redirects.Has("Londinium")
	assert.NilError(t, err)
	assert.Assert(t, !has)
}

func TestClear(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	files := FilesToDownload(db)

	assert.NilError(t, files.Set("I/a.png", FileTask{Path: "I/a.png", URL: "https://img.example/a.png"}))
	assert.NilError(t, files.Set("I/b.png", FileTask{Path: "I/b.png", URL: "https://img.example/b.png"}))
	assert.NilError(t, files.Clear())

	n, err := files.Len()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(n, 0))
}

func TestUpsertResolution(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	files := FilesToDownload(db)

	task := func(w int, m float64) FileTask {
		return FileTask{Path: "I/map.png", URL: "https://img.example/map.png", Namespace: "I", Width: w, Mult: m}
	}

	assert.NilError(t, UpsertResolution(files, task(320, 1)))
	assert.NilError(t, UpsertResolution(files, task(160, 2)))
	assert.NilError(t, UpsertResolution(files, task(100, 1)))

	got, found, err := files.Get("I/map.png")
	assert.NilError(t, err)
	assert.Assert(t, found)
	// Final entry carries the maximum width and mult across all insertions.
	assert.Check(t, is.Equal(got.Width, 320))
	assert.Check(t, is.Equal(got.Mult, 2.0))
}

func TestUpsertResolutionLowerIgnored(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	files := FilesToDownload(db)

	assert.NilError(t, UpsertResolution(files, FileTask{Path: "I/x.jpg", URL: "https://img.example/640/x.jpg", Width: 640}))
	assert.NilError(t, UpsertResolution(files, FileTask{Path: "I/x.jpg", URL: "https://img.example/320/x.jpg", Width: 320}))

	got, _, err := files.Get("I/x.jpg")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(got.URL, "https://img.example/640/x.jpg"))
}

func TestIterateVisitsAllOnce(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	files := FilesToDownload(db)

	const total = 57
	for i := 0; i < total; i++ {
		key := filepath.Join("I", string(rune('a'+i%26))+string(rune('0'+i/26))+".png")
		assert.NilError(t, files.Set(key, FileTask{Path: key}))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	err := files.Iterate(context.Background(), 4, func(_ context.Context, key string, v FileTask) error {
		mu.Lock()
		seen[key]++
		mu.Unlock()
		assert.Check(t, is.Equal(v.Path, key))
		return nil
	})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(len(seen), total))
	for key, count := range seen {
		assert.Check(t, is.Equal(count, 1), key)
	}
}

func TestIterateEmpty(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	retry := FilesToRetry(db)

	err := retry.Iterate(context.Background(), 8, func(context.Context, string, FileTask) error {
		t.Fatal("callback invoked for empty bucket")
		return nil
	})
	assert.NilError(t, err)
}
