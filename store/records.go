package store

// FileTask is one pending media download: where the bytes come from and
// where they land in the archive. Width and Mult participate in
// resolution-aware deduplication; see UpsertResolution.
type FileTask struct {
	Path      string  `json:"path"`
	URL       string  `json:"url"`
	Namespace string  `json:"namespace"`
	Width     int     `json:"width,omitempty"`
	Mult      float64 `json:"mult,omitempty"`
}

// Redirect records that From is an alias of To. From is never itself a
// stored article.
type Redirect struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ArticleDetails returns the articleDetail namespace. The value type is the
// caller's article record; the store only persists it.
func ArticleDetails[T any](d *DB) *Bucket[T] {
	return newBucket[T](d, bucketArticleDetail)
}

// FilesToDownload returns the first-pass media download queue.
func FilesToDownload(d *DB) *Bucket[FileTask] {
	return newBucket[FileTask](d, bucketFilesToDownload)
}

// FilesToRetry returns the second-pass media download queue.
func FilesToRetry(d *DB) *Bucket[FileTask] {
	return newBucket[FileTask](d, bucketFilesToRetry)
}

// Redirects returns the redirects namespace, keyed by source title.
func Redirects(d *DB) *Bucket[Redirect] {
	return newBucket[Redirect](d, bucketRedirects)
}

// UpsertResolution inserts task keyed by its archive path, replacing an
// existing entry only when the new task carries a strictly higher width or
// scale multiplier. The surviving entry therefore has the maximum width and
// mult seen across all insertions for that path.
func UpsertResolution(b *Bucket[FileTask], task FileTask) error {
	return b.Upsert(task.Path, func(old FileTask, exists bool) (FileTask, bool) {
		if !exists {
			return task, true
		}
		if task.Width > old.Width || task.Mult > old.Mult {
			if task.Width < old.Width {
				task.Width = old.Width
			}
			if task.Mult < old.Mult {
				task.Mult = old.Mult
			}
			return task, true
		}
		return old, false
	})
}
