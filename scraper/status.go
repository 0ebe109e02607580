package scraper

import (
	"fmt"
	"sync/atomic"

	"github.com/docker/go-units"
)

// Status counts outcomes across workers. All counters are monotonically
// non-decreasing.
type Status struct {
	articlesOK   atomic.Int64
	articlesFail atomic.Int64
	filesOK      atomic.Int64
	filesFail    atomic.Int64
	bytes        atomic.Int64
}

func (s *Status) ArticleDone(ok bool) {
	if ok {
		s.articlesOK.Add(1)
	} else {
		s.articlesFail.Add(1)
	}
}

func (s *Status) FileDone(ok bool, n int) {
	if ok {
		s.filesOK.Add(1)
		s.bytes.Add(int64(n))
	} else {
		s.filesFail.Add(1)
	}
}

func (s *Status) Articles() (ok, fail int64) { return s.articlesOK.Load(), s.articlesFail.Load() }
func (s *Status) Files() (ok, fail int64)    { return s.filesOK.Load(), s.filesFail.Load() }

// Progress renders the `[k/N] [p%]` marker for one phase.
func Progress(done, total int64) string {
	if total <= 0 {
		return "[0/0] [100%]"
	}
	return fmt.Sprintf("[%d/%d] [%d%%]", done, total, done*100/total)
}

// Summary is the end-of-run line.
func (s *Status) Summary() string {
	return fmt.Sprintf("articles %d ok / %d failed, files %d ok / %d failed, %s downloaded",
		s.articlesOK.Load(), s.articlesFail.Load(),
		s.filesOK.Load(), s.filesFail.Load(),
		units.HumanSize(float64(s.bytes.Load())))
}
