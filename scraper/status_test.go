package scraper

import (
	"sync"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestProgress(t *testing.T) {
	t.Parallel()
	assert.Check(t, is.Equal(Progress(0, 200), "[0/200] [0%]"))
	assert.Check(t, is.Equal(Progress(57, 200), "[57/200] [28%]"))
	assert.Check(t, is.Equal(Progress(200, 200), "[200/200] [100%]"))
	assert.Check(t, is.Equal(Progress(0, 0), "[0/0] [100%]"))
}

func TestStatusCountersUnderConcurrency(t *testing.T) {
	t.Parallel()
	var s Status
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.ArticleDone(i%4 != 0)
			s.FileDone(true, 10)
		}(i)
	}
	wg.Wait()

	ok, fail := s.Articles()
	assert.Check(t, is.Equal(ok, int64(75)))
	assert.Check(t, is.Equal(fail, int64(25)))
	fok, ffail := s.Files()
	assert.Check(t, is.Equal(fok, int64(100)))
	assert.Check(t, is.Equal(ffail, int64(0)))
	assert.Check(t, is.Contains(s.Summary(), "1kB"))
}
