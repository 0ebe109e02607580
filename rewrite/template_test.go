package rewrite

import (
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/wikiscrape/wikiscrape/mwapi"
)

func TestFinalize(t *testing.T) {
	t.Parallel()
	r := New(Options{
		Meta: &mwapi.Metadata{
			BaseURL:  "https://en.wikipedia.org/",
			SiteName: "Wikipedia",
			TextDir:  "ltr",
			LangISO2: "en",
		},
		Flags: Flags{NoZim: true},
	})

	out, err := r.Finalize(Page{
		ID:          "London",
		Title:       "London",
		Body:        "<p>The capital.</p>",
		JSModules:   []string{"startup", "site"},
		CSSModules:  []string{"content"},
		Coordinates: []mwapi.Coordinate{{Lat: 51.5074, Lon: -0.1278}},
		Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.NilError(t, err)

	assert.Check(t, is.Contains(out, `<html lang="en" dir="ltr">`))
	assert.Check(t, is.Contains(out, "<title>London</title>"))
	assert.Check(t, is.Contains(out, `geo.position" content="51.5074;-0.1278"`))
	assert.Check(t, is.Contains(out, `href="../-/s/content.css"`))
	assert.Check(t, is.Contains(out, `src="../-/j/startup.js"`))
	assert.Check(t, is.Contains(out, "<p>The capital.</p>"))
	assert.Check(t, is.Contains(out, "<!--htdig_noindex-->"))
	assert.Check(t, is.Contains(out, "<!--/htdig_noindex-->"))
	assert.Check(t, is.Contains(out, "2024-03-01"))
	assert.Check(t, is.Contains(out, "Wikipedia contributors"))
	assert.Check(t, is.Contains(out, "https://en.wikipedia.org/wiki/London"))
}

func TestFinalizeBreadcrumb(t *testing.T) {
	t.Parallel()
	r := New(Options{Flags: Flags{NoZim: true}})

	out, err := r.Finalize(Page{
		ID:    "London/Boroughs/Camden",
		Title: "Camden",
		Body:  "<p>x</p>",
	})
	assert.NilError(t, err)

	assert.Check(t, is.Contains(out, `<div class="subpages">`))
	assert.Check(t, is.Contains(out, `href="../../London"`))
	assert.Check(t, is.Contains(out, `href="../London/Boroughs"`))
}

func TestFinalizeNoBreadcrumbForTopLevel(t *testing.T) {
	t.Parallel()
	r := New(Options{Flags: Flags{NoZim: true}})

	out, err := r.Finalize(Page{ID: "London", Title: "London", Body: "<p>x</p>"})
	assert.NilError(t, err)
	assert.Check(t, !strings.Contains(out, "subpages"))
}

func TestFinalizeMinified(t *testing.T) {
	t.Parallel()
	r := New(Options{})

	out, err := r.Finalize(Page{ID: "London", Title: "London", Body: "<p>x   y</p>"})
	assert.NilError(t, err)

	// Comment delimiters survive minification; runs of whitespace do not.
	assert.Check(t, is.Contains(out, "htdig_noindex"))
	assert.Check(t, is.Contains(out, "<p>x y</p>"))
}

func TestFinalizeKeepsPreformattedWhitespace(t *testing.T) {
	t.Parallel()
	r := New(Options{})

	out, err := r.Finalize(Page{
		ID:    "London",
		Title: "London",
		Body:  "<p>a    b</p><pre>def main():\n    return  1</pre>",
	})
	assert.NilError(t, err)

	// Text outside pre collapses; the pre block keeps its indentation.
	assert.Check(t, is.Contains(out, "<p>a b</p>"))
	assert.Check(t, is.Contains(out, "<pre>def main():\n    return  1</pre>"))
}
