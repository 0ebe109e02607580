package render

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/wikiscrape/wikiscrape/mwapi"
)

func restRenderer() *Renderer {
	return &Renderer{
		Caps:     &mwapi.Capabilities{RestAPIAvailable: true, VEAPIAvailable: true},
		MainPage: "Main_Page",
	}
}

func TestMobileSectionAssembly(t *testing.T) {
	t.Parallel()
	raw := json.RawMessage(`{
		"lead": {"displaytitle": "London", "sections": [{"id": 0, "text": "<p>lead text</p>"}]},
		"remaining": {"sections": [
			{"id": 1, "toclevel": 1, "anchor": "History", "line": "History", "text": "<p>old</p>"},
			{"id": 2, "toclevel": 2, "anchor": "Roman", "line": "Roman era", "text": "<p>older</p>"},
			{"id": 3, "toclevel": 1, "anchor": "Today", "line": "Today", "text": "<p>now</p>"}
		]}
	}`)

	out, err := restRenderer().Render(context.Background(), "London", raw, mwapi.ArticleDetail{Title: "London"})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(out, 1))

	html := out[0].HTML
	assert.Check(t, !strings.Contains(html, "__SUB_LEVEL_SECTION_"), "placeholders left behind: %s", html)
	assert.Check(t, strings.Contains(html, "<p>lead text</p>"))
	// The toclevel-2 section nests inside its parent's content div.
	history := strings.Index(html, `id="History"`)
	roman := strings.Index(html, `id="Roman"`)
	today := strings.Index(html, `id="Today"`)
	assert.Check(t, history >= 0 && roman > history && today > roman)
	historyClose := strings.Index(html[history:], "</details></div></details>")
	assert.Check(t, historyClose >= 0, "subsection not nested: %s", html)
	assert.Check(t, is.Equal(out[0].DisplayTitle, "London"))
}

func TestDesktopPathPreference(t *testing.T) {
	t.Parallel()
	r := restRenderer()
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		raw  string
		want string
	}{
		{"visualeditor wins", `{"visualeditor": {"content": "<p>ve</p>"}, "parse": {"text": {"*": "<p>parse</p>"}}}`, "<p>ve</p>"},
		{"parse text next", `{"parse": {"text": {"*": "<p>parse</p>"}}, "html": {"body": "<p>body</p>"}}`, "<p>parse</p>"},
		{"html body last", `{"html": {"body": "<p>body</p>"}}`, "<p>body</p>"},
	} {
		out, err := r.Render(ctx, "Main_Page", json.RawMessage(tc.raw), mwapi.ArticleDetail{Title: "Main Page"})
		assert.NilError(t, err, tc.name)
		assert.Check(t, strings.Contains(out[0].HTML, tc.want), tc.name)
	}

	_, err := r.Render(ctx, "Main_Page", json.RawMessage(`{}`), mwapi.ArticleDetail{})
	assert.ErrorContains(t, err, "no renderable content")
}

func TestDisplayTitleFallbacks(t *testing.T) {
	t.Parallel()
	r := restRenderer()
	ctx := context.Background()

	// <title> element wins over everything.
	out, err := r.Render(ctx, "Main_Page",
		json.RawMessage(`{"html": {"body": "<title>Fancy Title</title><p>x</p>"}}`), mwapi.ArticleDetail{})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(out[0].DisplayTitle, "Fancy Title"))

	// Otherwise the article id, underscores flipped to spaces.
	out, err = r.Render(ctx, "Main_Page",
		json.RawMessage(`{"html": {"body": "<p>x</p>"}}`), mwapi.ArticleDetail{})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(out[0].DisplayTitle, "Main Page"))
}

func subCats(n int) []mwapi.PageRef {
	refs := make([]mwapi.PageRef, n)
	for i := range refs {
		refs[i] = mwapi.PageRef{NS: 14, Title: fmt.Sprintf("Category:C%03d", i)}
	}
	return refs
}

func TestPaginateCategoryBoundaries(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		subCategories int
		shards        int
	}{
		{0, 1}, {1, 1}, {200, 1}, {201, 2}, {400, 2}, {401, 3},
	} {
		shards := PaginateCategory("Category:Container_categories", mwapi.ArticleDetail{
			Title:         "Category:Container categories",
			SubCategories: subCats(tc.subCategories),
		})
		assert.Check(t, is.Len(shards, tc.shards), "N=%d", tc.subCategories)
	}
}

func TestPaginateCategoryLinks(t *testing.T) {
	t.Parallel()
	shards := PaginateCategory("Category:Container_categories", mwapi.ArticleDetail{
		Title:         "Category:Container categories",
		SubCategories: subCats(273),
	})
	assert.Assert(t, is.Len(shards, 2))

	assert.Check(t, is.Equal(shards[0].ID, "Category:Container_categories"))
	assert.Check(t, is.Len(shards[0].Detail.SubCategories, 200))
	assert.Check(t, is.Equal(shards[0].Detail.NextArticleID, "Category:Container_categories__1"))
	assert.Check(t, is.Equal(shards[0].Detail.PrevArticleID, ""))

	assert.Check(t, is.Equal(shards[1].ID, "Category:Container_categories__1"))
	assert.Check(t, is.Len(shards[1].Detail.SubCategories, 73))
	assert.Check(t, is.Equal(shards[1].Detail.SubCategories[0].Title, "Category:C200"))
	assert.Check(t, is.Equal(shards[1].Detail.PrevArticleID, "Category:Container_categories"))
	assert.Check(t, is.Equal(shards[1].Detail.NextArticleID, ""))
}

func TestGroupByFirstLetter(t *testing.T) {
	t.Parallel()
	groups := GroupByFirstLetter([]mwapi.PageRef{
		{Title: "Category:apples"},
		{Title: "Category:Bears"},
		{Title: "Category:avocados"},
		{Title: "Category:Éclairs"},
	})
	assert.Assert(t, is.Len(groups, 3))
	assert.Check(t, is.Equal(groups[0].Letter, "A"))
	assert.Check(t, is.Len(groups[0].Members, 2))
	assert.Check(t, is.Equal(groups[1].Letter, "B"))
	assert.Check(t, is.Equal(groups[2].Letter, "É"))
}

func TestCategoryListingRendered(t *testing.T) {
	t.Parallel()
	out, err := restRenderer().Render(context.Background(), "Category:Things",
		json.RawMessage(`{"lead": {"displaytitle": "Category:Things", "sections": [{"id": 0, "text": ""}]}, "remaining": {"sections": []}}`),
		mwapi.ArticleDetail{
			Title:         "Category:Things",
			SubCategories: []mwapi.PageRef{{NS: 14, Title: "Category:Sub"}},
			Pages:         []mwapi.PageRef{{NS: 0, Title: "Thing one"}},
		})
	assert.NilError(t, err)
	html := out[0].HTML
	assert.Check(t, strings.Contains(html, "Subcategories"))
	assert.Check(t, strings.Contains(html, "Category:Sub"))
	assert.Check(t, strings.Contains(html, "Thing one"))
}

func TestCategoryListingMemberHrefs(t *testing.T) {
	t.Parallel()
	html := renderCategoryListing(mwapi.ArticleDetail{
		Title:         "Category:Things",
		SubCategories: []mwapi.PageRef{{NS: 14, Title: "Category:Container categories"}},
		Pages:         []mwapi.PageRef{{NS: 0, Title: "Thing one"}},
		NextArticleID: "Category:Things__1",
	})

	// Links target the article id (spaces flipped to underscores), not the
	// display title, so the link pass can resolve them.
	assert.Check(t, is.Contains(html, `<a href="./Category:Container_categories">Category:Container categories</a>`))
	assert.Check(t, is.Contains(html, `<a href="./Thing_one">Thing one</a>`))
	assert.Check(t, is.Contains(html, `<a class="next" href="./Category:Things__1">`))
}
