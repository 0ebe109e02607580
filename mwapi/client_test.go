package mwapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

// plainDoer is the test stand-in for the downloader: a bare JSON GET.
type plainDoer struct{}

func (plainDoer) GetJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *Capabilities) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	caps := &Capabilities{CoordinatesAvailable: true}
	return NewClient(srv.URL+"/w/api.php", plainDoer{}, caps), caps
}

func TestMetadata(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Check(t, is.Equal(r.URL.Query().Get("meta"), "siteinfo"))
		w.Write([]byte(`{
			"query": {
				"general": {"mainpage": "Main Page", "base": "https://xy.example.org/wiki/Main_Page",
					"sitename": "Testipedia", "lang": "fr", "server": "//xy.example.org"},
				"namespaces": {
					"0": {"id": 0, "*": "", "content": ""},
					"14": {"id": 14, "*": "Catégorie", "canonical": "Category", "subpages": ""}
				},
				"namespacealiases": [{"id": 14, "*": "CAT"}]
			}
		}`))
	})

	meta, err := client.Metadata(context.Background())
	assert.NilError(t, err)
	assert.Check(t, is.Equal(meta.MainPage, "Main_Page"))
	assert.Check(t, is.Equal(meta.BaseURL, "https://xy.example.org/"))
	assert.Check(t, is.Equal(meta.TextDir, "ltr"))
	assert.Check(t, is.Equal(meta.LangISO3, "fra"))

	// Every name variant resolves to the same record.
	for _, name := range []string{"Category", "category", "Catégorie", "catégorie", "CAT"} {
		ns, ok := meta.Namespaces[name]
		assert.Assert(t, ok, "variant %q not registered", name)
		assert.Check(t, is.Equal(ns.ID, 14))
		assert.Check(t, ns.AllowedSubpages)
	}
	assert.Check(t, is.DeepEqual(meta.ContentNamespaces(), []int{0}))
}

func TestArticleDetailsByIDsContinuation(t *testing.T) {
	t.Parallel()
	var calls int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("clcontinue") == "" {
			w.Write([]byte(`{
				"continue": {"clcontinue": "912|Capitals", "continue": "||"},
				"query": {"pages": {
					"912": {"pageid": 912, "ns": 0, "title": "Paris",
						"revisions": [{"revid": 4242}],
						"categories": [{"ns": 14, "title": "Category:Cities"}]},
					"-1": {"ns": 0, "title": "Gone", "missing": ""}
				}}
			}`))
			return
		}
		// Continuation page: only categories are being continued; the
		// re-emitted revisions must not be merged a second time.
		w.Write([]byte(`{
			"query": {"pages": {
				"912": {"pageid": 912, "ns": 0, "title": "Paris",
					"revisions": [{"revid": 4242}],
					"categories": [{"ns": 14, "title": "Category:Capitals"}]}
			}}
		}`))
	})

	details, err := client.ArticleDetailsByIDs(context.Background(), []string{"Paris", "Gone"}, false)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(calls, 2))
	assert.Check(t, is.Equal(len(details), 1))

	paris, ok := details["Paris"]
	assert.Assert(t, ok)
	assert.Check(t, is.Equal(paris.RevisionID, int64(4242)))
	assert.Check(t, is.Len(paris.Revisions, 1))
	assert.Check(t, is.Len(paris.Categories, 2))
	assert.Check(t, is.Equal(paris.Categories[1].Title, "Category:Capitals"))
}

func TestArticleDetailsByNamespace(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Check(t, is.Equal(q.Get("generator"), "allpages"))
		assert.Check(t, is.Equal(q.Get("gapfilterredir"), "nonredirects"))
		if q.Get("cocontinue") == "" {
			w.Write([]byte(`{
				"query-continue": {
					"allpages": {"gapcontinue": "Nairobi"},
					"coordinates": {"cocontinue": "7|123"}
				},
				"query": {"pages": {
					"7": {"pageid": 7, "ns": 0, "title": "Mombasa", "revisions": [{"revid": 9}]}
				}}
			}`))
			return
		}
		// Inner continuation drained while the generator cursor stays put.
		w.Write([]byte(`{
			"query-continue": {"allpages": {"gapcontinue": "Nairobi"}},
			"query": {"pages": {
				"7": {"pageid": 7, "ns": 0, "title": "Mombasa",
					"coordinates": [{"lat": -4.05, "lon": 39.66}]}
			}}
		}`))
	})

	details, gap, err := client.ArticleDetailsByNamespace(context.Background(), 0, "")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(gap, "Nairobi"))
	mombasa, ok := details["Mombasa"]
	assert.Assert(t, ok)
	assert.Check(t, is.Len(mombasa.Coordinates, 1))
	assert.Check(t, is.Equal(mombasa.RevisionID, int64(9)))
}

func TestSubCategoriesContinuation(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cmcontinue") == "" {
			w.Write([]byte(`{
				"continue": {"cmcontinue": "page|X", "continue": "-||"},
				"query": {"categorymembers": [{"ns": 14, "title": "Category:A"}]}
			}`))
			return
		}
		w.Write([]byte(`{
			"query": {"categorymembers": [{"ns": 14, "title": "Category:B"}]}
		}`))
	})

	members, err := client.SubCategories(context.Background(), "Category:Top", "")
	assert.NilError(t, err)
	assert.Check(t, is.Len(members, 2))
	assert.Check(t, is.Equal(members[1].Title, "Category:B"))
}

func TestBacklinkRedirects(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"query": {"pages": {
				"31": {"pageid": 31, "ns": 0, "title": "London",
					"redirects": [{"ns": 0, "title": "Londinium"}, {"ns": 0, "title": "LONDON"}]}
			}}
		}`))
	})

	redirects, err := client.BacklinkRedirects(context.Background(), "London")
	assert.NilError(t, err)
	assert.Check(t, is.Len(redirects, 2))
}

func TestCoordinatesWarningTogglesCapability(t *testing.T) {
	t.Parallel()
	var sawCoordinatesProp []bool
	client, caps := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sawCoordinatesProp = append(sawCoordinatesProp, strings.Contains(q.Get("prop"), "coordinates"))
		w.Write([]byte(`{
			"warnings": {"query": {"*": "Unrecognized value for parameter 'prop': coordinates"}},
			"query": {"pages": {}}
		}`))
	})

	_, err := client.ArticleDetailsByIDs(context.Background(), []string{"A"}, false)
	assert.NilError(t, err)
	assert.Check(t, !caps.CoordinatesAvailable)

	_, err = client.ArticleDetailsByIDs(context.Background(), []string{"B"}, false)
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(sawCoordinatesProp, []bool{true, false}))
}

func TestDatabaseErrorIsFatal(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": "DB_ERROR", "info": "replica lag"}}`))
	})

	_, err := client.ArticleDetailsByIDs(context.Background(), []string{"A"}, false)
	assert.ErrorContains(t, err, "DB_ERROR")
}
