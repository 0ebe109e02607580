package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/wikiscrape/wikiscrape/zim"
)

// fakeWiki serves just enough of a MediaWiki installation for a full run:
// siteinfo, one content namespace with one article, the REST and
// visualeditor endpoints, load.php modules, a skin stylesheet and media.
func fakeWiki(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()

	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			assert.NilError(t, r.ParseForm())
			assert.Check(t, is.Equal(r.PostForm.Get("lgtoken"), "tok+x"))
			fmt.Fprint(w, `{"login":{"result":"Success"}}`)
			return
		}
		q := r.URL.Query()
		switch {
		case q.Get("meta") == "tokens":
			fmt.Fprint(w, `{"query":{"tokens":{"logintoken":"tok+x"}}}`)
		case q.Get("action") == "parse":
			fmt.Fprint(w, `{"parse":{"modules":["ext.cite"],"modulestyles":["ext.cite.styles"],"jsconfigvars":{"wgArticleId":2}}}`)
		case q.Get("action") == "visualeditor":
			fmt.Fprint(w, `{"visualeditor":{"content":"<html><head><title>Main Page</title></head><body><p>Welcome to <a rel=\"mw:WikiLink\" href=\"./London\">London</a></p></body></html>"}}`)
		case q.Get("meta") == "siteinfo":
			fmt.Fprintf(w, `{"query":{"general":{"mainpage":"Main Page","server":%q,"sitename":"Testwiki","lang":"en"},"namespaces":{"0":{"id":0,"*":"","content":""},"14":{"id":14,"*":"Category","canonical":"Category"}}}}`, srv.URL)
		case q.Get("generator") == "allpages":
			fmt.Fprint(w, `{"query":{"pages":{"2":{"pageid":2,"ns":0,"title":"London","revisions":[{"revid":200}]}}}}`)
		case strings.Contains(q.Get("prop"), "revisions"):
			fmt.Fprint(w, `{"query":{"pages":{"1":{"pageid":1,"ns":0,"title":"Main Page","revisions":[{"revid":100}]}}}}`)
		case q.Get("prop") == "redirects":
			if strings.Contains(q.Get("titles"), "London") {
				fmt.Fprint(w, `{"query":{"pages":{"2":{"pageid":2,"ns":0,"title":"London","redirects":[{"ns":0,"title":"Big Smoke"}]}}}}`)
			} else {
				fmt.Fprint(w, `{"query":{"pages":{}}}`)
			}
		default:
			fmt.Fprint(w, `{"query":{}}`)
		}
	})

	mux.HandleFunc("/api/rest_v1/page/mobile-sections/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"lead":{"displaytitle":"London","sections":[{"id":0,"text":"<p>The capital of <a rel=\"mw:WikiLink\" href=\"./England\">England</a>.</p><img src=\"/images/thumb/a/a1/Tower.jpg/320px-Tower.jpg\" width=\"320\"/>"}]},"remaining":{"sections":[]}}`)
	})

	mux.HandleFunc("/w/load.php", func(w http.ResponseWriter, r *http.Request) {
		only := r.URL.Query().Get("only")
		if only == "styles" {
			w.Header().Set("Content-Type", "text/css")
			fmt.Fprint(w, ".mw-body{margin:0}")
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprint(w, "script=document.createElement('script');")
	})

	mux.HandleFunc("/wiki/Main_Page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><link rel="stylesheet" href="/w/skin.css"/></head><body></body></html>`)
	})
	mux.HandleFunc("/w/skin.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		fmt.Fprint(w, "body{background:url(/static/bg.png)}")
	})
	mux.HandleFunc("/static/bg.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprint(w, "PNGDATA")
	})
	mux.HandleFunc("/images/thumb/a/a1/Tower.jpg/320px-Tower.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		fmt.Fprint(w, "JPEGDATA")
	})
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/x-icon")
		fmt.Fprint(w, "ICON")
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestScraperRun(t *testing.T) {
	srv := fakeWiki(t)
	ctx := context.Background()

	out := t.TempDir()
	creator, err := zim.NewDirCreator(out)
	assert.NilError(t, err)

	s, err := New(ctx, Config{
		WikiURL:    srv.URL + "/",
		APIPath:    "w/api.php",
		AdminEmail: "ops@example.org",
		MWUsername: "bot",
		MWPassword: "hunter2",
		Speed:      1,
		ScratchDir: filepath.Join(t.TempDir(), "scratch"),
	}, creator)
	assert.NilError(t, err)
	defer s.Close()

	assert.NilError(t, s.Run(ctx))

	mainPage := readEntry(t, out, "A", "Main_Page")
	assert.Check(t, is.Contains(mainPage, `href="London"`))

	london := readEntry(t, out, "A", "London")
	assert.Check(t, is.Contains(london, `src="../I/Tower.jpg"`))
	// England is not mirrored, so its link was unwrapped.
	assert.Check(t, !strings.Contains(london, "England</a>"))
	assert.Check(t, is.Contains(london, "England"))
	// The article's own parse-API modules are referenced alongside the base
	// set, and the mw.config bootstrap comes first.
	assert.Check(t, is.Contains(london, `src="../-/j/jsConfigVars.js"`))
	assert.Check(t, is.Contains(london, `src="../-/j/ext.cite.js"`))
	assert.Check(t, is.Contains(london, `href="../-/s/ext.cite.styles.css"`))

	assert.Check(t, is.Equal(readEntry(t, out, "I", "Tower.jpg"), "JPEGDATA"))
	assert.Check(t, is.Equal(readEntry(t, out, "-", "bg.png"), "PNGDATA"))
	assert.Check(t, is.Contains(readEntry(t, out, "-", "s/style.css"), "url(bg.png)"))
	assert.Check(t, is.Contains(readEntry(t, out, "-", "j/startup.js"), "fireStartUp"))
	assert.Check(t, is.Contains(readEntry(t, out, "-", "j/jsConfigVars.js"), `mw.config.set({"wgArticleId":2})`))
	assert.Check(t, readEntry(t, out, "-", "j/ext.cite.js") != "")
	assert.Check(t, is.Equal(readEntry(t, out, "-", "favicon"), "ICON"))

	assert.Check(t, is.Equal(readEntry(t, out, "U", "Big_Smoke"), "London"))
	assert.Check(t, is.Equal(readEntry(t, out, "M", "Title"), "Testwiki"))
	assert.Check(t, is.Equal(readEntry(t, out, "M", "Language"), "eng"))
	assert.Check(t, is.Equal(readEntry(t, out, "M", "Counter"), "2"))

	ok, fail := s.Status.Articles()
	assert.Check(t, is.Equal(ok, int64(2)))
	assert.Check(t, is.Equal(fail, int64(0)))

	// Run-local stores are cleared at the end.
	n, err := s.articles.Len()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(n, 0))
}

func readEntry(t *testing.T, root, ns, url string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, ns, filepath.FromSlash(url)))
	assert.NilError(t, err)
	return string(data)
}
