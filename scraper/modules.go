package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/containerd/log"
	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/wikiscrape/wikiscrape/mwapi"
	"github.com/wikiscrape/wikiscrape/rewrite"
	"github.com/wikiscrape/wikiscrape/store"
	"github.com/wikiscrape/wikiscrape/zim"
)

// Modules every article page needs regardless of what it declares.
var (
	baseJSModules  = []string{"startup", "jquery", "mediawiki", "site"}
	baseCSSModules = []string{"content"}
)

// configVarsModule is the synthetic script entry carrying the mw.config
// bootstrap. It has no load.php counterpart; its body is captured from the
// parse API.
const configVarsModule = "jsConfigVars"

// captureConfigVars keeps the mw.config payload of the first article that
// reports a non-empty one.
func (s *Scraper) captureConfigVars(mods *mwapi.ArticleModules) {
	if !mods.HasConfigVars() {
		return
	}
	s.configVarsMu.Lock()
	if s.configVars == nil {
		s.configVars = []byte(fmt.Sprintf("mw.config.set(%s);", mods.JSConfigVars))
	}
	s.configVarsMu.Unlock()
}

// pageModules builds the ordered module list for one page: the synthetic
// lead entry, then the base modules, then the article's own, deduplicated.
func pageModules(first string, base, own []string) []string {
	out := []string{first}
	seen := map[string]bool{first: true}
	for _, name := range append(append([]string(nil), base...), own...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

const fireStartUpHack = `document.body.addEventListener('fireStartUp', function () { startUp() }, false);`
const dispatchStartUpHack = `
document.body.dispatchEvent(new Event('fireStartUp'));`

// hackModuleSource adjusts the startup and mediawiki module bodies so that
// the loader bootstrap can run from the archive, where load.php is gone.
// The startup module's script injection is replaced with an event listener,
// and the mediawiki module fires that event once it has executed.
func hackModuleSource(name string, body []byte) []byte {
	switch name {
	case "startup":
		return bytes.Replace(body,
			[]byte("script=document.createElement('script');"),
			[]byte(fireStartUpHack), 1)
	case "mediawiki":
		return append(body, []byte(dispatchStartUpHack)...)
	}
	return body
}

// extractModules records the JS and CSS module names a rendered article
// references through load.php, before the cleanup pass strips the elements.
func extractModules(doc *goquery.Document, js, css mapset.Set[string]) {
	doc.Find("script[src], link[rel='stylesheet']").Each(func(_ int, s *goquery.Selection) {
		src := s.AttrOr("src", s.AttrOr("href", ""))
		if !strings.Contains(src, "load.php") {
			return
		}
		u, err := url.Parse(src)
		if err != nil {
			return
		}
		names := u.Query().Get("modules")
		if names == "" {
			return
		}
		target := js
		if u.Query().Get("only") == "styles" || s.Is("link") {
			target = css
		}
		for _, name := range strings.Split(names, "|") {
			if name != "" {
				target.Add(name)
			}
		}
	})
}

func (s *Scraper) moduleURL(name, only string) string {
	return fmt.Sprintf("%sw/load.php?debug=false&lang=%s&modules=%s&only=%s&skin=vector",
		s.meta.BaseURL, s.meta.LangISO2, url.QueryEscape(name), only)
}

// fetchModules downloads every accumulated JS and CSS module into the
// resource namespace. The startup/mediawiki source hack is applied here,
// once per run, since each module is fetched exactly once.
func (s *Scraper) fetchModules(ctx context.Context) error {
	s.configVarsMu.Lock()
	vars := s.configVars
	s.configVarsMu.Unlock()
	// Written even when empty: every page references the script.
	if err := s.creator.AddArticle(ctx, zim.Entry{
		Namespace: zim.NamespaceResource,
		URL:       "j/" + configVarsModule + ".js",
		MimeType:  "application/javascript",
		Data:      vars,
	}); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Speed)

	for _, name := range s.jsModules.ToSlice() {
		g.Go(func() error {
			body, _, err := s.dl.DownloadContent(ctx, s.moduleURL(name, "scripts"))
			if err != nil {
				log.G(ctx).WithError(err).WithField("module", name).Warn("js module fetch failed")
				return nil
			}
			return s.creator.AddArticle(ctx, zim.Entry{
				Namespace: zim.NamespaceResource,
				URL:       "j/" + name + ".js",
				MimeType:  "application/javascript",
				Data:      hackModuleSource(name, body),
			})
		})
	}
	for _, name := range s.cssModules.ToSlice() {
		g.Go(func() error {
			body, _, err := s.dl.DownloadContent(ctx, s.moduleURL(name, "styles"))
			if err != nil {
				log.G(ctx).WithError(err).WithField("module", name).Warn("css module fetch failed")
				return nil
			}
			return s.creator.AddArticle(ctx, zim.Entry{
				Namespace: zim.NamespaceResource,
				URL:       "s/" + name + ".css",
				MimeType:  "text/css",
				Data:      body,
			})
		})
	}
	return g.Wait()
}

var cssURLRe = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// fetchStylesheets downloads the main page once, pulls every linked
// stylesheet, dereferences the url(...) assets inside them into the file
// queue and appends all CSS to one archive entry.
func (s *Scraper) fetchStylesheets(ctx context.Context) error {
	pageURL := s.meta.BaseURL + "wiki/" + rewrite.EncodeArticleID(s.mainPage)
	body, _, err := s.dl.DownloadContent(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("fetching main page for stylesheet discovery: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parsing main page: %w", err)
	}

	var sheetURLs []string
	doc.Find("link[rel='stylesheet']").Each(func(_ int, link *goquery.Selection) {
		href := link.AttrOr("href", "")
		if href == "" {
			return
		}
		sheetURLs = append(sheetURLs, s.absolutize(href))
	})

	sheets := make([][]byte, len(sheetURLs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Speed)
	for i, sheetURL := range sheetURLs {
		g.Go(func() error {
			css, _, err := s.dl.DownloadContent(gctx, sheetURL)
			if err != nil {
				log.G(gctx).WithError(err).WithField("url", sheetURL).Warn("stylesheet fetch failed")
				return nil
			}
			sheets[i] = s.dereferenceCSS(gctx, sheetURL, css)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var combined bytes.Buffer
	for i, css := range sheets {
		if css == nil {
			continue
		}
		fmt.Fprintf(&combined, "/* %s */\n", sheetURLs[i])
		combined.Write(css)
		combined.WriteByte('\n')
	}
	return s.creator.AddArticle(ctx, zim.Entry{
		Namespace: zim.NamespaceResource,
		URL:       "s/style.css",
		MimeType:  "text/css",
		Data:      combined.Bytes(),
	})
}

// dereferenceCSS rewrites every url(...) in a stylesheet to an archive-local
// filename and queues the referenced asset for download.
func (s *Scraper) dereferenceCSS(ctx context.Context, sheetURL string, css []byte) []byte {
	base, err := url.Parse(sheetURL)
	if err != nil {
		return css
	}
	return cssURLRe.ReplaceAllFunc(css, func(match []byte) []byte {
		m := cssURLRe.FindSubmatch(match)
		ref := string(m[1])
		if strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "#") {
			return match
		}
		refURL, err := base.Parse(ref)
		if err != nil {
			return match
		}
		name := path.Base(refURL.Path)
		if name == "" || name == "/" || name == "." {
			return match
		}
		task := store.FileTask{
			Path:      name,
			URL:       s.dl.SerializeURL(refURL.String()),
			Namespace: "-",
		}
		if err := store.UpsertResolution(s.filesToDownload, task); err != nil {
			log.G(ctx).WithError(err).WithField("asset", name).Warn("queueing stylesheet asset failed")
		}
		return []byte("url(" + name + ")")
	})
}

// fetchFavicon stores the wiki favicon under the resource namespace.
func (s *Scraper) fetchFavicon(ctx context.Context) error {
	body, _, err := s.dl.DownloadContent(ctx, s.meta.BaseURL+"favicon.ico")
	if err != nil {
		log.G(ctx).WithError(err).Warn("favicon fetch failed")
		return nil
	}
	return s.creator.AddArticle(ctx, zim.Entry{
		Namespace: zim.NamespaceResource,
		URL:       "favicon",
		MimeType:  "image/x-icon",
		Data:      body,
	})
}

func (s *Scraper) absolutize(href string) string {
	switch {
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/"):
		return strings.TrimSuffix(s.meta.BaseURL, "/") + href
	default:
		return href
	}
}
