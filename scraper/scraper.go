package scraper

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wikiscrape/wikiscrape/blobcache"
	"github.com/wikiscrape/wikiscrape/download"
	"github.com/wikiscrape/wikiscrape/mwapi"
	"github.com/wikiscrape/wikiscrape/render"
	"github.com/wikiscrape/wikiscrape/rewrite"
	"github.com/wikiscrape/wikiscrape/store"
	"github.com/wikiscrape/wikiscrape/zim"
)

// detailBatchSize is how many titles one details query carries.
const detailBatchSize = 50

// categoryNamespaceID is MediaWiki's fixed id for the Category namespace.
const categoryNamespaceID = 14

// Scraper runs one scrape end to end. Phases execute strictly in order and
// each drains before the next begins.
type Scraper struct {
	cfg   Config
	flags rewrite.Flags

	dl      *download.Downloader
	api     *mwapi.Client
	caps    *mwapi.Capabilities
	meta    *mwapi.Metadata
	cache   *download.ResponseCache
	creator zim.Creator

	db              *store.DB
	articles        *store.Bucket[mwapi.ArticleDetail]
	filesToDownload *store.Bucket[store.FileTask]
	filesToRetry    *store.Bucket[store.FileTask]
	redirects       *store.Bucket[store.Redirect]

	renderer *render.Renderer
	rewriter *rewrite.Rewriter

	jsModules  mapset.Set[string]
	cssModules mapset.Set[string]
	mainPage   string

	// configVars is the mw.config bootstrap of the first article reporting
	// a non-empty jsconfigvars payload.
	configVarsMu sync.Mutex
	configVars   []byte

	// Parsoid, when configured, is the local rendering fallback used if
	// neither remote endpoint answers the probe.
	Parsoid *download.LocalParsoid

	Status Status
}

// New wires a Scraper from its configuration. creator receives every archive
// entry; the caller finishes it through Run.
func New(ctx context.Context, cfg Config, creator zim.Creator) (*Scraper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	cache, err := download.NewResponseCache(filepath.Join(cfg.ScratchDir, "cache"), cfg.SkipCacheCleaning)
	if err != nil {
		return nil, fmt.Errorf("creating response cache: %w", err)
	}
	var blob download.BlobCache
	if cfg.S3Bucket != "" {
		client, err := blobcache.New(ctx, cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket)
		if err != nil {
			return nil, err
		}
		blob = client
	}
	dl := download.New(download.Options{
		Speed:     cfg.Speed,
		UserAgent: cfg.UserAgent(),
		APIRate:   rate.Limit(cfg.APIRequestsPerSecond),
		BlobCache: blob,
		Cache:     cache,
		Optimizer: download.NewOptimizer(ctx, cfg.ScratchDir),
	})
	db, err := store.Open(filepath.Join(cfg.ScratchDir, "scrape.db"))
	if err != nil {
		return nil, err
	}

	caps := &mwapi.Capabilities{CoordinatesAvailable: true}
	s := &Scraper{
		cfg:             cfg,
		flags:           cfg.Flags(),
		dl:              dl,
		api:             mwapi.NewClient(cfg.WikiURL+cfg.APIPath, dl, caps),
		caps:            caps,
		cache:           cache,
		creator:         creator,
		db:              db,
		articles:        store.ArticleDetails[mwapi.ArticleDetail](db),
		filesToDownload: store.FilesToDownload(db),
		filesToRetry:    store.FilesToRetry(db),
		redirects:       store.Redirects(db),
		jsModules:       mapset.NewSet(baseJSModules...),
		cssModules:      mapset.NewSet(baseCSSModules...),
	}
	return s, nil
}

// Close releases the run-local state. It does not touch the archive.
func (s *Scraper) Close() error {
	return s.db.Close()
}

// Run executes the whole scrape.
func (s *Scraper) Run(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		return err
	}
	if err := s.enumerate(ctx); err != nil {
		return err
	}
	if err := s.resolveMainPage(ctx); err != nil {
		return err
	}
	if err := s.scrapeArticles(ctx); err != nil {
		return err
	}
	if err := s.fetchModules(ctx); err != nil {
		return err
	}
	if err := s.fetchStylesheets(ctx); err != nil {
		return err
	}
	if err := s.fetchFavicon(ctx); err != nil {
		return err
	}
	if err := s.downloadFiles(ctx, s.filesToDownload, s.filesToRetry); err != nil {
		return err
	}
	if err := s.downloadFiles(ctx, s.filesToRetry, nil); err != nil {
		return err
	}
	if err := s.finalize(ctx); err != nil {
		return err
	}
	log.G(ctx).Info(s.Status.Summary())
	return nil
}

// setup logs in when credentials are given, loads metadata, probes
// capabilities and picks the article endpoints.
func (s *Scraper) setup(ctx context.Context) error {
	if s.cfg.MWUsername != "" {
		if err := s.api.Login(ctx, s.dl, s.cfg.MWUsername, s.cfg.MWPassword); err != nil {
			return fmt.Errorf("logging in as %s: %w", s.cfg.MWUsername, err)
		}
	}
	meta, err := s.api.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("loading wiki metadata: %w", err)
	}
	s.meta = meta
	s.mainPage = meta.MainPage
	if s.cfg.CustomMainPage != "" {
		s.mainPage = strings.ReplaceAll(s.cfg.CustomMainPage, " ", "_")
	}

	s.caps.RestAPIAvailable, s.caps.VEAPIAvailable = s.dl.Probe(ctx, meta.RestURL, meta.VEURL, s.mainPage)

	switch {
	case s.caps.RestAPIAvailable:
		// The main page keeps its desktop layout; everything else comes
		// from mobile-sections.
		s.dl.SetBaseURLs(meta.RestURL, meta.VEURL)
	case s.caps.VEAPIAvailable:
		s.dl.SetBaseURLs(meta.VEURL, meta.VEURL)
	case s.Parsoid != nil:
		base, err := s.Parsoid.Start(ctx)
		if err != nil {
			return err
		}
		local := base + "page/mobile-sections/"
		s.caps.RestAPIAvailable = true
		s.dl.SetBaseURLs(local, local)
	default:
		return fmt.Errorf("%w: no rendering endpoint answers for %s", errdefs.ErrUnavailable, s.mainPage)
	}

	s.renderer = &render.Renderer{Caps: s.caps, MainPage: s.mainPage}
	s.rewriter = rewrite.New(rewrite.Options{
		Meta:  meta,
		Flags: s.flags,
		Mirrored: func(title string) bool {
			ok, err := s.articles.Has(title)
			return err == nil && ok
		},
		Redirect: func(title string) (string, bool) {
			r, found, err := s.redirects.Get(title)
			if err != nil || !found {
				return "", false
			}
			return r.To, true
		},
	})
	return nil
}

// enumerate fills the articleDetail and redirects stores, either from the
// article list file or by walking every content namespace.
func (s *Scraper) enumerate(ctx context.Context) error {
	if s.cfg.ArticleList != "" {
		return s.enumerateFromList(ctx)
	}

	// No list: the main page is always part of the archive.
	details, err := s.api.ArticleDetailsByIDs(ctx, []string{s.mainPage}, true)
	if err != nil {
		return fmt.Errorf("fetching main page details: %w", err)
	}
	if err := s.storeDetails(ctx, details); err != nil {
		return err
	}

	for _, ns := range s.meta.ContentNamespaces() {
		gap := ""
		for {
			details, nextGap, err := s.api.ArticleDetailsByNamespace(ctx, ns, gap)
			if err != nil {
				return fmt.Errorf("enumerating namespace %d: %w", ns, err)
			}
			if err := s.storeDetails(ctx, details); err != nil {
				return err
			}
			if nextGap == "" {
				break
			}
			gap = nextGap
		}
	}
	return nil
}

func (s *Scraper) enumerateFromList(ctx context.Context) error {
	f, err := os.Open(s.cfg.ArticleList)
	if err != nil {
		return fmt.Errorf("opening article list: %w", err)
	}
	defer f.Close()

	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		details, err := s.api.ArticleDetailsByIDs(ctx, batch, true)
		if err != nil {
			return err
		}
		batch = batch[:0]
		return s.storeDetails(ctx, details)
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		title := strings.TrimSpace(scanner.Text())
		if title == "" {
			continue
		}
		batch = append(batch, strings.ReplaceAll(title, " ", "_"))
		if len(batch) == detailBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading article list: %w", err)
	}
	return flush()
}

// storeDetails persists one enumeration batch and discovers the redirects
// pointing at it with bounded concurrency.
func (s *Scraper) storeDetails(ctx context.Context, details map[string]mwapi.ArticleDetail) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Speed * 3)

	for id, detail := range details {
		if detail.NamespaceID == categoryNamespaceID {
			subs, err := s.api.SubCategories(ctx, detail.Title, "")
			if err != nil {
				log.G(ctx).WithError(err).WithField("category", id).Warn("subcategory listing failed")
			} else {
				detail.SubCategories = subs
			}
		}
		if err := s.articles.Set(id, detail); err != nil {
			return err
		}

		g.Go(func() error {
			refs, err := s.api.BacklinkRedirects(gctx, detail.Title)
			if err != nil {
				log.G(gctx).WithError(err).WithField("article", id).Warn("redirect discovery failed")
				return nil
			}
			for _, ref := range refs {
				from := strings.ReplaceAll(ref.Title, " ", "_")
				if err := s.redirects.Set(from, store.Redirect{From: from, To: id}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// resolveMainPage follows a single redirect hop for the configured main page.
func (s *Scraper) resolveMainPage(ctx context.Context) error {
	r, found, err := s.redirects.Get(s.mainPage)
	if err != nil {
		return err
	}
	if found {
		log.G(ctx).WithFields(log.Fields{"from": s.mainPage, "to": r.To}).Info("main page is a redirect, following")
		s.mainPage = r.To
		s.renderer.MainPage = r.To
	}
	return nil
}

// scrapeArticles is the main phase: every stored article is fetched,
// rendered, rewritten and appended to the archive; its media dependencies go
// into the download queue.
func (s *Scraper) scrapeArticles(ctx context.Context) error {
	total, err := s.articles.Len()
	if err != nil {
		return err
	}
	var done atomic.Int64

	err = s.articles.Iterate(ctx, s.cfg.Speed, func(ctx context.Context, id string, detail mwapi.ArticleDetail) error {
		if err := s.scrapeOne(ctx, id, detail); err != nil {
			s.Status.ArticleDone(false)
			log.G(ctx).WithError(err).WithField("article", id).Warn("article failed")
		} else {
			s.Status.ArticleDone(true)
		}
		log.G(ctx).Infof("%s article %s", Progress(done.Add(1), int64(total)), id)
		return nil
	})
	if err != nil {
		return err
	}
	return s.writeRedirectEntries(ctx)
}

func (s *Scraper) scrapeOne(ctx context.Context, id string, detail mwapi.ArticleDetail) error {
	raw, err := s.dl.GetArticle(ctx, id, id == s.mainPage)
	if err != nil {
		return err
	}
	pages, err := s.renderer.Render(ctx, id, raw, detail)
	if err != nil {
		return err
	}

	var pageJS, pageCSS []string
	if mods, err := s.api.Modules(ctx, id); err != nil {
		log.G(ctx).WithError(err).WithField("article", id).Warn("module lookup failed, falling back to base modules")
	} else {
		pageJS, pageCSS = mods.Scripts, mods.Styles
		s.jsModules.Append(pageJS...)
		s.cssModules.Append(pageCSS...)
		s.captureConfigVars(mods)
	}

	// Pagination shards link each other; their details must all be stored
	// before the link pass decides what counts as mirrored.
	for _, page := range pages {
		if page.ID != id {
			if err := s.articles.Set(page.ID, page.Detail); err != nil {
				return err
			}
		}
	}

	for _, page := range pages {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err != nil {
			return fmt.Errorf("parsing rendered html: %w", err)
		}
		extractModules(doc, s.jsModules, s.cssModules)

		deps, err := s.rewriter.Rewrite(ctx, doc, page.ID)
		if err != nil {
			return err
		}
		body, err := doc.Find("body").Html()
		if err != nil {
			return err
		}
		final, err := s.rewriter.Finalize(rewrite.Page{
			ID:          page.ID,
			Title:       page.DisplayTitle,
			Body:        body,
			JSModules:   pageModules(configVarsModule, baseJSModules, pageJS),
			CSSModules:  pageModules("style", baseCSSModules, pageCSS),
			Coordinates: page.Detail.Coordinates,
			Date:        time.Now(),
		})
		if err != nil {
			return err
		}

		if err := s.creator.AddArticle(ctx, zim.Entry{
			Namespace: zim.NamespaceArticle,
			URL:       page.ID,
			Title:     page.DisplayTitle,
			MimeType:  "text/html",
			Data:      []byte(final),
			Indexable: true,
		}); err != nil {
			return err
		}

		for _, dep := range deps {
			task := store.FileTask{
				Path:      dep.Path,
				URL:       s.dl.SerializeURL(dep.URL),
				Namespace: "I",
				Width:     dep.Width,
				Mult:      dep.Mult,
			}
			if err := store.UpsertResolution(s.filesToDownload, task); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scraper) writeRedirectEntries(ctx context.Context) error {
	return s.redirects.Iterate(ctx, s.cfg.Speed, func(ctx context.Context, from string, r store.Redirect) error {
		mirrored, err := s.articles.Has(r.To)
		if err != nil || !mirrored {
			return err
		}
		return s.creator.AddArticle(ctx, zim.Entry{
			Namespace: zim.NamespaceRedirect,
			URL:       rewrite.EncodeArticleID(from),
			Title:     r.To,
			MimeType:  "text/plain",
			Data:      []byte(rewrite.EncodeArticleID(r.To)),
		})
	})
}

// downloadFiles drains one file queue. With spill set, failures move there
// for the retry pass; without it they are terminal.
func (s *Scraper) downloadFiles(ctx context.Context, queue, spill *store.Bucket[store.FileTask]) error {
	total, err := queue.Len()
	if err != nil {
		return err
	}
	if total == 0 {
		return nil
	}
	var done atomic.Int64

	return queue.Iterate(ctx, s.cfg.Speed*5, func(ctx context.Context, key string, task store.FileTask) error {
		body, header, err := s.dl.DownloadContent(ctx, task.URL)
		k := done.Add(1)
		if err != nil {
			if spill != nil {
				log.G(ctx).WithError(err).WithField("file", task.Path).Debug("file failed, queued for retry")
				return spill.Set(key, task)
			}
			s.Status.FileDone(false, 0)
			log.G(ctx).WithError(err).WithField("file", task.Path).Warn("file failed permanently")
			return nil
		}
		ns := byte(zim.NamespaceImage)
		if task.Namespace != "" {
			ns = task.Namespace[0]
		}
		if err := s.creator.AddArticle(ctx, zim.Entry{
			Namespace: ns,
			URL:       rewrite.EncodeArticleID(task.Path),
			MimeType:  header.Get("Content-Type"),
			Data:      body,
		}); err != nil {
			return err
		}
		s.Status.FileDone(true, len(body))
		log.G(ctx).Debugf("%s file %s", Progress(k, int64(total)), task.Path)
		return nil
	})
}

// finalize writes the archive metadata entries, finishes the creator and
// clears the run-local state.
func (s *Scraper) finalize(ctx context.Context) error {
	articleCount, err := s.articles.Len()
	if err != nil {
		return err
	}
	for _, meta := range []struct{ name, value string }{
		{"Title", s.meta.SiteName},
		{"Language", s.meta.LangISO3},
		{"Creator", s.meta.SiteName + " contributors"},
		{"Publisher", "wikiscrape"},
		{"Date", time.Now().Format("2006-01-02")},
		{"Counter", fmt.Sprintf("%d", articleCount)},
		{"Source", s.meta.BaseURL},
	} {
		if err := s.creator.AddArticle(ctx, zim.Entry{
			Namespace: zim.NamespaceMetadata,
			URL:       meta.name,
			MimeType:  "text/plain",
			Data:      []byte(meta.value),
		}); err != nil {
			return err
		}
	}
	if err := s.creator.Finish(); err != nil {
		return err
	}

	for _, clear := range []func() error{
		s.articles.Clear,
		s.filesToDownload.Clear,
		s.filesToRetry.Clear,
		s.redirects.Clear,
	} {
		if err := clear(); err != nil {
			return err
		}
	}
	if s.Parsoid != nil {
		s.Parsoid.Stop()
	}
	return s.cache.Cleanup(ctx)
}
