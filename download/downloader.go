// Package download owns all outbound HTTP for a scrape: JSON queries against
// the wiki API, byte downloads for media and assets, capability probing, and
// the adaptive concurrency and retry behaviour shared by all of them.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"golang.org/x/time/rate"

	"github.com/wikiscrape/wikiscrape/blobcache"
)

const (
	// failAfter bounds the retries of one logical request.
	failAfter = 7
	// slotPollInterval is how often a blocked claim re-checks for a free
	// request slot.
	slotPollInterval = 200 * time.Millisecond
)

var defaultImagePattern = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp|svg|tiff?|bmp|ico)($|\?)`)

// BlobCache is the subset of the blob cache the downloader needs. A nil
// cache disables conditional revalidation.
type BlobCache interface {
	Get(ctx context.Context, key string) (*blobcache.Object, error)
	Put(ctx context.Context, key string, body []byte, etag, contentType string) error
}

// Options configures a Downloader.
type Options struct {
	Speed          int
	RequestTimeout time.Duration
	UserAgent      string
	// APIRate throttles JSON queries; zero means unlimited.
	APIRate rate.Limit
	// ImagePattern overrides the extension match deciding which URLs go
	// through the blob cache and optimisation. Nil selects the default.
	ImagePattern *regexp.Regexp
	BlobCache    BlobCache
	Cache        *ResponseCache
	Optimizer    *Optimizer
}

// Downloader is the adaptive-concurrency HTTP client. In-flight requests are
// bounded by maxActive, which starts at speed*10 and shrinks (never below 1)
// every time the upstream answers 429. It does not recover within a run.
type Downloader struct {
	client    *http.Client
	speed     int
	userAgent string

	mu        sync.Mutex
	active    int
	maxActive int

	limiter   *rate.Limiter
	blob      BlobCache
	cache     *ResponseCache
	optimizer *Optimizer
	imageRe   *regexp.Regexp
	urlParts  urlPartCache

	baseMu             sync.Mutex
	baseURL            string
	baseURLForMainPage string
}

// New builds a Downloader. Speed defaults to 1, the request timeout to 60s.
func New(opts Options) *Downloader {
	if opts.Speed < 1 {
		opts.Speed = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	imageRe := opts.ImagePattern
	if imageRe == nil {
		imageRe = defaultImagePattern
	}
	var limiter *rate.Limiter
	if opts.APIRate > 0 {
		limiter = rate.NewLimiter(opts.APIRate, int(opts.APIRate)+1)
	}
	// The jar holds the session cookie after a wiki login.
	jar, _ := cookiejar.New(nil)
	return &Downloader{
		client:    &http.Client{Timeout: opts.RequestTimeout, Jar: jar},
		speed:     opts.Speed,
		userAgent: opts.UserAgent,
		maxActive: opts.Speed * 10,
		limiter:   limiter,
		blob:      opts.BlobCache,
		cache:     opts.Cache,
		optimizer: opts.Optimizer,
		imageRe:   imageRe,
	}
}

// Speed returns the base concurrency the downloader was configured with.
func (d *Downloader) Speed() int { return d.speed }

// MaxActive returns the current in-flight request ceiling.
func (d *Downloader) MaxActive() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxActive
}

// claimSlot blocks until a request slot is free, polling at
// slotPollInterval, then takes it.
func (d *Downloader) claimSlot(ctx context.Context) error {
	for {
		d.mu.Lock()
		if d.active < d.maxActive {
			d.active++
			d.mu.Unlock()
			return nil
		}
		d.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(slotPollInterval):
		}
	}
}

func (d *Downloader) releaseSlot() {
	d.mu.Lock()
	d.active--
	d.mu.Unlock()
}

// throttle shrinks the in-flight ceiling after a 429. It never drops
// below 1 and never grows back within the run.
func (d *Downloader) throttle(ctx context.Context) {
	d.mu.Lock()
	next := (d.maxActive*9 + 9) / 10
	if next < 1 {
		next = 1
	}
	if next < d.maxActive {
		d.maxActive = next
	}
	max := d.maxActive
	d.mu.Unlock()
	log.G(ctx).WithField("maxActiveRequests", max).Info("upstream throttled us, reducing concurrency")
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do performs one logical GET with slot claiming and exponential backoff.
// accept decides which statuses are terminal successes; 404 is always a
// non-retriable failure and 429 shrinks the concurrency ceiling before the
// request is re-queued through the backoff.
func (d *Downloader) do(ctx context.Context, rawURL string, header http.Header, accept func(int) bool) (*response, error) {
	var result *response
	op := func() error {
		if err := d.claimSlot(ctx); err != nil {
			return backoff.Permanent(err)
		}
		defer d.releaseSlot()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, err))
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if d.userAgent != "" && req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", d.userAgent)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			// Timeouts and transport errors are transient.
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			d.throttle(ctx)
			return fmt.Errorf("status 429 for %s", rawURL)
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", errdefs.ErrNotFound, rawURL))
		case accept(resp.StatusCode):
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			result = &response{status: resp.StatusCode, header: resp.Header, body: body}
			return nil
		default:
			return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(bo, failAfter), ctx),
		func(err error, wait time.Duration) {
			log.G(ctx).WithError(err).WithField("wait", wait.Round(time.Millisecond)).Debug("retrying request")
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func accept2xx(status int) bool {
	return status >= 200 && status < 300
}

// GetJSON fetches and decodes one JSON document. The URL may be in its
// serialized short form.
func (d *Downloader) GetJSON(ctx context.Context, rawURL string, v any) error {
	rawURL = d.DeserializeURL(rawURL)
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	resp, err := d.do(ctx, rawURL, http.Header{"Accept": []string{"application/json"}}, accept2xx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, v); err != nil {
		return fmt.Errorf("decoding response from %s: %w", rawURL, err)
	}
	return nil
}

// PostJSON sends one urlencoded form POST and decodes the JSON response.
// Session requests (login) are single-shot: no slot claiming, no retries.
// Cookies the upstream sets are kept for every later request.
func (d *Downloader) PostJSON(ctx context.Context, rawURL string, form url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if !accept2xx(resp.StatusCode) {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response from %s: %w", rawURL, err)
	}
	return nil
}

func (d *Downloader) isImageURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return d.imageRe.MatchString(rawURL)
	}
	return d.imageRe.MatchString(u.Path)
}

// DownloadContent fetches one media or asset URL and returns its bytes plus
// response headers. Image URLs are revalidated against the blob cache with
// If-None-Match when possible, and bitmap bodies go through the optimisation
// pipeline before being returned.
func (d *Downloader) DownloadContent(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	rawURL = d.DeserializeURL(rawURL)
	if d.cache != nil {
		if body, header, ok := d.cache.Get(rawURL); ok {
			return body, header, nil
		}
	}

	isImage := d.isImageURL(rawURL)
	var cached *blobcache.Object
	header := http.Header{}
	if isImage && d.blob != nil {
		obj, err := d.blob.Get(ctx, blobcache.StripHTTP(rawURL))
		if err != nil {
			log.G(ctx).WithError(err).WithField("url", rawURL).Warn("blob cache lookup failed, downloading directly")
		} else if obj != nil && obj.ETag != "" {
			cached = obj
			header.Set("If-None-Match", obj.ETag)
		}
	}

	resp, err := d.do(ctx, rawURL, header, func(status int) bool {
		return accept2xx(status) || (status == http.StatusNotModified && cached != nil)
	})
	if err != nil {
		return nil, nil, err
	}

	if resp.status == http.StatusNotModified {
		// Revalidated: the cached bytes are already optimised. The 304
		// itself carries no Content-Type, so restore the stored one.
		h := http.Header{}
		h.Set("Etag", cached.ETag)
		if cached.ContentType != "" {
			h.Set("Content-Type", cached.ContentType)
		}
		return cached.Body, h, nil
	}

	body := resp.body
	if etag := resp.header.Get("Etag"); etag != "" && isImage && d.blob != nil {
		upload := make([]byte, len(body))
		copy(upload, body)
		contentType := resp.header.Get("Content-Type")
		go func() {
			putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
			defer cancel()
			if err := d.blob.Put(putCtx, blobcache.StripHTTP(rawURL), upload, etag, contentType); err != nil {
				log.G(ctx).WithError(err).WithField("url", rawURL).Warn("blob cache upload failed")
			}
		}()
	}

	if d.optimizer != nil {
		body = d.optimizer.Optimize(ctx, resp.header.Get("Content-Type"), body)
	}
	if d.cache != nil {
		if err := d.cache.Put(rawURL, body, resp.header); err != nil {
			log.G(ctx).WithError(err).WithField("url", rawURL).Debug("scratch cache write failed")
		}
	}
	return body, resp.header, nil
}

// SetBaseURLs installs the article endpoints chosen after the capability
// probe.
func (d *Downloader) SetBaseURLs(base, baseForMainPage string) {
	d.baseMu.Lock()
	d.baseURL = base
	d.baseURLForMainPage = baseForMainPage
	d.baseMu.Unlock()
}

// GetArticle fetches the raw upstream JSON for one article id, using the
// main-page endpoint when the id is the main page.
func (d *Downloader) GetArticle(ctx context.Context, articleID string, isMainPage bool) (json.RawMessage, error) {
	d.baseMu.Lock()
	base := d.baseURL
	if isMainPage {
		base = d.baseURLForMainPage
	}
	d.baseMu.Unlock()
	if base == "" {
		return nil, fmt.Errorf("%w: no article endpoint configured, probe first", errdefs.ErrFailedPrecondition)
	}
	var raw json.RawMessage
	if err := d.GetJSON(ctx, base+encodeArticleIDForURL(articleID), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// encodeArticleIDForURL percent-encodes an article id per path segment so
// that subpage separators survive.
func encodeArticleIDForURL(id string) string {
	segments := strings.Split(id, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
