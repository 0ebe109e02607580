// Package mwapi provides typed read access to a MediaWiki query API:
// metadata discovery, article detail queries with continuation handling,
// subcategory enumeration and redirect discovery.
package mwapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// Doer performs one JSON GET. It is implemented by the downloader so that
// all outbound traffic shares its concurrency and retry behaviour.
type Doer interface {
	GetJSON(ctx context.Context, url string, v any) error
}

// Client talks to one wiki's api.php endpoint.
type Client struct {
	apiURL    string
	getter    Doer
	delimiter string
	caps      *Capabilities
}

// NewClient returns a client for the given api.php URL. caps is shared with
// the orchestrator; the client clears the coordinates capability when the
// upstream warns that the prop is unsupported.
func NewClient(apiURL string, getter Doer, caps *Capabilities) *Client {
	return &Client{
		apiURL:    strings.TrimSuffix(apiURL, "?"),
		getter:    getter,
		delimiter: "_",
		caps:      caps,
	}
}

func (c *Client) queryURL(params url.Values) string {
	params.Set("action", "query")
	params.Set("format", "json")
	return c.apiURL + "?" + params.Encode()
}

// spaceDelimit replaces spaces in a title with the configured delimiter,
// producing the article id used everywhere downstream.
func (c *Client) spaceDelimit(title string) string {
	return strings.ReplaceAll(title, " ", c.delimiter)
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("wiki API error %s: %s", e.Code, e.Info)
}

type queryResponse struct {
	Continue      map[string]any            `json:"continue,omitempty"`
	QueryContinue map[string]map[string]any `json:"query-continue,omitempty"`
	Query         *queryBody                `json:"query,omitempty"`
	Error         *apiError                 `json:"error,omitempty"`
	Warnings      map[string]warning        `json:"warnings,omitempty"`
}

type warning struct {
	Text string `json:"*"`
}

type queryBody struct {
	General          *generalInfo              `json:"general,omitempty"`
	Namespaces       map[string]namespaceInfo  `json:"namespaces,omitempty"`
	NamespaceAliases []namespaceAlias          `json:"namespacealiases,omitempty"`
	Pages            map[string]*ArticleDetail `json:"pages,omitempty"`
	CategoryMembers  []PageRef                 `json:"categorymembers,omitempty"`
	Statistics       map[string]int64          `json:"statistics,omitempty"`
	Tokens           map[string]string         `json:"tokens,omitempty"`
}

// checkResponse surfaces warnings and classifies errors. A DB_ERROR is fatal
// for the whole enumeration; any other error is logged and the caller keeps
// whatever partial data the response carried.
func (c *Client) checkResponse(ctx context.Context, r *queryResponse) error {
	for module, w := range r.Warnings {
		log.G(ctx).WithFields(log.Fields{"module": module, "warning": w.Text}).Warn("wiki API warning")
		if module == "query" && strings.Contains(w.Text, "coordinates") && c.caps != nil {
			c.caps.CoordinatesAvailable = false
			log.G(ctx).Info("coordinates prop unsupported upstream, disabling")
		}
	}
	if r.Error != nil {
		if r.Error.Code == "DB_ERROR" {
			return fmt.Errorf("%w: %w", errdefs.ErrInternal, r.Error)
		}
		log.G(ctx).WithError(r.Error).Warn("wiki API returned a non-fatal error, keeping partial data")
	}
	return nil
}

// continuationTokens extracts the per-prop continuation cursors from a
// response. Newer servers return `continue`, older ones `query-continue`;
// when both appear, `continue` wins. The synthetic "continue" marker key is
// never a cursor.
func continuationTokens(r *queryResponse) map[string]string {
	out := map[string]string{}
	for k, v := range r.Continue {
		if k == "continue" {
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	if len(out) > 0 {
		return out
	}
	for _, m := range r.QueryContinue {
		for k, v := range m {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// tokenProp maps a continuation cursor name to the article prop it pages.
var tokenProp = map[string]string{
	"cocontinue": "coordinates",
	"clcontinue": "categories",
	"picontinue": "thumbnail",
	"rdcontinue": "redirects",
	"rvcontinue": "revisions",
}
