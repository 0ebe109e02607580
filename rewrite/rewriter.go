// Package rewrite transforms one parsed article document into its
// archive-local form: media elements are rewritten against the image
// namespace and collected as download dependencies, links are re-targeted
// or unwrapped depending on whether their target is mirrored, and the
// structural noise of the upstream renderer is stripped.
package rewrite

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/wikiscrape/wikiscrape/mwapi"
)

// MediaDep is one media URL the rewritten document depends on.
type MediaDep struct {
	URL   string
	Path  string
	Width int
	Mult  float64
}

// Flags are the orthogonal format switches derived from the format token.
type Flags struct {
	NoPic bool
	NoVid bool
	NoDet bool
	NoZim bool
}

// Options configures a Rewriter. The blacklists have defaults matching the
// usual MediaWiki skins; tests and unusual wikis can override them.
type Options struct {
	Meta     *mwapi.Metadata
	Mirrored func(title string) bool
	Redirect func(title string) (target string, ok bool)
	Flags    Flags

	// KeepEmptyParagraphs disables the empty-heading removal pass.
	KeepEmptyParagraphs bool

	ClassBlacklist        []string
	ClassNoLinkBlacklist  []string
	ClassDetailsBlacklist []string
	IDBlacklist           []string
	ClassDisplayList      []string
	ClassCallBlacklist    []string
}

// Rewriter runs the three passes over article documents. It is stateless
// across articles and safe for concurrent use on distinct documents.
type Rewriter struct {
	opts Options
}

// New applies defaults and returns a Rewriter.
func New(opts Options) *Rewriter {
	if opts.Mirrored == nil {
		opts.Mirrored = func(string) bool { return false }
	}
	if opts.Redirect == nil {
		opts.Redirect = func(string) (string, bool) { return "", false }
	}
	if opts.ClassBlacklist == nil {
		opts.ClassBlacklist = []string{"noprint", "metadata", "ambox", "stub", "topicon", "magnify", "navbar"}
	}
	if opts.ClassNoLinkBlacklist == nil {
		opts.ClassNoLinkBlacklist = []string{"mainarticle"}
	}
	if opts.ClassDetailsBlacklist == nil {
		opts.ClassDetailsBlacklist = []string{"reference", "reflist", "navbox"}
	}
	if opts.IDBlacklist == nil {
		opts.IDBlacklist = []string{"purgelink"}
	}
	if opts.ClassDisplayList == nil {
		opts.ClassDisplayList = []string{"thumb"}
	}
	if opts.ClassCallBlacklist == nil {
		opts.ClassCallBlacklist = []string{"plainlinks"}
	}
	return &Rewriter{opts: opts}
}

// Rewrite runs the media, link and cleanup passes in order over doc and
// returns the media dependencies the result relies on. The passes are
// idempotent: running them again over their own output changes nothing.
func (r *Rewriter) Rewrite(ctx context.Context, doc *goquery.Document, articleID string) ([]MediaDep, error) {
	var deps []MediaDep
	r.treatMedias(ctx, doc, articleID, &deps)
	if err := r.rewriteLinks(doc, articleID); err != nil {
		return nil, err
	}
	r.cleanup(doc)
	return deps, nil
}
