// Package render turns the raw JSON of one article, whichever upstream shape
// it arrived in, into HTML fragments ready for the DOM rewriter. Oversized
// category listings are split here into linked shards.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/containerd/log"

	"github.com/wikiscrape/wikiscrape/mwapi"
)

// Rendered is one renderable article page. Pagination can make several out
// of a single article; each carries the detail record the caller must store
// under ID.
type Rendered struct {
	ID           string
	HTML         string
	DisplayTitle string
	Detail       mwapi.ArticleDetail
}

// Renderer selects a rendering path from the probed capabilities.
type Renderer struct {
	Caps     *mwapi.Capabilities
	MainPage string
}

// mobileSections is the REST mobile-sections response shape.
type mobileSections struct {
	Lead struct {
		DisplayTitle string    `json:"displaytitle"`
		Sections     []section `json:"sections"`
	} `json:"lead"`
	Remaining struct {
		Sections []section `json:"sections"`
	} `json:"remaining"`
}

type section struct {
	ID       int    `json:"id"`
	TocLevel int    `json:"toclevel"`
	Anchor   string `json:"anchor"`
	Line     string `json:"line"`
	Text     string `json:"text"`
}

// desktopResponse covers the visual-editor shape, the action=parse shape and
// the plain pagebundle shape; exactly one of them is populated.
type desktopResponse struct {
	VisualEditor struct {
		Content string `json:"content"`
	} `json:"visualeditor"`
	Parse struct {
		Text map[string]string `json:"text"`
	} `json:"parse"`
	HTML struct {
		Body string `json:"body"`
	} `json:"html"`
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Render produces the page (or pages, for paginated categories) of one
// article.
func (r *Renderer) Render(ctx context.Context, articleID string, raw json.RawMessage, detail mwapi.ArticleDetail) ([]Rendered, error) {
	isMainPage := articleID == r.MainPage

	var body, displayTitle string
	if isMainPage || r.Caps == nil || !r.Caps.RestAPIAvailable {
		var err error
		body, err = renderDesktop(raw)
		if err != nil {
			return nil, fmt.Errorf("rendering %s: %w", articleID, err)
		}
	} else {
		var ms mobileSections
		if err := json.Unmarshal(raw, &ms); err != nil {
			return nil, fmt.Errorf("rendering %s: %w", articleID, err)
		}
		body = assembleMobileSections(&ms)
		displayTitle = ms.Lead.DisplayTitle
	}

	if m := titleRe.FindStringSubmatch(body); m != nil && strings.TrimSpace(m[1]) != "" {
		displayTitle = strings.TrimSpace(m[1])
	}
	if displayTitle == "" {
		displayTitle = strings.ReplaceAll(articleID, "_", " ")
	}

	shards := PaginateCategory(articleID, detail)
	out := make([]Rendered, 0, len(shards))
	for _, shard := range shards {
		html := body
		if len(shard.Detail.SubCategories) > 0 || len(shard.Detail.Pages) > 0 {
			html += renderCategoryListing(shard.Detail)
		}
		out = append(out, Rendered{
			ID:           shard.ID,
			HTML:         html,
			DisplayTitle: displayTitle,
			Detail:       shard.Detail,
		})
	}
	if len(out) > 1 {
		log.G(ctx).WithFields(log.Fields{"article": articleID, "shards": len(out)}).Debug("category paginated")
	}
	return out, nil
}

// renderDesktop prefers visual-editor content, then action=parse text, then
// a bare html body.
func renderDesktop(raw json.RawMessage) (string, error) {
	var resp desktopResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	switch {
	case resp.VisualEditor.Content != "":
		return resp.VisualEditor.Content, nil
	case resp.Parse.Text["*"] != "":
		return resp.Parse.Text["*"], nil
	case resp.HTML.Body != "":
		return resp.HTML.Body, nil
	}
	return "", fmt.Errorf("response carried no renderable content")
}

func placeholder(i int) string {
	return fmt.Sprintf("__SUB_LEVEL_SECTION_%d__", i)
}

// assembleMobileSections renders the lead and walks the remaining sections
// in order. A top-level section closes the current chain and appends a new
// collapsible section; a deeper one nests into the placeholder left by its
// parent. The trailing placeholder is cleared at the end.
func assembleMobileSections(ms *mobileSections) string {
	html := renderLead(ms)
	for i, sec := range ms.Remaining.Sections {
		ph := placeholder(i)
		if sec.TocLevel <= 1 {
			html = strings.Replace(html, ph, "", 1)
			html += renderSection(sec, i+1)
		} else {
			html = strings.Replace(html, ph, renderSubSection(sec, i+1), 1)
		}
	}
	return strings.Replace(html, placeholder(len(ms.Remaining.Sections)), "", 1)
}
