package rewrite

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// cleanup is the final pass: unwanted element classes, empty containers,
// dangling headings, and parsoid bookkeeping attributes.
func (r *Rewriter) cleanup(doc *goquery.Document) {
	doc.Find("link, input").Remove()
	if r.opts.Flags.NoPic {
		doc.Find("map").Remove()
	}

	doc.Find("li, span").Each(func(_ int, s *goquery.Selection) {
		if strings.TrimSpace(s.Text()) == "" && s.Children().Length() == 0 {
			s.Remove()
		}
	})

	doc.Find(".gallerybox").Each(func(_ int, box *goquery.Selection) {
		if box.Find("img, audio, video").Length() == 0 {
			box.Remove()
		}
	})
	doc.Find(".gallery").Each(func(_ int, g *goquery.Selection) {
		if g.Find(".gallerybox").Length() == 0 {
			g.Remove()
		}
	})

	for _, class := range r.opts.ClassBlacklist {
		doc.Find("." + class).Remove()
	}
	for _, class := range r.opts.ClassNoLinkBlacklist {
		doc.Find("." + class).Find("a").Each(func(_ int, a *goquery.Selection) {
			unwrap(a)
		})
	}
	if r.opts.Flags.NoDet {
		for _, class := range r.opts.ClassDetailsBlacklist {
			doc.Find("." + class).Remove()
		}
	}

	// Reference markers come through as spans; readers expect superscripts.
	doc.Find(`span[rel="dc:references"]`).Each(func(_ int, span *goquery.Selection) {
		inner, err := span.Html()
		if err != nil || strings.TrimSpace(span.Text()) == "" {
			span.Remove()
			return
		}
		sup := `<sup`
		if id, ok := span.Attr("id"); ok {
			sup += ` id="` + id + `"`
		}
		sup += ">" + inner + "</sup>"
		span.ReplaceWithHtml(sup)
	})

	for _, id := range r.opts.IDBlacklist {
		doc.Find("#" + id).Remove()
	}

	for _, class := range r.opts.ClassDisplayList {
		doc.Find("." + class).Each(func(_ int, s *goquery.Selection) {
			style, ok := s.Attr("style")
			if !ok {
				return
			}
			cleaned := removeDisplayNone(style)
			if cleaned == "" {
				s.RemoveAttr("style")
			} else if cleaned != style {
				s.SetAttr("style", cleaned)
			}
		})
	}

	if !r.opts.KeepEmptyParagraphs {
		r.removeEmptyHeadings(doc)
	}

	r.scrubAttributes(doc)
}

// removeEmptyHeadings deletes headings with no content under them: either
// nothing follows, or the next element is a heading of the same or higher
// rank. Deepest levels go first so that emptying h4s can expose empty h3s.
func (r *Rewriter) removeEmptyHeadings(doc *goquery.Document) {
	for level := 5; level >= 1; level-- {
		tag := "h" + string(rune('0'+level))
		doc.Find(tag).Each(func(_ int, h *goquery.Selection) {
			if h.Parent().Is("summary") {
				return
			}
			next := h.NextFiltered("*")
			if next.Length() == 0 {
				h.Remove()
				return
			}
			if rank, ok := headingRank(next); ok && rank <= level {
				h.Remove()
			}
		})
	}
}

func headingRank(s *goquery.Selection) (int, bool) {
	node := s.Get(0)
	if node == nil || node.Type != html.ElementNode {
		return 0, false
	}
	name := node.Data
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0'), true
	}
	return 0, false
}

func removeDisplayNone(style string) string {
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		trimmed := strings.TrimSpace(decl)
		if trimmed == "" {
			continue
		}
		key, value, _ := strings.Cut(trimmed, ":")
		if strings.TrimSpace(key) == "display" && strings.TrimSpace(value) == "none" {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, ";")
}

// scrubAttributes removes parsoid bookkeeping that has no meaning offline.
func (r *Rewriter) scrubAttributes(doc *goquery.Document) {
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		s.RemoveAttr("data-parsoid")
		s.RemoveAttr("typeof")
		s.RemoveAttr("about")
		s.RemoveAttr("data-mw")
		if rel, ok := s.Attr("rel"); ok && strings.HasPrefix(rel, "mw:") {
			s.RemoveAttr("rel")
		}
		if class, ok := s.Attr("class"); ok {
			for _, banned := range r.opts.ClassCallBlacklist {
				if strings.Contains(class, banned) {
					s.RemoveAttr("class")
					break
				}
			}
		}
	})
}
