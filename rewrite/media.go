package rewrite

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/containerd/log"
)

// treatMedias is the media pass: videos and their sources, images, and
// figure containers.
func (r *Rewriter) treatMedias(ctx context.Context, doc *goquery.Document, articleID string, deps *[]MediaDep) {
	r.treatVideos(doc, articleID, deps)
	r.treatImages(ctx, doc, articleID, deps)
	r.treatFigures(doc)
}

func (r *Rewriter) treatVideos(doc *goquery.Document, articleID string, deps *[]MediaDep) {
	doc.Find("video").Each(func(_ int, video *goquery.Selection) {
		if r.opts.Flags.NoPic || r.opts.Flags.NoVid || r.opts.Flags.NoDet {
			video.Remove()
			return
		}

		video.SetAttr("controls", "")
		// Players shorter than 40px lose their controls.
		if h, err := strconv.Atoi(video.AttrOr("height", "")); err == nil && h < 40 {
			video.SetAttr("height", "40")
		}

		poster, hasPoster := video.Attr("poster")
		if hasPoster && poster != "" {
			if dep, ok := r.mediaDep(articleID, r.absoluteURL(poster), 0); ok {
				video.SetAttr("poster", dep.localPath)
				*deps = append(*deps, dep.MediaDep)
			}
		}

		sources := video.Find("source")
		if sources.Length() == 0 {
			if !hasPoster || poster == "" {
				video.Remove()
			}
			return
		}

		// Keep only the lowest-resolution source.
		best := -1
		bestArea := 0
		sources.Each(func(i int, src *goquery.Selection) {
			area := sourceArea(src)
			if best == -1 || area < bestArea {
				best, bestArea = i, area
			}
		})
		sources.Each(func(i int, src *goquery.Selection) {
			if i != best {
				src.Remove()
				return
			}
			srcURL := src.AttrOr("src", "")
			dep, ok := r.mediaDep(articleID, r.absoluteURL(srcURL), 0)
			if !ok {
				src.Remove()
				return
			}
			src.SetAttr("src", dep.localPath)
			*deps = append(*deps, dep.MediaDep)
		})
	})
}

func sourceArea(src *goquery.Selection) int {
	w, errW := strconv.Atoi(src.AttrOr("data-file-width", ""))
	h, errH := strconv.Atoi(src.AttrOr("data-file-height", ""))
	if errW != nil || errH != nil {
		w, _ = strconv.Atoi(src.AttrOr("data-width", "0"))
		h, _ = strconv.Atoi(src.AttrOr("data-height", "0"))
	}
	return w * h
}

func (r *Rewriter) treatImages(ctx context.Context, doc *goquery.Document, articleID string, deps *[]MediaDep) {
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, hasSrc := img.Attr("src")
		if !hasSrc || strings.HasPrefix(src, "./Special:FilePath/") {
			return
		}
		if strings.HasPrefix(src, relativeRoot(articleID)+"I/") {
			// Already archive-local.
			return
		}

		isMath := strings.Contains(img.AttrOr("class", ""), "mwe-math-fallback") ||
			img.Closest(`[typeof*="mw:Extension/math"]`).Length() > 0

		if r.opts.Flags.NoPic && !isMath {
			img.Remove()
			return
		}

		if !isMath {
			parent := img.Parent()
			if parent.Is("a") {
				if target, ok := linkTargetTitle(parent.AttrOr("href", "")); ok {
					if !r.opts.Mirrored(target) {
						if _, isRedirect := r.opts.Redirect(target); !isRedirect {
							parent.ReplaceWithSelection(img)
						}
					}
				}
			}
		}

		width, _ := strconv.Atoi(img.AttrOr("width", ""))
		dep, ok := r.mediaDep(articleID, r.absoluteURL(src), width)
		if !ok {
			log.G(ctx).WithField("src", src).Debug("unparseable image URL, dropping element")
			img.Remove()
			return
		}
		img.SetAttr("src", dep.localPath)
		img.RemoveAttr("resource")
		img.RemoveAttr("srcset")
		*deps = append(*deps, dep.MediaDep)
	})
}

// treatFigures wraps figures and frameless image spans into the classic
// thumb markup the stylesheet expects.
func (r *Rewriter) treatFigures(doc *goquery.Document) {
	doc.Find(`figure, span[typeof="mw:Image/Frameless"]`).Each(func(_ int, fig *goquery.Selection) {
		media := fig.Find("img, video")
		if media.Length() == 0 {
			fig.Remove()
			return
		}

		class := fig.AttrOr("class", "")
		align := ""
		center := false
		switch {
		case strings.Contains(class, "mw-halign-right"):
			align = "tright"
		case strings.Contains(class, "mw-halign-left"):
			align = "tleft"
		case strings.Contains(class, "mw-halign-center"):
			align = "tnone"
			center = true
		default:
			if r.opts.Meta != nil && r.opts.Meta.TextDir == "rtl" {
				align = "tleft"
			} else {
				align = "tright"
			}
		}

		width, _ := strconv.Atoi(media.First().AttrOr("width", ""))
		caption, _ := fig.Find("figcaption").First().Html()
		mediaHTML, err := goquery.OuterHtml(media.First())
		if err != nil {
			fig.Remove()
			return
		}

		thumb := fmt.Sprintf(
			`<div class="thumb %s"><div class="thumbinner" style="width:%dpx;">%s<div class="thumbcaption">%s</div></div></div>`,
			align, width+2, mediaHTML, caption)
		if center {
			thumb = "<center>" + thumb + "</center>"
		}
		fig.ReplaceWithHtml(thumb)
	})
}

type localDep struct {
	MediaDep
	localPath string
}

// mediaDep resolves one media URL into its archive path plus the rewritten
// src as seen from articleID.
func (r *Rewriter) mediaDep(articleID, rawURL string, widthHint int) (localDep, bool) {
	if rawURL == "" {
		return localDep{}, false
	}
	base, width, mult, ok := mediaInfo(rawURL)
	if !ok {
		return localDep{}, false
	}
	if width == 0 {
		width = widthHint
	}
	return localDep{
		MediaDep:  MediaDep{URL: rawURL, Path: base, Width: width, Mult: mult},
		localPath: mediaPath(articleID, base),
	}, true
}

// absoluteURL resolves protocol-relative and path-absolute media URLs
// against the wiki host.
func (r *Rewriter) absoluteURL(raw string) string {
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "/") && r.opts.Meta != nil:
		return strings.TrimSuffix(r.opts.Meta.BaseURL, "/") + raw
	default:
		return raw
	}
}
