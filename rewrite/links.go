package rewrite

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// rewriteLinks is the link pass. Every anchor is either re-targeted at a
// mirrored article, turned into a geo: URI, absolutized, or unwrapped into
// its own text content.
func (r *Rewriter) rewriteLinks(doc *goquery.Document, articleID string) error {
	var firstErr error
	doc.Find("a, area").Each(func(_ int, a *goquery.Selection) {
		if err := r.rewriteLink(a, articleID); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

func (r *Rewriter) rewriteLink(a *goquery.Selection, articleID string) error {
	href, hasHref := a.Attr("href")
	if !hasHref || href == "" {
		a.Remove()
		return nil
	}
	if strings.HasPrefix(href, "#") {
		return nil
	}

	if geo, ok := geoURI(href); ok {
		a.SetAttr("href", geo)
		return nil
	}

	rel := a.AttrOr("rel", "")
	switch {
	case strings.Contains(rel, "mw:WikiLink/Interwiki"):
		a.AddClass("external")
		return nil
	case strings.Contains(rel, "mw:ExtLink") || strings.Contains(rel, "nofollow"):
		switch {
		case strings.HasPrefix(href, "//"):
			a.SetAttr("href", "https:"+href)
		case strings.HasPrefix(href, "/") && r.opts.Meta != nil:
			a.SetAttr("href", strings.TrimSuffix(r.opts.Meta.BaseURL, "/")+href)
		case strings.HasPrefix(href, "./"):
			unwrap(a)
		}
		return nil
	case strings.Contains(rel, "mw:WikiLink") || strings.Contains(rel, "mw:referencedBy"):
		title, ok := linkTargetTitle(href)
		if !ok {
			unwrap(a)
			return nil
		}
		return r.retarget(a, articleID, title, anchorOf(href))
	}

	// No rel attribute. Anything that looks like a wiki-internal path gets
	// the same treatment as a WikiLink.
	if title, ok := linkTargetTitle(href); ok {
		return r.retarget(a, articleID, title, anchorOf(href))
	}
	return nil
}

// retarget points a at the mirrored copy of title, following one redirect
// hop, or unwraps it when the target is not part of the archive.
func (r *Rewriter) retarget(a *goquery.Selection, articleID, title, anchor string) error {
	target := title
	if !r.opts.Mirrored(target) {
		redirected, ok := r.opts.Redirect(target)
		if !ok || !r.opts.Mirrored(redirected) {
			unwrap(a)
			return nil
		}
		target = redirected
	}
	href := articlePath(articleID, target)
	if anchor != "" {
		href += "#" + anchor
	}
	a.SetAttr("href", href)
	return nil
}

// linkTargetTitle extracts the article title a wiki-internal href points
// at. Parsoid emits ./Title; desktop HTML emits /wiki/Title.
func linkTargetTitle(href string) (string, bool) {
	var raw string
	switch {
	case strings.HasPrefix(href, "./"):
		raw = href[2:]
	case strings.HasPrefix(href, "/wiki/"):
		raw = href[len("/wiki/"):]
	default:
		if u, err := url.Parse(href); err == nil && u.Host != "" && strings.HasPrefix(u.Path, "/wiki/") {
			raw = u.Path[len("/wiki/"):]
		} else {
			return "", false
		}
	}
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "", false
	}
	return DecodeArticleID(raw), true
}

func anchorOf(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[i+1:]
	}
	return ""
}

// unwrap replaces an anchor with its own children, dropping the link but
// keeping the text.
func unwrap(a *goquery.Selection) {
	if inner, err := a.Html(); err == nil {
		a.ReplaceWithHtml(inner)
	} else {
		a.Remove()
	}
}

// geoURI recognizes the map-service URL shapes MediaWiki emits for
// coordinates and converts them to geo: URIs.
func geoURI(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	switch {
	case strings.Contains(u.Path, "poimap2.php"):
		q := u.Query()
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil {
			return "", false
		}
		return formatGeo(lat, lon), true

	case strings.Contains(u.Path, "geohack.php"):
		params := u.Query().Get("params")
		if params == "" {
			return "", false
		}
		lat, lon, ok := parseGeohackParams(params)
		if !ok {
			return "", false
		}
		return formatGeo(lat, lon), true

	case strings.Contains(u.Path, "Special:Map/"):
		i := strings.Index(u.Path, "Special:Map/")
		parts := strings.Split(u.Path[i+len("Special:Map/"):], "/")
		if len(parts) < 3 {
			return "", false
		}
		lat, errLat := strconv.ParseFloat(parts[1], 64)
		lon, errLon := strconv.ParseFloat(parts[2], 64)
		if errLat != nil || errLon != nil {
			return "", false
		}
		return formatGeo(lat, lon), true
	}
	return "", false
}

// parseGeohackParams handles both the DMS form 48_51_29_N_2_17_40_E and the
// decimal form 48.858;2.294.
func parseGeohackParams(params string) (lat, lon float64, ok bool) {
	if strings.Contains(params, ";") {
		parts := strings.SplitN(params, ";", 2)
		lonPart := parts[1]
		if i := strings.IndexByte(lonPart, '_'); i >= 0 {
			lonPart = lonPart[:i]
		}
		lat, errLat := strconv.ParseFloat(parts[0], 64)
		lon, errLon := strconv.ParseFloat(lonPart, 64)
		return lat, lon, errLat == nil && errLon == nil
	}

	factors := []float64{1, 60, 3600}
	var coords []float64
	var cur float64
	var depth int
	var have bool
	flush := func(sign float64) bool {
		if !have {
			return false
		}
		coords = append(coords, sign*cur)
		cur, depth, have = 0, 0, false
		return true
	}
	for _, tok := range strings.Split(params, "_") {
		switch tok {
		case "N", "E", "O":
			if !flush(1) {
				return 0, 0, false
			}
		case "S", "W":
			if !flush(-1) {
				return 0, 0, false
			}
		default:
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil || depth >= len(factors) {
				// Trailing type:city etc. after both coordinates is fine.
				if len(coords) >= 2 {
					return coords[0], coords[1], true
				}
				return 0, 0, false
			}
			cur += v / factors[depth]
			depth++
			have = true
		}
		if len(coords) == 2 {
			return coords[0], coords[1], true
		}
	}
	if len(coords) == 2 {
		return coords[0], coords[1], true
	}
	return 0, 0, false
}

func formatGeo(lat, lon float64) string {
	return fmt.Sprintf("geo:%s,%s",
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lon, 'f', -1, 64))
}
