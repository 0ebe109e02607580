package rewrite

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"

	"github.com/tdewolff/minify/v2"
	minhtml "github.com/tdewolff/minify/v2/html"

	"github.com/wikiscrape/wikiscrape/mwapi"
)

// Page carries everything Finalize needs to wrap a rewritten body into a
// complete standalone document.
type Page struct {
	ID          string
	Title       string
	Body        string
	JSModules   []string
	CSSModules  []string
	Coordinates []mwapi.Coordinate
	Date        time.Time
}

var documentTemplate = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}" dir="{{.Dir}}">
<head>
<meta charset="UTF-8" />
<title>{{.Title}}</title>
{{- if .GeoPosition}}
<meta name="geo.position" content="{{.GeoPosition}}" />
{{- end}}
{{- range .CSS}}
<link rel="stylesheet" href="{{.}}" />
{{- end}}
</head>
<body class="mw-body mw-body-content mediawiki" style="padding: 1em 0.5em 1em 0.5em;">
{{- if .Breadcrumb}}
<div class="subpages">{{.Breadcrumb}}</div>
{{- end}}
<h1 class="section-heading" id="title_0">{{.Title}}</h1>
{{.Body}}
<!--htdig_noindex-->
<div class="mw-footer" id="footer">
<ul id="footer-info">
<li>{{.Footer}}</li>
</ul>
</div>
<!--/htdig_noindex-->
{{- range .JS}}
<script src="{{.}}"></script>
{{- end}}
</body>
</html>
`))

type documentData struct {
	Lang        string
	Dir         string
	Title       string
	GeoPosition string
	Breadcrumb  string
	Body        string
	Footer      string
	CSS         []string
	JS          []string
}

// Finalize merges a rewritten body into the full document template: module
// references, text direction, breadcrumb, footer, and geo metadata. The body
// and footer fragments are trusted HTML; everything else is escaped here.
func (r *Rewriter) Finalize(page Page) (string, error) {
	root := relativeRoot(page.ID)
	data := documentData{
		Lang:       "en",
		Dir:        "ltr",
		Title:      html.EscapeString(page.Title),
		Breadcrumb: r.breadcrumb(page.ID),
		Body:       page.Body,
		Footer:     r.footer(page),
	}
	if r.opts.Meta != nil {
		if r.opts.Meta.LangISO2 != "" {
			data.Lang = r.opts.Meta.LangISO2
		}
		if r.opts.Meta.TextDir != "" {
			data.Dir = r.opts.Meta.TextDir
		}
	}
	if len(page.Coordinates) > 0 {
		c := page.Coordinates[0]
		data.GeoPosition = fmt.Sprintf("%g;%g", c.Lat, c.Lon)
	}
	for _, m := range page.CSSModules {
		data.CSS = append(data.CSS, root+"-/s/"+m+".css")
	}
	for _, m := range page.JSModules {
		data.JS = append(data.JS, root+"-/j/"+m+".js")
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering document for %q: %w", page.ID, err)
	}
	if r.opts.Flags.NoZim {
		return buf.String(), nil
	}
	return minifyHTML(buf.String())
}

// breadcrumb synthesizes the parent-page trail for subpages. Only articles
// in namespaces that allow subpages have one.
func (r *Rewriter) breadcrumb(id string) string {
	if !strings.Contains(id, "/") {
		return ""
	}
	if r.opts.Meta != nil {
		ns, title, hasNS := strings.Cut(id, ":")
		if hasNS && title != "" {
			if n, ok := r.opts.Meta.Namespaces[ns]; ok && !n.AllowedSubpages {
				return ""
			}
		}
	}
	segments := strings.Split(id, "/")
	var parts []string
	for i := 0; i < len(segments)-1; i++ {
		parent := strings.Join(segments[:i+1], "/")
		depth := len(segments) - 1 - i
		href := strings.Repeat("../", depth) + EncodeArticleID(parent)
		parts = append(parts, fmt.Sprintf(`&lt; <a href="%s">%s</a>`, href, html.EscapeString(segments[i])))
	}
	return strings.Join(parts, " ")
}

func (r *Rewriter) footer(page Page) string {
	date := page.Date
	if date.IsZero() {
		date = time.Now()
	}
	source := ""
	if r.opts.Meta != nil {
		source = strings.TrimSuffix(r.opts.Meta.BaseURL, "/") + "/wiki/" + EncodeArticleID(page.ID)
	}
	creator := "wiki contributors"
	if r.opts.Meta != nil && r.opts.Meta.SiteName != "" {
		creator = r.opts.Meta.SiteName + " contributors"
	}
	if source == "" {
		return fmt.Sprintf("This article was issued by %s and retrieved on %s.",
			html.EscapeString(creator), date.Format("2006-01-02"))
	}
	return fmt.Sprintf(`This article is issued from <a class="external text" href="%s">%s</a> by %s. It was retrieved on %s.`,
		source, html.EscapeString(page.Title), html.EscapeString(creator), date.Format("2006-01-02"))
}

// The minifier collapses whitespace runs itself and leaves pre and textarea
// content alone, so no further whitespace handling happens after it.
var minifier = func() *minify.M {
	m := minify.New()
	m.Add("text/html", &minhtml.Minifier{
		KeepComments:        true,
		KeepDocumentTags:    true,
		KeepEndTags:         true,
		KeepQuotes:          true,
		KeepSpecialComments: true,
		KeepDefaultAttrVals: true,
	})
	return m
}()

func minifyHTML(in string) (string, error) {
	out, err := minifier.String("text/html", in)
	if err != nil {
		return "", fmt.Errorf("minifying document: %w", err)
	}
	return out, nil
}
