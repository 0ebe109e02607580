package render

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/wikiscrape/wikiscrape/mwapi"
	"github.com/wikiscrape/wikiscrape/rewrite"
)

// The fragments below assemble articles from mobile-sections responses and
// decorate category pages. Section text is upstream-rendered HTML and is
// injected as-is; text/template keeps it unescaped.

var leadTemplate = template.Must(template.New("lead").Parse(
	`<h1 class="article-header">{{.DisplayTitle}}</h1>` +
		`<div class="mw-parser-output">{{range .Sections}}{{.Text}}{{end}}</div>` +
		`__SUB_LEVEL_SECTION_0__`))

var sectionTemplate = template.Must(template.New("section").Parse(
	`<details data-level="{{.TocLevel}}" open>` +
		`<summary class="section-heading" id="{{.Anchor}}">{{.Line}}</summary>` +
		`<div class="section-content">{{.Text}}__SUB_LEVEL_SECTION_{{.Next}}__</div>` +
		`</details>`))

var subSectionTemplate = template.Must(template.New("subsection").Parse(
	`<details data-level="{{.TocLevel}}" open>` +
		`<summary class="section-heading" id="{{.Anchor}}">{{.Line}}</summary>` +
		`<div class="section-content">{{.Text}}</div>` +
		`</details>__SUB_LEVEL_SECTION_{{.Next}}__`))

type sectionData struct {
	section
	Next int
}

func renderLead(ms *mobileSections) string {
	var b strings.Builder
	_ = leadTemplate.Execute(&b, ms.Lead)
	return b.String()
}

func renderSection(sec section, next int) string {
	var b strings.Builder
	_ = sectionTemplate.Execute(&b, sectionData{section: sec, Next: next})
	return b.String()
}

func renderSubSection(sec section, next int) string {
	var b strings.Builder
	_ = subSectionTemplate.Execute(&b, sectionData{section: sec, Next: next})
	return b.String()
}

// Listing links carry the ./-prefixed encoded article id, not the display
// title, so the link pass resolves them against the mirrored set like any
// other wiki link.
var categoryListingTemplate = template.Must(template.New("listing").Funcs(template.FuncMap{
	"href": memberHref,
}).Parse(strings.TrimSpace(`
<div class="category-listing">
{{- if .SubGroups}}
<h2>Subcategories</h2>
{{- range .SubGroups}}
<h3 class="letter-group">{{.Letter}}</h3>
<ul>
{{- range .Members}}
<li><a href="{{href .Title}}">{{.Title}}</a></li>
{{- end}}
</ul>
{{- end}}
{{- end}}
{{- if .PageGroups}}
<h2>Pages</h2>
{{- range .PageGroups}}
<h3 class="letter-group">{{.Letter}}</h3>
<ul>
{{- range .Members}}
<li><a href="{{href .Title}}">{{.Title}}</a></li>
{{- end}}
</ul>
{{- end}}
{{- end}}
{{- if or .Prev .Next}}
<div class="category-pagination">
{{- if .Prev}}<a class="prev" href="{{href .Prev}}">&#8592;</a>{{end}}
{{- if .Next}}<a class="next" href="{{href .Next}}">&#8594;</a>{{end}}
</div>
{{- end}}
</div>`)))

func memberHref(title string) string {
	return "./" + rewrite.EncodeArticleID(strings.ReplaceAll(title, " ", "_"))
}

func renderCategoryListing(detail mwapi.ArticleDetail) string {
	data := struct {
		SubGroups  []LetterGroup
		PageGroups []LetterGroup
		Prev, Next string
	}{
		SubGroups:  GroupByFirstLetter(detail.SubCategories),
		PageGroups: GroupByFirstLetter(detail.Pages),
		Prev:       detail.PrevArticleID,
		Next:       detail.NextArticleID,
	}
	var b strings.Builder
	if err := categoryListingTemplate.Execute(&b, data); err != nil {
		return fmt.Sprintf("<!-- listing failed: %v -->", err)
	}
	return b.String()
}
