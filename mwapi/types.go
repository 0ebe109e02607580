package mwapi

// Metadata is the immutable description of the remote wiki gathered from one
// siteinfo query at startup. All URLs carry a trailing slash.
type Metadata struct {
	BaseURL  string
	APIURL   string
	RestURL  string
	VEURL    string
	MainPage string
	SiteName string
	TextDir  string
	LangISO2 string
	LangISO3 string

	// Namespaces maps every name variant (canonical, localized,
	// lowercased-first, uppercased-first) to the same record.
	Namespaces map[string]Namespace
}

// Namespace is one integer-tagged partition of wiki titles.
type Namespace struct {
	ID              int
	Canonical       string
	Localized       string
	IsContent       bool
	AllowedSubpages bool
}

// ContentNamespaces returns the ids of all content namespaces, each once.
func (m *Metadata) ContentNamespaces() []int {
	seen := map[int]bool{}
	var ids []int
	for _, ns := range m.Namespaces {
		if ns.IsContent && !seen[ns.ID] {
			seen[ns.ID] = true
			ids = append(ids, ns.ID)
		}
	}
	return ids
}

// Capabilities records which upstream features are usable. All three false
// means nothing can render articles and the scrape must abort.
type Capabilities struct {
	RestAPIAvailable     bool
	VEAPIAvailable       bool
	CoordinatesAvailable bool
}

// PageRef identifies a page by title (and page id when known).
type PageRef struct {
	PageID int64  `json:"pageid,omitempty"`
	NS     int    `json:"ns"`
	Title  string `json:"title"`
}

// Revision is one revision entry from prop=revisions.
type Revision struct {
	RevID    int64  `json:"revid"`
	ParentID int64  `json:"parentid,omitempty"`
	Time     string `json:"timestamp,omitempty"`
}

// Coordinate is one prop=coordinates entry.
type Coordinate struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Primary string  `json:"primary,omitempty"`
	Globe   string  `json:"globe,omitempty"`
}

// Thumbnail is the prop=pageimages thumbnail.
type Thumbnail struct {
	Source string `json:"source"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ArticleDetail accumulates everything the scraper knows about one article.
// During enumeration it is filled from (possibly many) continuation pages;
// the category pagination step may later split it into shards that reference
// one another through PrevArticleID/NextArticleID.
type ArticleDetail struct {
	Title         string       `json:"title"`
	PageID        int64        `json:"pageid,omitempty"`
	NamespaceID   int          `json:"ns"`
	Missing       *string      `json:"missing,omitempty"`
	Revisions     []Revision   `json:"revisions,omitempty"`
	RevisionID    int64        `json:"revisionId,omitempty"`
	Coordinates   []Coordinate `json:"coordinates,omitempty"`
	Redirects     []PageRef    `json:"redirects,omitempty"`
	Categories    []PageRef    `json:"categories,omitempty"`
	SubCategories []PageRef    `json:"subCategories,omitempty"`
	Pages         []PageRef    `json:"pages,omitempty"`
	Thumbnail     *Thumbnail   `json:"thumbnail,omitempty"`
	PrevArticleID string       `json:"prevArticleId,omitempty"`
	NextArticleID string       `json:"nextArticleId,omitempty"`
}
