package mwapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/containerd/log"
)

type generalInfo struct {
	MainPage string `json:"mainpage"`
	Base     string `json:"base"`
	SiteName string `json:"sitename"`
	Lang     string `json:"lang"`
	Server   string `json:"server"`
	// Presence of the key marks a right-to-left wiki.
	RTL *string `json:"rtl,omitempty"`
}

type namespaceInfo struct {
	ID        int     `json:"id"`
	Canonical string  `json:"canonical,omitempty"`
	Localized string  `json:"*"`
	Content   *string `json:"content,omitempty"`
	Subpages  *string `json:"subpages,omitempty"`
}

type namespaceAlias struct {
	ID    int    `json:"id"`
	Alias string `json:"*"`
}

// Metadata issues the single siteinfo query and builds the wiki description
// used by the rest of the run.
func (c *Client) Metadata(ctx context.Context) (*Metadata, error) {
	params := url.Values{}
	params.Set("meta", "siteinfo")
	params.Set("siprop", "general|namespaces|namespacealiases|statistics")

	var resp queryResponse
	if err := c.getter.GetJSON(ctx, c.queryURL(params), &resp); err != nil {
		return nil, err
	}
	if err := c.checkResponse(ctx, &resp); err != nil {
		return nil, err
	}
	if resp.Query == nil || resp.Query.General == nil {
		return nil, fmt.Errorf("siteinfo response carried no general section")
	}
	general := resp.Query.General

	base := general.Server
	if strings.HasPrefix(base, "//") {
		base = "https:" + base
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	meta := &Metadata{
		BaseURL:    base,
		APIURL:     withTrailingSlash(c.apiURL),
		RestURL:    base + "api/rest_v1/page/mobile-sections/",
		VEURL:      base + "w/api.php?action=visualeditor&format=json&paction=parse&page=",
		MainPage:   c.spaceDelimit(general.MainPage),
		SiteName:   general.SiteName,
		TextDir:    "ltr",
		LangISO2:   general.Lang,
		LangISO3:   iso3(general.Lang),
		Namespaces: map[string]Namespace{},
	}
	if general.RTL != nil {
		meta.TextDir = "rtl"
	}

	for _, info := range resp.Query.Namespaces {
		ns := Namespace{
			ID:              info.ID,
			Canonical:       info.Canonical,
			Localized:       info.Localized,
			IsContent:       info.Content != nil,
			AllowedSubpages: info.Subpages != nil,
		}
		registerNamespace(meta.Namespaces, info.Canonical, ns)
		registerNamespace(meta.Namespaces, info.Localized, ns)
	}
	for _, alias := range resp.Query.NamespaceAliases {
		for _, ns := range meta.Namespaces {
			if ns.ID == alias.ID {
				registerNamespace(meta.Namespaces, alias.Alias, ns)
				break
			}
		}
	}

	log.G(ctx).WithFields(log.Fields{
		"site":       meta.SiteName,
		"lang":       meta.LangISO2,
		"mainPage":   meta.MainPage,
		"namespaces": len(meta.Namespaces),
	}).Info("wiki metadata loaded")
	return meta, nil
}

// registerNamespace indexes a namespace record under every name variant:
// the name as given plus its lowercased-first and uppercased-first forms.
func registerNamespace(m map[string]Namespace, name string, ns Namespace) {
	if name == "" && ns.ID != 0 {
		return
	}
	m[name] = ns
	if name == "" {
		return
	}
	runes := []rune(name)
	lower := string(unicode.ToLower(runes[0])) + string(runes[1:])
	upper := string(unicode.ToUpper(runes[0])) + string(runes[1:])
	m[lower] = ns
	m[upper] = ns
}

func withTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
