package mwapi

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
)

// ArticleModules is the module footprint of one rendered article: the
// ResourceLoader scripts and styles it needs plus its mw.config values.
type ArticleModules struct {
	Scripts      []string
	Styles       []string
	JSConfigVars json.RawMessage
}

// HasConfigVars reports whether the article carried any mw.config values.
// The parse API answers `{}` or `[]` for pages without any.
func (m *ArticleModules) HasConfigVars() bool {
	s := strings.TrimSpace(string(m.JSConfigVars))
	return s != "" && s != "{}" && s != "[]" && s != "null"
}

type parseResponse struct {
	Parse *struct {
		Modules       []string        `json:"modules"`
		ModuleScripts []string        `json:"modulescripts"`
		ModuleStyles  []string        `json:"modulestyles"`
		JSConfigVars  json.RawMessage `json:"jsconfigvars"`
	} `json:"parse"`
	Error *apiError `json:"error,omitempty"`
}

// Modules asks the parse API for the module dependencies of one page.
func (c *Client) Modules(ctx context.Context, title string) (*ArticleModules, error) {
	params := url.Values{}
	params.Set("action", "parse")
	params.Set("format", "json")
	params.Set("page", title)
	params.Set("prop", "modules|jsconfigvars|headhtml")

	var resp parseResponse
	if err := c.getter.GetJSON(ctx, c.apiURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Parse == nil {
		return &ArticleModules{}, nil
	}
	return &ArticleModules{
		Scripts:      append(resp.Parse.Modules, resp.Parse.ModuleScripts...),
		Styles:       resp.Parse.ModuleStyles,
		JSConfigVars: resp.Parse.JSConfigVars,
	}, nil
}
