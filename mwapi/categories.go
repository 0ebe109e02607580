package mwapi

import (
	"context"
	"net/url"
)

// SubCategories enumerates the direct subcategories of a category title,
// following cmcontinue until the listing is exhausted.
func (c *Client) SubCategories(ctx context.Context, title string, cmContinue string) ([]PageRef, error) {
	var members []PageRef
	for {
		params := url.Values{}
		params.Set("list", "categorymembers")
		params.Set("cmtitle", title)
		params.Set("cmtype", "subcat")
		params.Set("cmlimit", "max")
		if cmContinue != "" {
			params.Set("cmcontinue", cmContinue)
		}

		var resp queryResponse
		if err := c.getter.GetJSON(ctx, c.queryURL(params), &resp); err != nil {
			return nil, err
		}
		if err := c.checkResponse(ctx, &resp); err != nil {
			return nil, err
		}
		if resp.Query != nil {
			members = append(members, resp.Query.CategoryMembers...)
		}

		tokens := continuationTokens(&resp)
		next, ok := tokens["cmcontinue"]
		if !ok {
			return members, nil
		}
		cmContinue = next
	}
}

// BacklinkRedirects returns the redirects pointing at one title. A single
// request covers one page; the caller decides which of the returned sources
// become stored redirect records.
func (c *Client) BacklinkRedirects(ctx context.Context, title string) ([]PageRef, error) {
	params := url.Values{}
	params.Set("prop", "redirects")
	params.Set("titles", title)
	params.Set("rdlimit", "max")

	var resp queryResponse
	if err := c.getter.GetJSON(ctx, c.queryURL(params), &resp); err != nil {
		return nil, err
	}
	if err := c.checkResponse(ctx, &resp); err != nil {
		return nil, err
	}
	if resp.Query == nil {
		return nil, nil
	}
	var redirects []PageRef
	for _, page := range resp.Query.Pages {
		if page == nil || page.Missing != nil {
			continue
		}
		redirects = append(redirects, page.Redirects...)
	}
	return redirects, nil
}
