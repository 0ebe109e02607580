package mwapi

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/containerd/log"
)

func (c *Client) detailProps(includeThumbnail bool) string {
	props := []string{"revisions", "redirects", "categories"}
	if c.caps == nil || c.caps.CoordinatesAvailable {
		props = append(props, "coordinates")
	}
	if includeThumbnail {
		props = append(props, "pageimages")
	}
	return strings.Join(props, "|")
}

// ArticleDetailsByIDs fetches the details of the given article ids in one
// batched query, following the outer continue cursor and every per-prop
// continuation until exhausted. Partial responses are deep-merged so that a
// detail accumulates across continuation pages; on a continuation page only
// the props actually being continued are retained, since the server re-emits
// the others in full and merging them would duplicate entries.
func (c *Client) ArticleDetailsByIDs(ctx context.Context, ids []string, includeThumbnail bool) (map[string]ArticleDetail, error) {
	acc := map[string]*ArticleDetail{}
	sent := map[string]string{}
	for {
		params := url.Values{}
		params.Set("prop", c.detailProps(includeThumbnail))
		params.Set("titles", strings.Join(ids, "|"))
		params.Set("rdlimit", "max")
		params.Set("colimit", "max")
		if includeThumbnail {
			params.Set("pilimit", "max")
		}
		for k, v := range sent {
			params.Set(k, v)
		}

		var resp queryResponse
		if err := c.getter.GetJSON(ctx, c.queryURL(params), &resp); err != nil {
			return nil, err
		}
		if err := c.checkResponse(ctx, &resp); err != nil {
			return nil, err
		}
		if resp.Query != nil {
			if err := mergePages(acc, resp.Query.Pages, sent); err != nil {
				return nil, err
			}
		}

		next := continuationTokens(&resp)
		if len(next) == 0 {
			break
		}
		sent = next
	}
	return c.normalize(acc), nil
}

// ArticleDetailsByNamespace walks one content namespace through
// generator=allpages. Inner prop continuations are drained before returning;
// the outer generator cursor is handed back to the caller so that
// enumeration is resumable across restarts.
func (c *Client) ArticleDetailsByNamespace(ctx context.Context, ns int, gapContinue string) (map[string]ArticleDetail, string, error) {
	acc := map[string]*ArticleDetail{}
	sent := map[string]string{}
	nextGap := ""
	for {
		params := url.Values{}
		params.Set("generator", "allpages")
		params.Set("gapnamespace", strconv.Itoa(ns))
		params.Set("gapfilterredir", "nonredirects")
		params.Set("gaplimit", "max")
		params.Set("prop", c.detailProps(false))
		params.Set("rdlimit", "max")
		params.Set("colimit", "max")
		params.Set("rawcontinue", "true")
		if gapContinue != "" {
			params.Set("gapcontinue", gapContinue)
		}
		for k, v := range sent {
			params.Set(k, v)
		}

		var resp queryResponse
		if err := c.getter.GetJSON(ctx, c.queryURL(params), &resp); err != nil {
			return nil, "", err
		}
		if err := c.checkResponse(ctx, &resp); err != nil {
			return nil, "", err
		}
		if resp.Query != nil {
			if err := mergePages(acc, resp.Query.Pages, sent); err != nil {
				return nil, "", err
			}
		}

		tokens := continuationTokens(&resp)
		if g, ok := tokens["gapcontinue"]; ok {
			nextGap = g
			delete(tokens, "gapcontinue")
		}
		if len(tokens) == 0 {
			break
		}
		sent = tokens
	}
	log.G(ctx).WithFields(log.Fields{"namespace": ns, "pages": len(acc), "gapcontinue": nextGap}).Debug("namespace page batch fetched")
	return c.normalize(acc), nextGap, nil
}

// mergePages folds one response page-set into the accumulator. sent holds
// the continuation cursors this request was issued with; on a continuation
// page (len(sent) > 0) incoming pages are first stripped down to the
// continued props.
func mergePages(acc map[string]*ArticleDetail, pages map[string]*ArticleDetail, sent map[string]string) error {
	continued := map[string]bool{}
	for token := range sent {
		if prop, ok := tokenProp[token]; ok {
			continued[prop] = true
		}
	}
	for id, page := range pages {
		if page == nil {
			continue
		}
		incoming := *page
		if len(sent) > 0 {
			retainProps(&incoming, continued)
		}
		existing, ok := acc[id]
		if !ok {
			cp := incoming
			acc[id] = &cp
			continue
		}
		if err := mergo.Merge(existing, incoming, mergo.WithAppendSlice); err != nil {
			return err
		}
	}
	return nil
}

func retainProps(d *ArticleDetail, keep map[string]bool) {
	if !keep["coordinates"] {
		d.Coordinates = nil
	}
	if !keep["categories"] {
		d.Categories = nil
	}
	if !keep["redirects"] {
		d.Redirects = nil
	}
	if !keep["revisions"] {
		d.Revisions = nil
	}
	if !keep["thumbnail"] {
		d.Thumbnail = nil
	}
}

// normalize re-keys the accumulated pages by title (spaces replaced by the
// delimiter), drops pages marked missing and flattens the head revision id.
func (c *Client) normalize(acc map[string]*ArticleDetail) map[string]ArticleDetail {
	out := make(map[string]ArticleDetail, len(acc))
	for _, page := range acc {
		if page == nil || page.Missing != nil || page.Title == "" {
			continue
		}
		d := *page
		if len(d.Revisions) > 0 {
			d.RevisionID = d.Revisions[0].RevID
		}
		out[c.spaceDelimit(d.Title)] = d
	}
	return out
}
