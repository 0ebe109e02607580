package mwapi

import (
	"context"
	"fmt"
	"net/url"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// FormPoster sends one urlencoded POST and decodes the JSON response. The
// downloader implements it with the same HTTP client whose cookie jar then
// carries the session for every later request.
type FormPoster interface {
	PostJSON(ctx context.Context, url string, form url.Values, v any) error
}

type loginResponse struct {
	Login struct {
		Result string `json:"result"`
		Reason string `json:"reason"`
	} `json:"login"`
	Error *apiError `json:"error,omitempty"`
}

// Login authenticates against the wiki: a login token is fetched first,
// then posted together with the credentials. On success the session cookie
// stays in the poster's jar.
func (c *Client) Login(ctx context.Context, poster FormPoster, username, password string) error {
	params := url.Values{}
	params.Set("meta", "tokens")
	params.Set("type", "login")
	var tokens queryResponse
	if err := c.getter.GetJSON(ctx, c.queryURL(params), &tokens); err != nil {
		return fmt.Errorf("fetching login token: %w", err)
	}
	token := ""
	if tokens.Query != nil {
		token = tokens.Query.Tokens["logintoken"]
	}
	if token == "" {
		return fmt.Errorf("%w: wiki returned no login token", errdefs.ErrUnauthenticated)
	}

	form := url.Values{}
	form.Set("action", "login")
	form.Set("format", "json")
	form.Set("lgname", username)
	form.Set("lgpassword", password)
	form.Set("lgtoken", token)
	var resp loginResponse
	if err := poster.PostJSON(ctx, c.apiURL, form, &resp); err != nil {
		return fmt.Errorf("posting login: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrUnauthenticated, resp.Error)
	}
	if resp.Login.Result != "Success" {
		return fmt.Errorf("%w: login %s: %s", errdefs.ErrUnauthenticated, resp.Login.Result, resp.Login.Reason)
	}
	log.G(ctx).WithField("user", username).Info("logged in")
	return nil
}
