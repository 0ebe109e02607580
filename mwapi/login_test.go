package mwapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

// plainPoster is the test stand-in for the downloader's form POST.
type plainPoster struct{}

func (plainPoster) PostJSON(ctx context.Context, rawURL string, form url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func loginHandler(t *testing.T, result, reason string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			assert.Check(t, is.Equal(r.URL.Query().Get("meta"), "tokens"))
			assert.Check(t, is.Equal(r.URL.Query().Get("type"), "login"))
			w.Write([]byte(`{"query": {"tokens": {"logintoken": "abc+\\"}}}`))
			return
		}
		assert.NilError(t, r.ParseForm())
		assert.Check(t, is.Equal(r.PostForm.Get("action"), "login"))
		assert.Check(t, is.Equal(r.PostForm.Get("lgname"), "bot"))
		assert.Check(t, is.Equal(r.PostForm.Get("lgtoken"), `abc+\`))
		resp := map[string]map[string]string{"login": {"result": result}}
		if reason != "" {
			resp["login"]["reason"] = reason
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, loginHandler(t, "Success", ""))
	err := client.Login(context.Background(), plainPoster{}, "bot", "hunter2")
	assert.NilError(t, err)
}

func TestLoginFailure(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, loginHandler(t, "Failed", "Incorrect username or password entered."))
	err := client.Login(context.Background(), plainPoster{}, "bot", "wrong")
	assert.Assert(t, errdefs.IsUnauthorized(err))
	assert.ErrorContains(t, err, "Incorrect username or password")
}

func TestLoginMissingToken(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query": {}}`))
	})
	err := client.Login(context.Background(), plainPoster{}, "bot", "hunter2")
	assert.Assert(t, errdefs.IsUnauthorized(err))
}
