package fetcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/kbchat/internal/config"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

func newGithubServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/repos/acme/docs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"name": "docs", "default_branch": "trunk"})
	})
	mux.HandleFunc("/repos/acme/docs/git/trees/trunk", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("recursive") != "1" {
			http.Error(w, "not recursive", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]interface{}{
			"sha": "root",
			"tree": []map[string]interface{}{
				{"path": "README.md", "type": "blob", "sha": "a", "size": 10},
				{"path": "src", "type": "tree", "sha": "b"},
				{"path": "src/main.go", "type": "blob", "sha": "c", "size": 20},
				{"path": "logo.png", "type": "blob", "sha": "d", "size": 30},
				{"path": "vendor/lib/lib.go", "type": "blob", "sha": "e", "size": 40},
			},
		})
	})
	mux.HandleFunc("/repos/acme/docs/contents/README.md", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ref") != "trunk" {
			http.Error(w, "bad ref", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]interface{}{
			"type":     "file",
			"name":     "README.md",
			"path":     "README.md",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("# Docs\n")),
		})
	})
	mux.HandleFunc("/repos/acme/private", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	})
	stall := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
			writeJSON(w, map[string]interface{}{"name": "slow", "default_branch": "main"})
		}
	}
	mux.HandleFunc("/repos/acme/slow", stall)
	mux.HandleFunc("/repos/acme/slow/", stall)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestParseRepoURL(t *testing.T) {
	ref, err := ParseRepoURL("https://github.com/acme/docs.git")
	require.NoError(t, err)
	require.Equal(t, RepoRef{Owner: "acme", Repo: "docs"}, ref)
	require.Equal(t, "https://github.com/acme/docs", ref.URL())

	ref, err = ParseRepoURL("https://github.com/acme/docs/tree/main/guide")
	require.NoError(t, err)
	require.Equal(t, "acme/docs", ref.String())

	for _, bad := range []string{
		"http://github.com/acme/docs",
		"https://gitlab.com/acme/docs",
		"https://github.com/acme",
		"https://github.com/",
		"github.com/acme/docs",
	} {
		_, err := ParseRepoURL(bad)
		require.ErrorIs(t, err, appErr.ErrInvalidGithubURL, bad)
	}
}

func TestGithubListFilesAndContent(t *testing.T) {
	srv := newGithubServer(t)
	g := NewGithubFetcher(config.GithubConfig{}, WithGithubBaseURL(srv.URL))
	ref := RepoRef{Owner: "acme", Repo: "docs"}

	files, branch, err := g.ListFiles(context.Background(), ref, "")
	require.NoError(t, err)
	require.Equal(t, "trunk", branch)
	require.Len(t, files, 2)
	require.Equal(t, "README.md", files[0].Path)
	require.Equal(t, "src/main.go", files[1].Path)

	text, err := g.GetFileContent(context.Background(), ref, branch, "README.md", "")
	require.NoError(t, err)
	require.Equal(t, "# Docs\n", text)

	_, err = g.GetFileContent(context.Background(), ref, branch, "missing.md", "")
	require.True(t, appErr.IsProviderFailure(err, appErr.KindFetch))
	require.False(t, IsAuthError(err))
}

func TestGithubMaxFiles(t *testing.T) {
	srv := newGithubServer(t)
	g := NewGithubFetcher(config.GithubConfig{MaxFiles: 1}, WithGithubBaseURL(srv.URL))
	files, _, err := g.ListFiles(context.Background(), RepoRef{Owner: "acme", Repo: "docs"}, "tok")
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestGithubAuthFailure(t *testing.T) {
	srv := newGithubServer(t)
	g := NewGithubFetcher(config.GithubConfig{}, WithGithubBaseURL(srv.URL))
	_, _, err := g.ListFiles(context.Background(), RepoRef{Owner: "acme", Repo: "private"}, "bad")
	require.Error(t, err)
	require.True(t, appErr.IsProviderFailure(err, appErr.KindFetch))
	require.True(t, IsAuthError(err))
	require.False(t, IsAuthError(errors.New("plain")))
}

func TestGithubCallsAreBoundedByTimeout(t *testing.T) {
	srv := newGithubServer(t)
	g := NewGithubFetcher(config.GithubConfig{}, WithGithubBaseURL(srv.URL), WithGithubTimeout(100*time.Millisecond))
	ref := RepoRef{Owner: "acme", Repo: "slow"}

	start := time.Now()
	_, _, err := g.ListFiles(context.Background(), ref, "")
	require.Error(t, err)
	require.True(t, appErr.IsProviderFailure(err, appErr.KindFetch))
	require.Less(t, time.Since(start), 2*time.Second)

	start = time.Now()
	_, err = g.GetFileContent(context.Background(), ref, "main", "README.md", "token")
	require.Error(t, err)
	require.True(t, appErr.IsProviderFailure(err, appErr.KindFetch))
	require.Less(t, time.Since(start), 2*time.Second)
}
