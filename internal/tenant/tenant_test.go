package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingEnsurer struct {
	calls []string
}

func (r *recordingEnsurer) EnsureCollection(ctx context.Context, collection string) error {
	r.calls = append(r.calls, collection)
	return nil
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "https://example.com", want: "https://example.com"},
		{name: "trailing slash", in: "https://example.com/", want: "https://example.com"},
		{name: "git suffix", in: "https://github.com/owner/repo.git", want: "https://github.com/owner/repo"},
		{name: "git suffix and slash", in: "https://github.com/owner/repo.git/", want: "https://github.com/owner/repo"},
		{name: "host case", in: "HTTPS://GitHub.com/owner/repo", want: "https://github.com/owner/repo"},
		{name: "default port", in: "https://example.com:443/docs/", want: "https://example.com/docs"},
		{name: "custom port", in: "http://example.com:8080/docs", want: "http://example.com:8080/docs"},
		{name: "query and fragment", in: "https://example.com/docs?x=1#top", want: "https://example.com/docs"},
		{name: "no scheme", in: "example.com/docs", want: "https://example.com/docs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestPageIdentifierKeepsQuery(t *testing.T) {
	got, err := PageIdentifier("https://Docs.Example.com/view/?id=5#top")
	require.NoError(t, err)
	require.Equal(t, "https://docs.example.com/view?id=5", got)

	got, err = PageIdentifier("https://docs.example.com/guide/")
	require.NoError(t, err)
	require.Equal(t, "https://docs.example.com/guide", got)
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	_, err := Normalize("  ")
	require.Error(t, err)
}

func TestResolveIsDeterministic(t *testing.T) {
	ensurer := &recordingEnsurer{}
	r := NewResolver(ensurer)
	a, err := r.Resolve(context.Background(), "https://github.com/owner/repo.git")
	require.NoError(t, err)
	b, err := r.Resolve(context.Background(), "https://github.com/owner/repo/")
	require.NoError(t, err)
	require.Equal(t, a.Key, b.Key)
	require.Equal(t, a.Collection, b.Collection)
	require.Equal(t, CollectionName("https://github.com/owner/repo"), a.Collection)
	require.Len(t, ensurer.calls, 2)

	other, err := r.Resolve(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.NotEqual(t, a.Collection, other.Collection)
}

func TestResolveUnknownTenantSucceeds(t *testing.T) {
	r := NewResolver(nil)
	got, err := r.Resolve(context.Background(), "https://never-ingested.example/")
	require.NoError(t, err)
	require.Equal(t, "https://never-ingested.example", got.Key)
}
