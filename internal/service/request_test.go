package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

func TestValidate(t *testing.T) {
	err := Validate(&ChatRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Contains(t, err.Error(), "Question failed on required")
	require.Contains(t, err.Error(), "UserID failed on required")

	zero := 0
	err = Validate(&ChatRequest{Question: "q", URL: "u", UserID: "u1", MaxOutputTokens: &zero})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	require.NoError(t, Validate(&ChatRequest{Question: "q", URL: "u", UserID: "u1"}))
	require.NoError(t, Validate(&GithubIngestRequest{GithubURL: "https://github.com/a/b"}))
	require.Error(t, Validate(&HistoryRequest{URL: "u"}))
}

func TestKnowledgeRequestSourceType(t *testing.T) {
	typ, err := (&KnowledgeRequest{Item: "x", Type: " URL "}).SourceType()
	require.NoError(t, err)
	require.Equal(t, model.SourceTypeURL, typ)

	typ, err = (&KnowledgeRequest{Item: "x", Type: "file"}).SourceType()
	require.NoError(t, err)
	require.Equal(t, model.SourceTypeFile, typ)

	_, err = (&KnowledgeRequest{Item: "x", Type: "ftp"}).SourceType()
	require.ErrorIs(t, err, appErr.ErrInvalidSourceType)
}
