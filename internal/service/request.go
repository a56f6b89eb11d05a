package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

var validate = validator.New()

type ChatRequest struct {
	Question        string   `json:"question" validate:"required"`
	URL             string   `json:"url" validate:"required"`
	UserLanguage    string   `json:"user_language"`
	UserID          string   `json:"user_id" validate:"required"`
	Temperature     *float32 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty" validate:"omitempty,gt=0,lte=32768"`
}

type HistoryRequest struct {
	URL    string `json:"url" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

type KnowledgeRequest struct {
	Item string `json:"item" validate:"required"`
	Type string `json:"type" validate:"required"`
}

// SourceType resolves the raw type into a known source type.
func (r *KnowledgeRequest) SourceType() (model.SourceType, error) {
	typ, ok := model.ParseSourceType(strings.ToLower(strings.TrimSpace(r.Type)))
	if !ok {
		return "", fmt.Errorf("%w: %q", appErr.ErrInvalidSourceType, r.Type)
	}
	return typ, nil
}

type ScrapeRequest struct {
	URL         string `json:"url" validate:"required"`
	GithubToken string `json:"github_token,omitempty"`
}

type GithubIngestRequest struct {
	GithubURL   string `json:"github_url" validate:"required"`
	GithubToken string `json:"github_token,omitempty"`
}

// Validate checks a request struct against its tags. Failures wrap
// errors.ErrInvalid and name the offending fields.
func Validate(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", appErr.ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", appErr.ErrInvalid, strings.Join(msgs, ", "))
}
