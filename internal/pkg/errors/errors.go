package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalid     = errors.New("invalid")
	ErrConflict    = errors.New("conflict")
	ErrTooMany     = errors.New("too many requests")
	ErrInternal    = errors.New("internal")
	ErrUnavailable = errors.New("ai provider unavailable")

	// ErrTenantNotFound is part of the taxonomy but resolution always succeeds lazily.
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrEmptyKnowledgeBase = errors.New("empty knowledge base")
	ErrUnknownItem        = errors.New("unknown knowledge item")
	ErrInvalidSourceType  = errors.New("invalid source type")
	ErrInvalidGithubURL   = errors.New("invalid github url")
	ErrScopeRejected      = errors.New("scope rejected")
)

type ProviderKind string

const (
	KindTranslation ProviderKind = "translation"
	KindGeneration  ProviderKind = "generation"
	KindFetch       ProviderKind = "fetch"
	KindEmbedding   ProviderKind = "embedding"
)

// ProviderError is a failure at the boundary of an external provider.
type ProviderError struct {
	Kind     ProviderKind
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failure (%s): %v", e.Kind, e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func NewProviderError(kind ProviderKind, provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind == kind {
		return err
	}
	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func IsProviderFailure(err error, kind ProviderKind) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Kind == kind
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
