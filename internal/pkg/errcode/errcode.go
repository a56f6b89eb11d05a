package errcode

// Codes returned in the "code" field of failed responses.
const (
	ErrUnknown = 10000000 + iota
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrTooMany
	ErrInternal

	// upload route
	ErrInvalidFile
	ErrUploadFailed

	ErrAIUnavailable
	ErrProviderFailure

	// knowledge and ingestion
	ErrUnknownItem
	ErrInvalidSourceType
	ErrInvalidGithubURL
	ErrScopeRejected
	ErrEmptyKnowledgeBase
)
