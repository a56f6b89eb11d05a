package model

// Tenant is an isolated knowledge-base scope keyed by a normalized source URL.
type Tenant struct {
	Key        string `json:"key"`
	SourceURL  string `json:"source_url"`
	Collection string `json:"collection"`
}
