package model

type SourceType string

const (
	SourceTypeFile SourceType = "file"
	SourceTypeURL  SourceType = "url"
)

func ParseSourceType(v string) (SourceType, bool) {
	switch SourceType(v) {
	case SourceTypeFile, SourceTypeURL:
		return SourceType(v), true
	}
	return "", false
}

type KnowledgeItem struct {
	Type       SourceType `json:"type"`
	Identifier string     `json:"identifier"`
	Tenant     string     `json:"tenant"`
	Collection string     `json:"collection"`
	ChunkCount int        `json:"chunk_count"`
	IngestedAt int64      `json:"ingested_at"`
}

// TrackingRegistry is the snapshot of every ingested item, split by type.
type TrackingRegistry struct {
	Files map[string]KnowledgeItem `json:"files"`
	URLs  map[string]KnowledgeItem `json:"urls"`
}

func NewTrackingRegistry() *TrackingRegistry {
	return &TrackingRegistry{
		Files: make(map[string]KnowledgeItem),
		URLs:  make(map[string]KnowledgeItem),
	}
}

func (r *TrackingRegistry) Put(item KnowledgeItem) {
	switch item.Type {
	case SourceTypeFile:
		r.Files[item.Identifier] = item
	case SourceTypeURL:
		r.URLs[item.Identifier] = item
	}
}
