package model

type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeCode  ChunkType = "code"
	ChunkTypeMixed ChunkType = "mixed"
)

type Chunk struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	SourceFile string            `json:"source_file"`
	Position   int               `json:"position"`
	ChunkType  ChunkType         `json:"chunk_type"`
	Content    string            `json:"content"`
	TokenCount int               `json:"token_count"`
	Embedding  []float32         `json:"-"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Ctime      int64             `json:"ctime"`
}

type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}
