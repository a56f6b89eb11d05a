package model

// CachedEmbedding is a stored vector keyed by (Model, Task, Hash), where Hash
// is the sha256 of the embedded text.
type CachedEmbedding struct {
	Model  string
	Task   string
	Hash   string
	Vector []float32
	Ctime  int64
}
