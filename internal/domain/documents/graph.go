package documents

import "strings"

// Graph value types persisted in the graph store rather than Postgres.
// Chunks are immutable once written; a reprocess replaces the whole set.

type Chunk struct {
	ID        string    `json:"id"`
	Index     int       `json:"index"`
	Text      string    `json:"text"`
	Overlap   int       `json:"overlap"`
	Embedding []float32 `json:"embedding,omitempty"`
}

type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type Relationship struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Type    string `json:"type"`
	ChunkID string `json:"chunk_id,omitempty"`
}

// NormalizeName is the canonical form used to merge entities within one
// document and to key entity nodes in the graph.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
