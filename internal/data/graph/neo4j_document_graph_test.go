package graph

import (
	"context"
	"os"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/platform/neo4jdb"
)

// testGraphStore connects to the database named by TEST_NEO4J_URI, mirroring
// the TEST_POSTGRES_DSN gate the repo integration tests use.
func testGraphStore(t *testing.T) DocumentGraph {
	t.Helper()

	uri := os.Getenv("TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("set TEST_NEO4J_URI to run graph integration tests")
	}
	t.Setenv("NEO4J_URI", uri)
	if v := os.Getenv("TEST_NEO4J_USER"); v != "" {
		t.Setenv("NEO4J_USER", v)
	}
	if v := os.Getenv("TEST_NEO4J_PASSWORD"); v != "" {
		t.Setenv("NEO4J_PASSWORD", v)
	}
	if v := os.Getenv("TEST_NEO4J_DATABASE"); v != "" {
		t.Setenv("NEO4J_DATABASE", v)
	}

	log, err := logger.New("test")
	require.NoError(t, err)

	client, err := neo4jdb.NewFromEnv(log)
	require.NoError(t, err)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	g := NewDocumentGraph(client, log)
	require.NoError(t, g.EnsureSchema(context.Background()))
	return g
}

// unitEmbedding points along one axis so cosine scores are predictable.
func unitEmbedding(axis int) []float32 {
	v := make([]float32, EmbeddingDimensions)
	v[axis] = 1
	return v
}

func seedDocument(t *testing.T, g DocumentGraph) (*types.Document, []*types.Chunk) {
	t.Helper()

	doc := &types.Document{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		Filename:    "contract.txt",
		DocType:     "legal",
		Model:       "claude",
	}
	chunks := []*types.Chunk{
		{ID: "chunk-" + doc.ID.String() + "-0", Index: 0, Text: "Acme Corp supplies Globex.", Embedding: unitEmbedding(0)},
		{ID: "chunk-" + doc.ID.String() + "-1", Index: 1, Text: "Payment terms are net thirty.", Embedding: unitEmbedding(1)},
	}
	entities := []*types.Entity{
		{Name: "Acme Corp", Type: "Organization", Description: "supplier"},
		{Name: "Globex", Type: "Organization", Description: "buyer"},
	}
	relationships := []*types.Relationship{
		{Source: "Acme Corp", Target: "Globex", Type: "SUPPLIES", ChunkID: chunks[0].ID},
	}

	require.NoError(t, g.ReplaceDocument(context.Background(), doc, chunks, entities, relationships))
	t.Cleanup(func() { _ = g.DeleteDocument(context.Background(), doc.ID) })
	return doc, chunks
}

func TestGraphReplaceDocumentSwapsWholeSet(t *testing.T) {
	g := testGraphStore(t)
	ctx := context.Background()

	doc, _ := seedDocument(t, g)

	stats, err := g.Stats(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, &DocumentStats{Chunks: 2, Entities: 2, Relationships: 1}, stats)

	// Reprocessing writes a different set; readers must never observe a mix
	// of the two.
	next := []*types.Chunk{
		{ID: "chunk-" + doc.ID.String() + "-v2", Index: 0, Text: "Amended contract text.", Embedding: unitEmbedding(2)},
	}
	require.NoError(t, g.ReplaceDocument(ctx, doc, next,
		[]*types.Entity{{Name: "Initech", Type: "Organization", Description: "assignee"}}, nil))

	stats, err = g.Stats(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, &DocumentStats{Chunks: 1, Entities: 1, Relationships: 0}, stats)

	res, err := g.EntitySearch(ctx, []string{"Acme"}, []uuid.UUID{doc.ID}, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Entities, "entities from the prior set must be gone")

	require.NoError(t, g.DeleteDocument(ctx, doc.ID))
	stats, err = g.Stats(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, &DocumentStats{}, stats)
}

func TestGraphVectorSearchTopKOrdering(t *testing.T) {
	g := testGraphStore(t)
	ctx := context.Background()

	doc, chunks := seedDocument(t, g)
	query := unitEmbedding(0)

	hits, err := g.VectorSearch(ctx, query, 1, []uuid.UUID{doc.ID})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunks[0].ID, hits[0].ID)

	hits, err = g.VectorSearch(ctx, query, 10, []uuid.UUID{doc.ID})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.LessOrEqual(t, len(hits), 10)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score, "scores must be non-increasing")
	}
	for _, h := range hits {
		assert.Equal(t, doc.ID, h.DocumentID)
	}

	// Scope filtering: a foreign document id yields nothing.
	hits, err = g.VectorSearch(ctx, query, 10, []uuid.UUID{uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGraphEntitySearchNeighborhood(t *testing.T) {
	g := testGraphStore(t)
	ctx := context.Background()

	doc, chunks := seedDocument(t, g)

	res, err := g.EntitySearch(ctx, []string{"Acme"}, []uuid.UUID{doc.ID}, 1)
	require.NoError(t, err)

	require.NotEmpty(t, res.Entities)
	byName := map[string]*EntityHit{}
	for _, e := range res.Entities {
		byName[e.Name] = e
	}
	require.Contains(t, byName, "Acme Corp")
	assert.Equal(t, 0, byName["Acme Corp"].Hops)
	require.Contains(t, byName, "Globex")
	assert.Equal(t, 1, byName["Globex"].Hops)

	require.Len(t, res.Relationships, 1)
	assert.Equal(t, "SUPPLIES", res.Relationships[0].Type)
	assert.Equal(t, chunks[0].ID, res.Relationships[0].ChunkID)

	require.Len(t, res.Chunks, 1)
	assert.Equal(t, chunks[0].ID, res.Chunks[0].ID)
}

func TestTruncateStringRuneBoundary(t *testing.T) {
	s := "héllo wörld 日本語テキスト"
	for max := 0; max <= len(s)+1; max++ {
		got := truncateString(s, max)
		assert.True(t, utf8.ValidString(got), "max=%d produced invalid UTF-8: %q", max, got)
		if max > 0 {
			assert.LessOrEqual(t, len(got), max)
		}
	}
	assert.Equal(t, "abc", truncateString("abc", 10))
	assert.Equal(t, "ab", truncateString("abcd", 2))
}
