package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/docmesh/graphrag-backend/internal/domain"
)

func TestParseExtractionValid(t *testing.T) {
	raw := `{
		"entities": [
			{"name": "Neo4j", "type": "Technology", "description": "graph database"},
			{"name": "Acme Corp", "type": "Organization", "description": "vendor"}
		],
		"relationships": [
			{"source": "Acme Corp", "target": "Neo4j", "type": "USES"}
		]
	}`

	ex, err := ParseExtraction(raw, "chunk-1")
	require.NoError(t, err)
	require.Len(t, ex.Entities, 2)
	require.Len(t, ex.Relationships, 1)
	assert.Equal(t, "Neo4j", ex.Entities[0].Name)
	assert.Equal(t, "chunk-1", ex.Relationships[0].ChunkID)
}

func TestParseExtractionStripsFences(t *testing.T) {
	raw := "```json\n{\"entities\": [{\"name\": \"A\", \"type\": \"T\", \"description\": \"d\"}], \"relationships\": []}\n```"
	ex, err := ParseExtraction(raw, "c")
	require.NoError(t, err)
	require.Len(t, ex.Entities, 1)
	assert.Equal(t, "A", ex.Entities[0].Name)
}

func TestParseExtractionRepairsMissingKeyQuote(t *testing.T) {
	// Missing opening quote on "type".
	raw := `{"entities": [{"name": "A", type": "T", "description": "d"}], "relationships": []}`
	ex, err := ParseExtraction(raw, "c")
	require.NoError(t, err)
	require.Len(t, ex.Entities, 1)
	assert.Equal(t, "T", ex.Entities[0].Type)
}

func TestParseExtractionRejectsGarbage(t *testing.T) {
	_, err := ParseExtraction("not json at all", "c")
	assert.Error(t, err)

	_, err = ParseExtraction("", "c")
	assert.Error(t, err)
}

func TestParseExtractionRejectsEmptyNames(t *testing.T) {
	_, err := ParseExtraction(`{"entities": [{"name": "", "type": "T"}], "relationships": []}`, "c")
	assert.Error(t, err)

	_, err = ParseExtraction(`{"entities": [], "relationships": [{"source": "", "target": "B", "type": "R"}]}`, "c")
	assert.Error(t, err)
}

func TestParseExtractionDeduplicatesEntities(t *testing.T) {
	raw := `{"entities": [
		{"name": "Acme  Corp", "type": "Org", "description": "first"},
		{"name": "acme corp", "type": "Org", "description": "second"}
	], "relationships": []}`
	ex, err := ParseExtraction(raw, "c")
	require.NoError(t, err)
	assert.Len(t, ex.Entities, 1)
}

func TestMergeExtractionsLastWriteWins(t *testing.T) {
	a := &Extraction{
		Entities: []*types.Entity{
			{Name: "Acme", Type: "Org", Description: "from chunk 0"},
		},
		Relationships: []*types.Relationship{
			{Source: "Acme", Target: "Neo4j", Type: "USES", ChunkID: "c0"},
		},
	}
	b := &Extraction{
		Entities: []*types.Entity{
			{Name: "ACME", Type: "Company", Description: "from chunk 1"},
			{Name: "Neo4j", Type: "Technology", Description: "db"},
		},
		Relationships: []*types.Relationship{
			{Source: "Neo4j", Target: "Acme", Type: "USED_BY", ChunkID: "c1"},
		},
	}

	entities, rels := MergeExtractions([]*Extraction{a, b})
	require.Len(t, entities, 2)
	assert.Equal(t, "Acme", entities[0].Name)
	assert.Equal(t, "Company", entities[0].Type)
	assert.Equal(t, "from chunk 1", entities[0].Description)
	assert.Len(t, rels, 2)
}

func TestExtractionPromptFallsBackToGeneric(t *testing.T) {
	genericSystem, _ := ExtractionPrompt("generic", "text")
	unknownSystem, user := ExtractionPrompt("unknown-type", "text")
	assert.Equal(t, genericSystem, unknownSystem)
	assert.Contains(t, user, "text")

	for _, dt := range []string{"generic", "legal", "medical", "technical", "financial", "aesthetics", "health", "it"} {
		system, _ := ExtractionPrompt(dt, "x")
		assert.Contains(t, system, `"entities"`, "doc type %s must carry the output contract", dt)
	}
}
