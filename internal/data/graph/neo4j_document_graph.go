// Package graph persists the per-document knowledge graph and chunk vector
// index in Neo4j. Node model:
//
//	(:Document {id})
//	(:Chunk {id, document_id, index, text, embedding})-[:PART_OF]->(:Document)
//	(c1)-[:NEXT_CHUNK]->(c2) in index order
//	(:Entity {key, document_id, name, type, description})-[:IN_DOCUMENT]->(:Document)
//	(:Entity)-[:RELATED_TO {type, chunk_id}]->(:Entity)
//	(:Chunk)-[:MENTIONS]->(:Entity) via relationship provenance
//
// A document's subtree is replaced wholesale inside one managed write
// transaction, so readers observe either the old set or the new set.
package graph

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/platform/neo4jdb"
)

const vectorIndexName = "chunk_embedding_index"

// EmbeddingDimensions matches text-embedding-3-small.
const EmbeddingDimensions = 1536

// ChunkHit is a chunk returned by retrieval, with a similarity score for
// vector hits and zero for provenance-only hits.
type ChunkHit struct {
	ID         string    `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Score      float64   `json:"score"`
}

// EntityHit carries the hop distance from the matched seed entity:
// 0 for a direct name match, 1 or 2 for neighborhood expansion.
type EntityHit struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	DocumentID  uuid.UUID `json:"document_id"`
	Hops        int       `json:"hops"`
}

type RelationshipEdge struct {
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Type       string    `json:"type"`
	DocumentID uuid.UUID `json:"document_id"`
	ChunkID    string    `json:"chunk_id,omitempty"`
}

// GraphResult is the neighborhood returned by EntitySearch: matched and
// expanded entities, the edges between them, and their provenance chunks.
type GraphResult struct {
	Entities      []*EntityHit        `json:"entities"`
	Relationships []*RelationshipEdge `json:"relationships"`
	Chunks        []*ChunkHit         `json:"chunks"`
}

type DocumentStats struct {
	Chunks        int64 `json:"chunks"`
	Entities      int64 `json:"entities"`
	Relationships int64 `json:"relationships"`
}

type DocumentGraph interface {
	EnsureSchema(ctx context.Context) error
	ReplaceDocument(ctx context.Context, doc *types.Document, chunks []*types.Chunk, entities []*types.Entity, relationships []*types.Relationship) error
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error
	VectorSearch(ctx context.Context, embedding []float32, topK int, documentIDs []uuid.UUID) ([]*ChunkHit, error)
	EntitySearch(ctx context.Context, terms []string, documentIDs []uuid.UUID, maxHops int) (*GraphResult, error)
	Stats(ctx context.Context, documentID uuid.UUID) (*DocumentStats, error)
}

type documentGraph struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewDocumentGraph(client *neo4jdb.Client, baseLog *logger.Logger) DocumentGraph {
	return &documentGraph{
		client: client,
		log:    baseLog.With("component", "DocumentGraph"),
	}
}

func (g *documentGraph) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return g.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: g.client.Database,
	})
}

func (g *documentGraph) EnsureSchema(ctx context.Context) error {
	if g.client == nil || g.client.Driver == nil {
		return nil
	}
	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT document_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT chunk_id_unique IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT entity_key_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.key IS UNIQUE`,
		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
FOR (c:Chunk) ON (c.embedding)
OPTIONS {indexConfig: {
  `+"`vector.dimensions`"+`: %d,
  `+"`vector.similarity_function`"+`: 'cosine'
}}`, vectorIndexName, EmbeddingDimensions),
	}
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return err
		}
		if _, err := res.Consume(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceDocument deletes the document's prior subtree and writes the new
// chunks, entities and relationships in a single write transaction.
func (g *documentGraph) ReplaceDocument(ctx context.Context, doc *types.Document, chunks []*types.Chunk, entities []*types.Entity, relationships []*types.Relationship) error {
	if g.client == nil || g.client.Driver == nil {
		return fmt.Errorf("graph store is not configured")
	}
	if doc == nil || doc.ID == uuid.Nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	docID := doc.ID.String()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	chunkRows := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		if c == nil || c.ID == "" {
			continue
		}
		chunkRows = append(chunkRows, map[string]any{
			"id":          c.ID,
			"document_id": docID,
			"index":       int64(c.Index),
			"text":        c.Text,
			"embedding":   floats64(c.Embedding),
			"synced_at":   now,
		})
	}

	entityRows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e == nil || e.Name == "" {
			continue
		}
		norm := types.NormalizeEntityName(e.Name)
		entityRows = append(entityRows, map[string]any{
			"key":         docID + ":" + norm,
			"document_id": docID,
			"name":        e.Name,
			"norm":        norm,
			"type":        e.Type,
			"description": truncateString(e.Description, 900),
			"synced_at":   now,
		})
	}

	relRows := make([]map[string]any, 0, len(relationships))
	for _, r := range relationships {
		if r == nil || r.Source == "" || r.Target == "" {
			continue
		}
		relRows = append(relRows, map[string]any{
			"source_key": docID + ":" + types.NormalizeEntityName(r.Source),
			"target_key": docID + ":" + types.NormalizeEntityName(r.Target),
			"type":       r.Type,
			"chunk_id":   r.ChunkID,
			"synced_at":  now,
		})
	}

	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Drop the prior run's subtree so the swap is all-or-nothing.
		if res, err := tx.Run(ctx, `
MATCH (d:Document {id: $id})
OPTIONAL MATCH (c:Chunk {document_id: $id})
OPTIONAL MATCH (e:Entity {document_id: $id})
DETACH DELETE c, e
WITH DISTINCT d
SET d.synced_at = $synced_at
`, map[string]any{"id": docID, "synced_at": now}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if res, err := tx.Run(ctx, `
MERGE (d:Document {id: $id})
SET d.filename = $filename,
    d.doc_type = $doc_type,
    d.model = $model,
    d.owner_user_id = $owner_user_id,
    d.synced_at = $synced_at
`, map[string]any{
			"id":            docID,
			"filename":      doc.Filename,
			"doc_type":      doc.DocType,
			"model":         doc.Model,
			"owner_user_id": doc.OwnerUserID.String(),
			"synced_at":     now,
		}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(chunkRows) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $chunks AS ch
MATCH (d:Document {id: ch.document_id})
CREATE (c:Chunk {id: ch.id})
SET c.document_id = ch.document_id,
    c.index = ch.index,
    c.text = ch.text,
    c.synced_at = ch.synced_at
WITH c, ch, d
CALL db.create.setNodeVectorProperty(c, 'embedding', ch.embedding)
MERGE (c)-[:PART_OF]->(d)
`, map[string]any{"chunks": chunkRows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}

			res, err = tx.Run(ctx, `
MATCH (c:Chunk {document_id: $id})
WITH c ORDER BY c.index ASC
WITH collect(c) AS ordered
UNWIND range(0, size(ordered) - 2) AS i
WITH ordered[i] AS a, ordered[i + 1] AS b
MERGE (a)-[:NEXT_CHUNK]->(b)
`, map[string]any{"id": docID})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(entityRows) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $entities AS ent
MATCH (d:Document {id: ent.document_id})
MERGE (e:Entity {key: ent.key})
SET e.document_id = ent.document_id,
    e.name = ent.name,
    e.norm = ent.norm,
    e.type = ent.type,
    e.description = ent.description,
    e.synced_at = ent.synced_at
MERGE (e)-[:IN_DOCUMENT]->(d)
`, map[string]any{"entities": entityRows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(relRows) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rels AS r
MATCH (s:Entity {key: r.source_key})
MATCH (t:Entity {key: r.target_key})
CREATE (s)-[e:RELATED_TO]->(t)
SET e.type = r.type,
    e.chunk_id = r.chunk_id,
    e.synced_at = r.synced_at
`, map[string]any{"rels": relRows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}

			// Provenance: link the chunk a relationship was extracted from
			// to both endpoint entities.
			res, err = tx.Run(ctx, `
UNWIND $rels AS r
MATCH (c:Chunk {id: r.chunk_id})
MATCH (s:Entity {key: r.source_key})
MATCH (t:Entity {key: r.target_key})
MERGE (c)-[:MENTIONS]->(s)
MERGE (c)-[:MENTIONS]->(t)
`, map[string]any{"rels": relRows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		return nil, nil
	})
	return err
}

func (g *documentGraph) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	if g.client == nil || g.client.Driver == nil {
		return nil
	}
	if documentID == uuid.Nil {
		return nil
	}
	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
OPTIONAL MATCH (c:Chunk {document_id: $id})
OPTIONAL MATCH (e:Entity {document_id: $id})
OPTIONAL MATCH (d:Document {id: $id})
DETACH DELETE c, e, d
`, map[string]any{"id": documentID.String()})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// VectorSearch queries the chunk vector index and post-filters by document
// scope. The index is asked for extra candidates so scope filtering still
// fills topK.
func (g *documentGraph) VectorSearch(ctx context.Context, embedding []float32, topK int, documentIDs []uuid.UUID) ([]*ChunkHit, error) {
	if g.client == nil || g.client.Driver == nil {
		return nil, fmt.Errorf("graph store is not configured")
	}
	if topK <= 0 {
		topK = 5
	}
	if len(embedding) == 0 || len(documentIDs) == 0 {
		return []*ChunkHit{}, nil
	}

	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	candidates := topK * 4
	if candidates < 20 {
		candidates = 20
	}

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
CALL db.index.vector.queryNodes($index, $candidates, $embedding)
YIELD node, score
WHERE node.document_id IN $document_ids
RETURN node.id AS id,
       node.document_id AS document_id,
       node.index AS idx,
       node.text AS text,
       score
ORDER BY score DESC
LIMIT $top_k
`, map[string]any{
			"index":        vectorIndexName,
			"candidates":   candidates,
			"embedding":    floats64(embedding),
			"document_ids": uuidStrings(documentIDs),
			"top_k":        topK,
		})
		if err != nil {
			return nil, err
		}

		var hits []*ChunkHit
		for res.Next(ctx) {
			rec := res.Record()
			hit, err := chunkHitFromRecord(rec)
			if err != nil {
				return nil, err
			}
			hits = append(hits, hit)
		}
		return hits, res.Err()
	})
	if err != nil {
		return nil, err
	}
	hits, _ := out.([]*ChunkHit)
	if hits == nil {
		hits = []*ChunkHit{}
	}
	return hits, nil
}

// EntitySearch matches entities by normalized-name containment and expands
// their neighborhood up to maxHops (clamped to 1..2).
func (g *documentGraph) EntitySearch(ctx context.Context, terms []string, documentIDs []uuid.UUID, maxHops int) (*GraphResult, error) {
	if g.client == nil || g.client.Driver == nil {
		return nil, fmt.Errorf("graph store is not configured")
	}
	result := &GraphResult{
		Entities:      []*EntityHit{},
		Relationships: []*RelationshipEdge{},
		Chunks:        []*ChunkHit{},
	}
	if len(terms) == 0 || len(documentIDs) == 0 {
		return result, nil
	}
	if maxHops < 1 {
		maxHops = 1
	}
	if maxHops > 2 {
		maxHops = 2
	}

	normTerms := make([]string, 0, len(terms))
	for _, t := range terms {
		if n := types.NormalizeEntityName(t); n != "" {
			normTerms = append(normTerms, n)
		}
	}
	if len(normTerms) == 0 {
		return result, nil
	}

	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	docIDs := uuidStrings(documentIDs)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
MATCH (seed:Entity)
WHERE seed.document_id IN $document_ids
  AND any(term IN $terms WHERE seed.norm CONTAINS term)
OPTIONAL MATCH path = (seed)-[:RELATED_TO*1..%d]-(nb:Entity)
WHERE nb.document_id IN $document_ids
WITH seed, nb, CASE WHEN nb IS NULL THEN 0 ELSE length(path) END AS hops
UNWIND [x IN [[seed, 0], [nb, hops]] WHERE x[0] IS NOT NULL] AS pair
WITH pair[0] AS e, min(pair[1]) AS hops
RETURN e.name AS name,
       e.type AS type,
       e.description AS description,
       e.document_id AS document_id,
       hops
ORDER BY hops ASC, name ASC
`, maxHops), map[string]any{
			"document_ids": docIDs,
			"terms":        normTerms,
		})
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			rec := res.Record()
			docID, err := uuidField(rec, "document_id")
			if err != nil {
				return nil, err
			}
			result.Entities = append(result.Entities, &EntityHit{
				Name:        stringField(rec, "name"),
				Type:        stringField(rec, "type"),
				Description: stringField(rec, "description"),
				DocumentID:  docID,
				Hops:        int(intField(rec, "hops")),
			})
		}
		if err := res.Err(); err != nil {
			return nil, err
		}

		entityNames := make([]string, 0, len(result.Entities))
		for _, e := range result.Entities {
			entityNames = append(entityNames, types.NormalizeEntityName(e.Name))
		}
		if len(entityNames) == 0 {
			return nil, nil
		}

		res, err = tx.Run(ctx, `
MATCH (s:Entity)-[r:RELATED_TO]->(t:Entity)
WHERE s.document_id IN $document_ids
  AND s.norm IN $names AND t.norm IN $names
RETURN s.name AS source, t.name AS target, r.type AS type,
       s.document_id AS document_id, r.chunk_id AS chunk_id
`, map[string]any{"document_ids": docIDs, "names": entityNames})
		if err != nil {
			return nil, err
		}
		chunkIDSet := map[string]struct{}{}
		for res.Next(ctx) {
			rec := res.Record()
			docID, err := uuidField(rec, "document_id")
			if err != nil {
				return nil, err
			}
			edge := &RelationshipEdge{
				Source:     stringField(rec, "source"),
				Target:     stringField(rec, "target"),
				Type:       stringField(rec, "type"),
				DocumentID: docID,
				ChunkID:    stringField(rec, "chunk_id"),
			}
			result.Relationships = append(result.Relationships, edge)
			if edge.ChunkID != "" {
				chunkIDSet[edge.ChunkID] = struct{}{}
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		if len(chunkIDSet) == 0 {
			return nil, nil
		}

		chunkIDs := make([]string, 0, len(chunkIDSet))
		for id := range chunkIDSet {
			chunkIDs = append(chunkIDs, id)
		}
		res, err = tx.Run(ctx, `
MATCH (c:Chunk)
WHERE c.id IN $ids
RETURN c.id AS id, c.document_id AS document_id, c.index AS idx, c.text AS text, 0.0 AS score
ORDER BY c.document_id, c.index
`, map[string]any{"ids": chunkIDs})
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			hit, err := chunkHitFromRecord(res.Record())
			if err != nil {
				return nil, err
			}
			result.Chunks = append(result.Chunks, hit)
		}
		return nil, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *documentGraph) Stats(ctx context.Context, documentID uuid.UUID) (*DocumentStats, error) {
	if g.client == nil || g.client.Driver == nil {
		return &DocumentStats{}, nil
	}
	if documentID == uuid.Nil {
		return &DocumentStats{}, nil
	}
	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (c:Chunk {document_id: $id})
WITH count(c) AS chunks
OPTIONAL MATCH (e:Entity {document_id: $id})
WITH chunks, count(e) AS entities
OPTIONAL MATCH (s:Entity {document_id: $id})-[r:RELATED_TO]->(:Entity)
RETURN chunks, entities, count(r) AS relationships
`, map[string]any{"id": documentID.String()})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return &DocumentStats{
			Chunks:        intField(rec, "chunks"),
			Entities:      intField(rec, "entities"),
			Relationships: intField(rec, "relationships"),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	stats, _ := out.(*DocumentStats)
	if stats == nil {
		stats = &DocumentStats{}
	}
	return stats, nil
}

func chunkHitFromRecord(rec *neo4j.Record) (*ChunkHit, error) {
	docID, err := uuidField(rec, "document_id")
	if err != nil {
		return nil, err
	}
	score := 0.0
	if v, ok := rec.Get("score"); ok {
		if f, ok := v.(float64); ok {
			score = f
		}
	}
	return &ChunkHit{
		ID:         stringField(rec, "id"),
		DocumentID: docID,
		Index:      int(intField(rec, "idx")),
		Text:       stringField(rec, "text"),
		Score:      score,
	}, nil
}

func stringField(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intField(rec *neo4j.Record, key string) int64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}

func uuidField(rec *neo4j.Record, key string) (uuid.UUID, error) {
	s := stringField(rec, key)
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func floats64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// truncateString cuts s to at most max bytes on a rune boundary.
func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
