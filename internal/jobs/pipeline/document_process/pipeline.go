package document_process

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/docmesh/graphrag-backend/internal/chunker"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	jobrt "github.com/docmesh/graphrag-backend/internal/jobs/runtime"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	"github.com/docmesh/graphrag-backend/internal/providers"
)

// Progress milestones per stage. Document progress is monotonic while
// Processing: chunk ends at 20, extract at 70, embed at 90, finalize at 100.
const (
	progressChunked   = 20
	progressExtracted = 70
	progressEmbedded  = 90
)

const canceledReason = "processing canceled by user"

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	if p == nil || p.log == nil || p.docs == nil || p.graph == nil || p.factory == nil {
		jc.Fail("validate", fmt.Errorf("document_process: pipeline not configured"))
		return nil
	}

	documentID, ok := jc.PayloadUUID("document_id")
	if !ok || documentID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing document_id"))
		return nil
	}

	dbc := dbctx.Context{Ctx: jc.Ctx}
	doc, err := p.docs.GetByID(dbc, documentID)
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}
	if doc == nil {
		jc.Fail("validate", fmt.Errorf("document %s not found", documentID))
		return nil
	}
	if doc.Status != types.DocumentStatusProcessing {
		// Admission control transitions the document before enqueueing; a row
		// in any other state here means the run was superseded or canceled.
		jc.Fail("validate", fmt.Errorf("document %s is %s, expected %s", documentID, doc.Status, types.DocumentStatusProcessing))
		return nil
	}
	if jc.Repo != nil {
		// A reclaimed failed job may have been superseded by a newer admission
		// for the same document. The Processing state then belongs to the newer
		// run, and only that run may act on the document.
		latest, lErr := jc.Repo.GetLatestByEntity(dbc, jc.Job.OwnerUserID, jc.Job.EntityType, documentID, jc.Job.JobType)
		if lErr != nil {
			jc.Fail("validate", lErr)
			return nil
		}
		if latest != nil && latest.ID != jc.Job.ID {
			jc.Fail("validate", fmt.Errorf("run superseded by job %s", latest.ID))
			return nil
		}
	}

	provider, err := p.factory.ForModel(doc.Model)
	if err != nil {
		p.failDocument(jc, documentID, "validate", err)
		return nil
	}

	stopHeartbeat := p.startHeartbeat(jc)
	defer stopHeartbeat()

	log := p.log.With("document_id", documentID, "model", doc.Model, "doc_type", doc.DocType)

	// ---- chunk ----
	if p.canceled(jc, documentID) {
		return nil
	}
	jc.Progress("chunk", 5, "Splitting document into chunks")

	chunks := p.chunkDocument(doc)
	if len(chunks) == 0 {
		p.failDocument(jc, documentID, "chunk", fmt.Errorf("document has no extractable text"))
		return nil
	}
	p.publishProgress(jc, documentID, "chunk", progressChunked, fmt.Sprintf("Split into %d chunks", len(chunks)))
	log.Info("Chunked document", "chunks", len(chunks))

	// ---- extract ----
	if p.canceled(jc, documentID) {
		return nil
	}
	results, err := p.extract(jc, documentID, provider, doc.DocType, chunks)
	if err != nil {
		p.failDocument(jc, documentID, "extract", err)
		return nil
	}
	if results == nil {
		// canceled during polling
		return nil
	}

	extractions := make([]*providers.Extraction, 0, len(results))
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
			log.Warn("Chunk extraction failed", "chunk_id", r.ChunkID, "error", r.Error)
			continue
		}
		extractions = append(extractions, r.Extraction)
	}
	if len(extractions) == 0 {
		p.failDocument(jc, documentID, "extract", fmt.Errorf("extraction failed for all %d chunks", len(chunks)))
		return nil
	}
	entities, relationships := providers.MergeExtractions(extractions)
	p.publishProgress(jc, documentID, "extract", progressExtracted,
		fmt.Sprintf("Extracted %d entities, %d relationships (%d of %d chunks failed)", len(entities), len(relationships), failed, len(chunks)))
	log.Info("Extraction complete", "entities", len(entities), "relationships", len(relationships), "failed_chunks", failed)

	// ---- embed ----
	if p.canceled(jc, documentID) {
		return nil
	}
	if err := p.embed(jc, provider, chunks); err != nil {
		p.failDocument(jc, documentID, "embed", err)
		return nil
	}
	p.publishProgress(jc, documentID, "embed", progressEmbedded, "Computed chunk embeddings")

	// ---- finalize ----
	if p.canceled(jc, documentID) {
		return nil
	}
	jc.Progress("finalize", progressEmbedded+5, "Writing knowledge graph")
	if err := p.graph.ReplaceDocument(jc.Ctx, doc, chunks, entities, relationships); err != nil {
		p.failDocument(jc, documentID, "finalize", err)
		return nil
	}

	updated, err := p.docs.UpdateStatusIf(dbc, documentID,
		[]string{types.DocumentStatusProcessing},
		map[string]interface{}{
			"status":   types.DocumentStatusCompleted,
			"progress": 100,
			"error":    "",
		})
	if err != nil {
		jc.Fail("finalize", err)
		return nil
	}
	if !updated {
		log.Warn("Document left Processing before completion could be recorded")
	}

	jc.Succeed("done", map[string]any{
		"document_id":   documentID.String(),
		"chunks":        len(chunks),
		"entities":      len(entities),
		"relationships": len(relationships),
		"failed_chunks": failed,
	})
	return nil
}

func (p *Pipeline) chunkDocument(doc *types.Document) []*types.Chunk {
	raw := chunker.SplitText(doc.Content, p.chunkOpt)
	chunks := make([]*types.Chunk, 0, len(raw))
	for _, c := range raw {
		chunks = append(chunks, &types.Chunk{
			ID:      c.ID,
			Index:   c.Index,
			Text:    c.Text,
			Overlap: c.Overlap,
		})
	}
	return chunks
}

// extract submits the chunk batch and polls it to completion. A handle left
// on the job row by a previous attempt is resumed instead of resubmitted; a
// stale handle the provider no longer recognizes falls back to a fresh
// submit. Returns (nil, nil) when the run was canceled at a poll point.
func (p *Pipeline) extract(jc *jobrt.Context, documentID uuid.UUID, provider providers.Provider, docType string, chunks []*types.Chunk) ([]providers.Result, error) {
	items := make([]providers.Item, 0, len(chunks))
	for _, c := range chunks {
		items = append(items, providers.Item{ChunkID: c.ID, DocType: docType, Text: c.Text})
	}

	handle, resumed := p.savedHandle(jc, provider.Name())
	if resumed {
		p.log.Info("Resuming extraction batch from previous attempt", "handle", handle, "provider", provider.Name())
		jc.Progress("extract", progressChunked+5, fmt.Sprintf("Resuming extraction batch on %s", provider.Name()))
	} else {
		var err error
		handle, err = provider.SubmitExtraction(jc.Ctx, items)
		if err != nil {
			return nil, err
		}
		p.persistHandle(jc, handle, provider.Name())
		jc.Progress("extract", progressChunked+5, fmt.Sprintf("Submitted %d chunks to %s", len(items), provider.Name()))
	}

	deadline := time.Now().Add(p.pollTimeout)
	pollErrs := 0
	for {
		if p.canceled(jc, documentID) {
			return nil, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("extraction batch %s timed out after %s", handle, p.pollTimeout)
		}

		time.Sleep(p.pollInterval)

		poll, err := provider.PollExtraction(jc.Ctx, handle)
		if err != nil {
			if resumed {
				p.log.Warn("Resumed batch handle is stale, submitting fresh batch", "handle", handle, "error", err)
				resumed = false
				handle, err = provider.SubmitExtraction(jc.Ctx, items)
				if err != nil {
					return nil, err
				}
				p.persistHandle(jc, handle, provider.Name())
				continue
			}
			pollErrs++
			if pollErrs >= 3 {
				return nil, fmt.Errorf("extraction polling failed repeatedly: %w", err)
			}
			p.log.Warn("Extraction poll failed, will retry", "handle", handle, "error", err)
			continue
		}
		resumed = false
		pollErrs = 0

		if poll.Done {
			return poll.Results, nil
		}
		jc.Progress("extract", progressChunked+10, "Waiting for extraction batch")
	}
}

// persistHandle records the provider batch id on the job row so a reclaimed
// run can pick the batch back up instead of resubmitting it.
func (p *Pipeline) persistHandle(jc *jobrt.Context, handle, providerName string) {
	if err := jc.Update(map[string]any{
		"result": datatypes.JSON(fmt.Sprintf(`{"extraction_handle":%q,"provider":%q}`, handle, providerName)),
	}); err != nil {
		p.log.Warn("Failed to persist extraction handle", "handle", handle, "error", err)
	}
}

func (p *Pipeline) savedHandle(jc *jobrt.Context, providerName string) (string, bool) {
	if jc.Job == nil || len(jc.Job.Result) == 0 {
		return "", false
	}
	var saved struct {
		ExtractionHandle string `json:"extraction_handle"`
		Provider         string `json:"provider"`
	}
	if err := json.Unmarshal(jc.Job.Result, &saved); err != nil {
		return "", false
	}
	if saved.ExtractionHandle == "" || saved.Provider != providerName {
		return "", false
	}
	return saved.ExtractionHandle, true
}

// embed computes chunk vectors in place. Embedding failure is fatal to the
// run: one retry, then fail.
func (p *Pipeline) embed(jc *jobrt.Context, provider providers.Provider, chunks []*types.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := provider.Embed(jc.Ctx, texts)
	if err != nil {
		p.log.Warn("Embedding failed, retrying once", "error", err)
		vectors, err = provider.Embed(jc.Ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding failed after retry: %w", err)
		}
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, c := range chunks {
		c.Embedding = vectors[i]
	}
	return nil
}

// canceled checks for a cooperative cancel request. When honored it settles
// the document to Failed with a cancellation reason and stops the job; no
// further store writes happen for this run.
func (p *Pipeline) canceled(jc *jobrt.Context, documentID uuid.UUID) bool {
	if !jc.Canceled() {
		return false
	}
	dbc := dbctx.Context{Ctx: jc.Ctx}
	_, err := p.docs.UpdateStatusIf(dbc, documentID,
		[]string{types.DocumentStatusProcessing},
		map[string]interface{}{
			"status": types.DocumentStatusFailed,
			"error":  canceledReason,
		})
	if err != nil {
		p.log.Warn("Failed to settle canceled document", "document_id", documentID, "error", err)
	}
	p.log.Info("Run canceled", "document_id", documentID, "job_id", jc.Job.ID)
	return true
}

// failDocument records a structured error on both the job run and the
// document row.
func (p *Pipeline) failDocument(jc *jobrt.Context, documentID uuid.UUID, stage string, err error) {
	dbc := dbctx.Context{Ctx: jc.Ctx}
	_, uErr := p.docs.UpdateStatusIf(dbc, documentID,
		[]string{types.DocumentStatusProcessing},
		map[string]interface{}{
			"status": types.DocumentStatusFailed,
			"error":  fmt.Sprintf("%s stage failed: %v", stage, err),
		})
	if uErr != nil {
		p.log.Warn("Failed to mark document failed", "document_id", documentID, "error", uErr)
	}
	jc.Fail(stage, err)
}

// publishProgress advances both job and document progress. The document write
// is guarded on Processing so a canceled or superseded run never resurrects
// the row.
func (p *Pipeline) publishProgress(jc *jobrt.Context, documentID uuid.UUID, stage string, pct int, msg string) {
	jc.Progress(stage, pct, msg)
	dbc := dbctx.Context{Ctx: jc.Ctx}
	_, err := p.docs.UpdateStatusIf(dbc, documentID,
		[]string{types.DocumentStatusProcessing},
		map[string]interface{}{"progress": pct})
	if err != nil {
		p.log.Warn("Failed to update document progress", "document_id", documentID, "error", err)
	}
}

// startHeartbeat keeps the claimed job visibly alive while stages run.
func (p *Pipeline) startHeartbeat(jc *jobrt.Context) func() {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-jc.Ctx.Done():
				return
			case <-ticker.C:
				if err := jc.Repo.Heartbeat(dbctx.Context{Ctx: jc.Ctx}, jc.Job.ID); err != nil {
					p.log.Warn("Job heartbeat failed", "job_id", jc.Job.ID, "error", err)
				}
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}
