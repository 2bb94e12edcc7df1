package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/docmesh/graphrag-backend/internal/access"
	"github.com/docmesh/graphrag-backend/internal/data/graph"
	"github.com/docmesh/graphrag-backend/internal/data/repos"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/ctxutil"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	apperrors "github.com/docmesh/graphrag-backend/internal/pkg/errors"
	"github.com/docmesh/graphrag-backend/internal/platform/envutil"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

const (
	JobTypeDocumentProcess = "document_process"
	EntityTypeDocument     = "document"
)

// DocumentStatus is the polling view of one document. Stats are present only
// once processing has completed.
type DocumentStatus struct {
	DocumentID uuid.UUID            `json:"document_id"`
	Status     string               `json:"status"`
	Progress   int                  `json:"progress"`
	Error      string               `json:"error,omitempty"`
	Stats      *graph.DocumentStats `json:"stats,omitempty"`
}

type DocumentService interface {
	Upload(ctx context.Context, filename, content string) (*types.Document, error)
	List(ctx context.Context) ([]*types.Document, error)
	Get(ctx context.Context, documentID uuid.UUID) (*types.Document, error)
	Status(ctx context.Context, documentID uuid.UUID) (*DocumentStatus, error)
	// Process validates inputs, admits the document into Processing and
	// enqueues a run. A document already Processing is a conflict.
	Process(ctx context.Context, documentID uuid.UUID, model, docType string) (*types.JobRun, error)
	// Cancel requests cooperative cancellation of the active run. The pipeline
	// honors it at stage boundaries and poll points.
	Cancel(ctx context.Context, documentID uuid.UUID) (*types.JobRun, error)
	Delete(ctx context.Context, documentID uuid.UUID) error
}

type documentService struct {
	db       *gorm.DB
	log      *logger.Logger
	docs     repos.DocumentRepo
	jobs     repos.JobRunRepo
	shares   repos.ShareRepo
	access   *access.Resolver
	graph    graph.DocumentGraph
	maxBytes int
}

func NewDocumentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	docs repos.DocumentRepo,
	jobs repos.JobRunRepo,
	shares repos.ShareRepo,
	resolver *access.Resolver,
	documentGraph graph.DocumentGraph,
) DocumentService {
	return &documentService{
		db:       db,
		log:      baseLog.With("service", "DocumentService"),
		docs:     docs,
		jobs:     jobs,
		shares:   shares,
		access:   resolver,
		graph:    documentGraph,
		maxBytes: envutil.Int("MAX_DOCUMENT_BYTES", 10*1024*1024),
	}
}

func requestData(ctx context.Context) (ctxutil.RequestData, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return ctxutil.RequestData{}, fmt.Errorf("%w: no authenticated user", apperrors.ErrUnauthorized)
	}
	return *rd, nil
}

func (ds *documentService) Upload(ctx context.Context, filename, content string) (*types.Document, error) {
	rd, err := requestData(ctx)
	if err != nil {
		return nil, err
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", apperrors.ErrInvalidArgument)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: document content is empty", apperrors.ErrInvalidArgument)
	}
	if len(content) > ds.maxBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", apperrors.ErrInvalidArgument, ds.maxBytes)
	}
	if !utf8.ValidString(content) {
		return nil, fmt.Errorf("%w: document content is not valid UTF-8", apperrors.ErrInvalidArgument)
	}

	doc := &types.Document{
		ID:          uuid.New(),
		OwnerUserID: rd.UserID,
		Filename:    filename,
		Content:     content,
		Status:      types.DocumentStatusPending,
	}
	created, err := ds.docs.Create(dbctx.Context{Ctx: ctx}, []*types.Document{doc})
	if err != nil {
		return nil, err
	}
	ds.log.Info("Uploaded document", "document_id", doc.ID, "owner_user_id", rd.UserID, "bytes", len(content))
	return created[0], nil
}

func (ds *documentService) List(ctx context.Context) ([]*types.Document, error) {
	rd, err := requestData(ctx)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}

	ids, err := ds.access.ReadableDocumentIDs(dbc, rd)
	if err != nil {
		return nil, err
	}
	docs, err := ds.docs.GetByIDs(dbc, ids)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []*types.Document{}
	}
	return docs, nil
}

func (ds *documentService) Get(ctx context.Context, documentID uuid.UUID) (*types.Document, error) {
	rd, err := requestData(ctx)
	if err != nil {
		return nil, err
	}
	return ds.access.RequireRead(dbctx.Context{Ctx: ctx}, rd, documentID)
}

func (ds *documentService) Status(ctx context.Context, documentID uuid.UUID) (*DocumentStatus, error) {
	doc, err := ds.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	status := &DocumentStatus{
		DocumentID: doc.ID,
		Status:     doc.Status,
		Progress:   doc.Progress,
		Error:      doc.Error,
	}
	if doc.Status == types.DocumentStatusCompleted && ds.graph != nil {
		stats, sErr := ds.graph.Stats(ctx, doc.ID)
		if sErr != nil {
			ds.log.Warn("Failed to load graph stats", "document_id", doc.ID, "error", sErr)
		} else {
			status.Stats = stats
		}
	}
	return status, nil
}

func (ds *documentService) Process(ctx context.Context, documentID uuid.UUID, model, docType string) (*types.JobRun, error) {
	rd, err := requestData(ctx)
	if err != nil {
		return nil, err
	}
	model = strings.ToLower(strings.TrimSpace(model))
	docType = strings.ToLower(strings.TrimSpace(docType))
	if !types.ModelSupported(model) {
		return nil, fmt.Errorf("%w: unsupported model %q, expected one of %s",
			apperrors.ErrInvalidArgument, model, strings.Join(types.SupportedModels, ", "))
	}
	if !types.DocTypeSupported(docType) {
		return nil, fmt.Errorf("%w: unsupported doc_type %q, expected one of %s",
			apperrors.ErrInvalidArgument, docType, strings.Join(types.SupportedDocTypes, ", "))
	}

	doc, err := ds.access.RequireManage(dbctx.Context{Ctx: ctx}, rd, documentID)
	if err != nil {
		return nil, err
	}

	var job *types.JobRun
	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		// Admission control: the guarded transition is what makes concurrent
		// process requests for the same document collapse to one run.
		admitted, aErr := ds.docs.UpdateStatusIf(dbc, documentID,
			[]string{types.DocumentStatusPending, types.DocumentStatusFailed, types.DocumentStatusCompleted},
			map[string]interface{}{
				"status":   types.DocumentStatusProcessing,
				"progress": 0,
				"error":    "",
				"model":    model,
				"doc_type": docType,
			})
		if aErr != nil {
			return aErr
		}
		if !admitted {
			return fmt.Errorf("%w: document %s is already processing", apperrors.ErrConflict, documentID)
		}

		entityID := documentID
		job = &types.JobRun{
			ID:          uuid.New(),
			OwnerUserID: doc.OwnerUserID,
			JobType:     JobTypeDocumentProcess,
			EntityType:  EntityTypeDocument,
			EntityID:    &entityID,
			Status:      "queued",
			Stage:       "queued",
			Payload:     datatypes.JSON(fmt.Sprintf(`{"document_id":%q}`, documentID)),
		}
		_, cErr := ds.jobs.Create(dbc, []*types.JobRun{job})
		return cErr
	})
	if err != nil {
		return nil, err
	}

	ds.log.Info("Enqueued document processing", "document_id", documentID, "job_id", job.ID, "model", model, "doc_type", docType)
	return job, nil
}

func (ds *documentService) Cancel(ctx context.Context, documentID uuid.UUID) (*types.JobRun, error) {
	rd, err := requestData(ctx)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}

	doc, err := ds.access.RequireManage(dbc, rd, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != types.DocumentStatusProcessing {
		return nil, fmt.Errorf("%w: document %s is not processing", apperrors.ErrConflict, documentID)
	}

	job, err := ds.jobs.GetLatestByEntity(dbc, doc.OwnerUserID, EntityTypeDocument, documentID, JobTypeDocumentProcess)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: no processing run for document %s", apperrors.ErrNotFound, documentID)
	}

	// Cancellation is a request, not a kill. The running pipeline observes the
	// canceled status at its next check and settles the document itself.
	wasClaimed := job.Status == "running"
	updated, err := ds.jobs.UpdateFieldsUnlessStatus(dbc, job.ID,
		[]string{"succeeded", "canceled"},
		map[string]interface{}{
			"status": "canceled",
			"error":  "canceled by user",
		})
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("%w: run %s already finished", apperrors.ErrConflict, job.ID)
	}
	job.Status = "canceled"

	// A run no worker has claimed has no pipeline to observe the cancel, and
	// canceled jobs are never claimed. Settle the document here or it stays
	// Processing forever.
	if !wasClaimed {
		if _, dErr := ds.docs.UpdateStatusIf(dbc, documentID,
			[]string{types.DocumentStatusProcessing},
			map[string]interface{}{
				"status": types.DocumentStatusFailed,
				"error":  "processing canceled by user",
			}); dErr != nil {
			ds.log.Warn("Failed to settle canceled document", "document_id", documentID, "error", dErr)
		}
	}

	ds.log.Info("Requested cancellation", "document_id", documentID, "job_id", job.ID)
	return job, nil
}

func (ds *documentService) Delete(ctx context.Context, documentID uuid.UUID) error {
	rd, err := requestData(ctx)
	if err != nil {
		return err
	}
	doc, err := ds.access.RequireManage(dbctx.Context{Ctx: ctx}, rd, documentID)
	if err != nil {
		return err
	}

	// Graph first: if the subtree delete fails the relational rows stay and
	// the delete can be retried.
	if ds.graph != nil {
		if gErr := ds.graph.DeleteDocument(ctx, documentID); gErr != nil {
			return fmt.Errorf("delete document graph: %w", gErr)
		}
	}

	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if sErr := ds.shares.DeleteByDocument(dbc, documentID); sErr != nil {
			return sErr
		}
		return ds.docs.Delete(dbc, documentID)
	})
	if err != nil {
		return err
	}

	ds.log.Info("Deleted document", "document_id", documentID, "owner_user_id", doc.OwnerUserID)
	return nil
}
