package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docmesh/graphrag-backend/internal/access"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	apperrors "github.com/docmesh/graphrag-backend/internal/pkg/errors"
	"github.com/docmesh/graphrag-backend/internal/platform/envutil"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/query"
)

// QueryRequest is the external query surface. DocumentID narrows the scope
// to one document (read access required); when nil the scope is everything
// the caller can read.
type QueryRequest struct {
	Text       string     `json:"text"`
	SearchType string     `json:"search_type"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	TopK       int        `json:"top_k,omitempty"`
	Model      string     `json:"model,omitempty"`
}

type QueryService interface {
	Query(ctx context.Context, req QueryRequest) (*query.Response, error)
}

type queryService struct {
	db           *gorm.DB
	log          *logger.Logger
	access       *access.Resolver
	engine       *query.Engine
	defaultModel string
}

func NewQueryService(db *gorm.DB, baseLog *logger.Logger, resolver *access.Resolver, engine *query.Engine) QueryService {
	return &queryService{
		db:           db,
		log:          baseLog.With("service", "QueryService"),
		access:       resolver,
		engine:       engine,
		defaultModel: envutil.Str("DEFAULT_QUERY_MODEL", "claude"),
	}
}

func (qs *queryService) Query(ctx context.Context, req QueryRequest) (*query.Response, error) {
	rd, err := requestData(ctx)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}

	searchType := strings.ToLower(strings.TrimSpace(req.SearchType))
	if searchType == "" {
		searchType = query.SearchHybrid
	}
	model := strings.ToLower(strings.TrimSpace(req.Model))
	if model == "" {
		model = qs.defaultModel
	}
	if !types.ModelSupported(model) {
		return nil, fmt.Errorf("%w: unsupported model %q", apperrors.ErrInvalidArgument, model)
	}

	var scope []uuid.UUID
	if req.DocumentID != nil {
		doc, aErr := qs.access.RequireRead(dbc, rd, *req.DocumentID)
		if aErr != nil {
			return nil, aErr
		}
		if doc.Status != types.DocumentStatusCompleted {
			return nil, fmt.Errorf("%w: document %s has not completed processing", apperrors.ErrConflict, doc.ID)
		}
		scope = []uuid.UUID{doc.ID}
	} else {
		scope, err = qs.access.ReadableDocumentIDs(dbc, rd)
		if err != nil {
			return nil, err
		}
	}

	resp, err := qs.engine.Execute(ctx, query.Request{
		Text:        req.Text,
		SearchType:  searchType,
		DocumentIDs: scope,
		TopK:        req.TopK,
		Model:       model,
	})
	if err != nil {
		return nil, err
	}
	qs.log.Info("Executed query", "user_id", rd.UserID, "search_type", searchType, "scope_docs", len(scope), "sources", len(resp.Sources))
	return resp, nil
}
