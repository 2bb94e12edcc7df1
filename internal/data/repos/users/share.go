package users

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type ShareRepo interface {
	Upsert(dbc dbctx.Context, share *types.DocumentShare) (*types.DocumentShare, error)
	Delete(dbc dbctx.Context, documentID uuid.UUID, principalType string, principalID uuid.UUID) error
	DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) error
	ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.DocumentShare, error)
	// GetForPrincipals returns every share on documentID held by the user
	// directly or through any of the given groups.
	GetForPrincipals(dbc dbctx.Context, documentID uuid.UUID, userID uuid.UUID, groupIDs []uuid.UUID) ([]*types.DocumentShare, error)
	// DocumentIDsForPrincipals returns document ids shared with the user
	// directly or through any of the given groups.
	DocumentIDsForPrincipals(dbc dbctx.Context, userID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error)
}

type shareRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewShareRepo(db *gorm.DB, baseLog *logger.Logger) ShareRepo {
	return &shareRepo{db: db, log: baseLog.With("repo", "ShareRepo")}
}

func (r *shareRepo) Upsert(dbc dbctx.Context, share *types.DocumentShare) (*types.DocumentShare, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if share == nil {
		return nil, nil
	}
	var existing types.DocumentShare
	err := transaction.WithContext(dbc.Ctx).
		Where("document_id = ? AND principal_type = ? AND principal_id = ?",
			share.DocumentID, share.PrincipalType, share.PrincipalID).
		Limit(1).
		Find(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing.ID != uuid.Nil {
		if err := transaction.WithContext(dbc.Ctx).
			Model(&types.DocumentShare{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"permission": share.Permission,
				"updated_at": time.Now(),
			}).Error; err != nil {
			return nil, err
		}
		existing.Permission = share.Permission
		return &existing, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(share).Error; err != nil {
		return nil, err
	}
	return share, nil
}

func (r *shareRepo) Delete(dbc dbctx.Context, documentID uuid.UUID, principalType string, principalID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Where("document_id = ? AND principal_type = ? AND principal_id = ?",
			documentID, principalType, principalID).
		Delete(&types.DocumentShare{}).Error
}

func (r *shareRepo) DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if documentID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Delete(&types.DocumentShare{}).Error
}

func (r *shareRepo) ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.DocumentShare, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DocumentShare
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *shareRepo) GetForPrincipals(dbc dbctx.Context, documentID uuid.UUID, userID uuid.UUID, groupIDs []uuid.UUID) ([]*types.DocumentShare, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DocumentShare
	if documentID == uuid.Nil || userID == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("document_id = ?", documentID)
	if len(groupIDs) > 0 {
		q = q.Where(
			"(principal_type = ? AND principal_id = ?) OR (principal_type = ? AND principal_id IN ?)",
			types.PrincipalUser, userID, types.PrincipalGroup, groupIDs,
		)
	} else {
		q = q.Where("principal_type = ? AND principal_id = ?", types.PrincipalUser, userID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *shareRepo) DocumentIDsForPrincipals(dbc dbctx.Context, userID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if userID == uuid.Nil {
		return ids, nil
	}
	q := transaction.WithContext(dbc.Ctx).Model(&types.DocumentShare{})
	if len(groupIDs) > 0 {
		q = q.Where(
			"(principal_type = ? AND principal_id = ?) OR (principal_type = ? AND principal_id IN ?)",
			types.PrincipalUser, userID, types.PrincipalGroup, groupIDs,
		)
	} else {
		q = q.Where("principal_type = ? AND principal_id = ?", types.PrincipalUser, userID)
	}
	if err := q.Distinct().Pluck("document_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
