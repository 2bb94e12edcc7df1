package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docmesh/graphrag-backend/internal/access"
	"github.com/docmesh/graphrag-backend/internal/data/repos"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	apperrors "github.com/docmesh/graphrag-backend/internal/pkg/errors"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type ShareService interface {
	// Share grants or updates permission for a user or group on a document.
	// Requires manage on the document.
	Share(ctx context.Context, documentID uuid.UUID, principalType string, principalID uuid.UUID, permission string) (*types.DocumentShare, error)
	Unshare(ctx context.Context, documentID uuid.UUID, principalType string, principalID uuid.UUID) error
	ListPermissions(ctx context.Context, documentID uuid.UUID) ([]*types.DocumentShare, error)
}

type shareService struct {
	db     *gorm.DB
	log    *logger.Logger
	shares repos.ShareRepo
	users  repos.UserRepo
	groups repos.GroupRepo
	access *access.Resolver
}

func NewShareService(
	db *gorm.DB,
	baseLog *logger.Logger,
	shares repos.ShareRepo,
	users repos.UserRepo,
	groups repos.GroupRepo,
	resolver *access.Resolver,
) ShareService {
	return &shareService{
		db:     db,
		log:    baseLog.With("service", "ShareService"),
		shares: shares,
		users:  users,
		groups: groups,
		access: resolver,
	}
}

func (ss *shareService) validatePrincipal(dbc dbctx.Context, principalType string, principalID uuid.UUID) error {
	switch principalType {
	case types.PrincipalUser:
		found, err := ss.users.GetByIDs(dbc, []uuid.UUID{principalID})
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("%w: user %s", apperrors.ErrNotFound, principalID)
		}
	case types.PrincipalGroup:
		group, err := ss.groups.GetByID(dbc, principalID)
		if err != nil {
			return err
		}
		if group == nil {
			return fmt.Errorf("%w: group %s", apperrors.ErrNotFound, principalID)
		}
	default:
		return fmt.Errorf("%w: unknown principal type %q", apperrors.ErrInvalidArgument, principalType)
	}
	return nil
}

func (ss *shareService) Share(ctx context.Context, documentID uuid.UUID, principalType string, principalID uuid.UUID, permission string) (*types.DocumentShare, error) {
	rd, err := requestData(ctx)
	if err != nil {
		return nil, err
	}
	if permission != types.PermissionRead && permission != types.PermissionManage {
		return nil, fmt.Errorf("%w: unknown permission %q", apperrors.ErrInvalidArgument, permission)
	}

	doc, err := ss.access.RequireManage(dbctx.Context{Ctx: ctx}, rd, documentID)
	if err != nil {
		return nil, err
	}
	if principalType == types.PrincipalUser && principalID == doc.OwnerUserID {
		return nil, fmt.Errorf("%w: owner already has manage", apperrors.ErrInvalidArgument)
	}

	var share *types.DocumentShare
	err = ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if vErr := ss.validatePrincipal(dbc, principalType, principalID); vErr != nil {
			return vErr
		}
		var uErr error
		share, uErr = ss.shares.Upsert(dbc, &types.DocumentShare{
			ID:            uuid.New(),
			DocumentID:    documentID,
			PrincipalType: principalType,
			PrincipalID:   principalID,
			Permission:    permission,
			GrantedBy:     rd.UserID,
		})
		return uErr
	})
	if err != nil {
		return nil, err
	}

	ss.log.Info("Granted share", "document_id", documentID, "principal_type", principalType, "principal_id", principalID, "permission", permission)
	return share, nil
}

func (ss *shareService) Unshare(ctx context.Context, documentID uuid.UUID, principalType string, principalID uuid.UUID) error {
	rd, err := requestData(ctx)
	if err != nil {
		return err
	}
	if principalType != types.PrincipalUser && principalType != types.PrincipalGroup {
		return fmt.Errorf("%w: unknown principal type %q", apperrors.ErrInvalidArgument, principalType)
	}
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := ss.access.RequireManage(dbc, rd, documentID); err != nil {
		return err
	}
	// Revocation is effective on the principal's next access check.
	if err := ss.shares.Delete(dbc, documentID, principalType, principalID); err != nil {
		return err
	}
	ss.log.Info("Revoked share", "document_id", documentID, "principal_type", principalType, "principal_id", principalID)
	return nil
}

func (ss *shareService) ListPermissions(ctx context.Context, documentID uuid.UUID) ([]*types.DocumentShare, error) {
	rd, err := requestData(ctx)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := ss.access.RequireManage(dbc, rd, documentID); err != nil {
		return nil, err
	}
	shares, err := ss.shares.ListByDocument(dbc, documentID)
	if err != nil {
		return nil, err
	}
	if shares == nil {
		shares = []*types.DocumentShare{}
	}
	return shares, nil
}
