package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docmesh/graphrag-backend/internal/data/repos"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	apperrors "github.com/docmesh/graphrag-backend/internal/pkg/errors"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

// GroupService manages share groups. Any authenticated user can create a
// group; membership changes are admin-only because groups carry document
// grants.
type GroupService interface {
	Create(ctx context.Context, name string) (*types.Group, error)
	AddMember(ctx context.Context, groupID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error
}

type groupService struct {
	db     *gorm.DB
	log    *logger.Logger
	groups repos.GroupRepo
	users  repos.UserRepo
}

func NewGroupService(db *gorm.DB, baseLog *logger.Logger, groups repos.GroupRepo, users repos.UserRepo) GroupService {
	return &groupService{
		db:     db,
		log:    baseLog.With("service", "GroupService"),
		groups: groups,
		users:  users,
	}
}

func (gs *groupService) Create(ctx context.Context, name string) (*types.Group, error) {
	if _, err := requestData(ctx); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", apperrors.ErrInvalidArgument)
	}

	group := &types.Group{ID: uuid.New(), Name: name}
	created, err := gs.groups.Create(dbctx.Context{Ctx: ctx}, []*types.Group{group})
	if err != nil {
		return nil, err
	}
	gs.log.Info("Created group", "group_id", group.ID, "name", name)
	return created[0], nil
}

func (gs *groupService) requireAdmin(ctx context.Context) error {
	rd, err := requestData(ctx)
	if err != nil {
		return err
	}
	if !rd.IsAdmin {
		return fmt.Errorf("%w: admin required", apperrors.ErrForbidden)
	}
	return nil
}

func (gs *groupService) AddMember(ctx context.Context, groupID, userID uuid.UUID) error {
	if err := gs.requireAdmin(ctx); err != nil {
		return err
	}
	return gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		group, err := gs.groups.GetByID(dbc, groupID)
		if err != nil {
			return err
		}
		if group == nil {
			return fmt.Errorf("%w: group %s", apperrors.ErrNotFound, groupID)
		}
		found, err := gs.users.GetByIDs(dbc, []uuid.UUID{userID})
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("%w: user %s", apperrors.ErrNotFound, userID)
		}
		return gs.groups.AddMember(dbc, groupID, userID)
	})
}

func (gs *groupService) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	if err := gs.requireAdmin(ctx); err != nil {
		return err
	}
	return gs.groups.RemoveMember(dbctx.Context{Ctx: ctx}, groupID, userID)
}
