package users

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type GroupRepo interface {
	Create(dbc dbctx.Context, groups []*types.Group) ([]*types.Group, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Group, error)
	AddMember(dbc dbctx.Context, groupID, userID uuid.UUID) error
	RemoveMember(dbc dbctx.Context, groupID, userID uuid.UUID) error
	GroupIDsForUser(dbc dbctx.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type groupRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGroupRepo(db *gorm.DB, baseLog *logger.Logger) GroupRepo {
	return &groupRepo{db: db, log: baseLog.With("repo", "GroupRepo")}
}

func (r *groupRepo) Create(dbc dbctx.Context, groups []*types.Group) ([]*types.Group, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(groups) == 0 {
		return []*types.Group{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *groupRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Group, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var group types.Group
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *groupRepo) AddMember(dbc dbctx.Context, groupID, userID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if groupID == uuid.Nil || userID == uuid.Nil {
		return nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Create(&types.GroupMember{GroupID: groupID, UserID: userID}).Error
}

func (r *groupRepo) RemoveMember(dbc dbctx.Context, groupID, userID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&types.GroupMember{}).Error
}

func (r *groupRepo) GroupIDsForUser(dbc dbctx.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if userID == uuid.Nil {
		return ids, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.GroupMember{}).
		Where("user_id = ?", userID).
		Pluck("group_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
