package users

import (
	"time"

	"github.com/google/uuid"
)

const (
	PrincipalUser  = "user"
	PrincipalGroup = "group"

	PermissionRead   = "read"
	PermissionManage = "manage"
)

// DocumentShare grants read or manage on one document to a user or a group.
type DocumentShare struct {
	ID            uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID    uuid.UUID `gorm:"type:uuid;not null;index:idx_share_target,unique" json:"document_id"`
	PrincipalType string    `gorm:"column:principal_type;not null;index:idx_share_target,unique" json:"principal_type"`
	PrincipalID   uuid.UUID `gorm:"type:uuid;not null;index:idx_share_target,unique" json:"principal_id"`
	Permission    string    `gorm:"column:permission;not null" json:"permission"`
	GrantedBy     uuid.UUID `gorm:"type:uuid;column:granted_by" json:"granted_by,omitempty"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (DocumentShare) TableName() string { return "document_share" }

// PermissionRank orders permissions so the effective grant is the max.
func PermissionRank(p string) int {
	switch p {
	case PermissionManage:
		return 2
	case PermissionRead:
		return 1
	default:
		return 0
	}
}
