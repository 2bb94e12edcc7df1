package documents

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusPending    = "Pending"
	StatusProcessing = "Processing"
	StatusCompleted  = "Completed"
	StatusFailed     = "Failed"
)

// SupportedModels are the model families the provider factory can dispatch to.
var SupportedModels = []string{"claude", "openai", "kimi", "deepseek"}

// SupportedDocTypes select the extraction prompt.
var SupportedDocTypes = []string{"generic", "legal", "medical", "technical", "financial", "aesthetics", "health", "it"}

type Document struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Filename    string         `gorm:"column:filename;not null" json:"filename"`
	Content     string         `gorm:"column:content;type:text" json:"-"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Model       string         `gorm:"column:model" json:"model,omitempty"`
	DocType     string         `gorm:"column:doc_type" json:"doc_type,omitempty"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "document" }

func ModelSupported(model string) bool {
	for _, m := range SupportedModels {
		if m == model {
			return true
		}
	}
	return false
}

func DocTypeSupported(docType string) bool {
	for _, d := range SupportedDocTypes {
		if d == docType {
			return true
		}
	}
	return false
}
