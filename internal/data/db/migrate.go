package db

import (
	"gorm.io/gorm"

	types "github.com/docmesh/graphrag-backend/internal/domain"
)

func (s *PostgresService) AutoMigrateAll() error {
	return AutoMigrateAll(s.db)
}

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.User{},
		&types.Group{},
		&types.GroupMember{},
		&types.DocumentShare{},

		&types.Document{},

		&types.JobRun{},
	)
}
