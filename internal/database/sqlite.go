package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/hyperide/backend/internal/users"
	"github.com/hyperide/backend/internal/workspace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Open establishes a SQLite connection and performs schema migrations for
// the workspace, audit, and account tables.
func Open(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&workspace.File{},
		&workspace.EditRecord{},
		&users.User{},
		&users.FileGrant{},
	); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
