package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// The pool is pinned to a single connection; this serializes concurrently
// committing write transactions, which is what makes position allocation a
// globally serialized counter.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
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
		&datastore.Position{},
		&datastore.Model{},
		&datastore.Event{},
		&datastore.CollectionField{},
		&datastore.EventCollectionField{},
		&datastore.IDSequence{},
	); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
