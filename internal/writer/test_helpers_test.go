package writer

import (
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/MarcoPoloResearchLab/positron/internal/reader"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:positron_writer_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&datastore.Position{},
		&datastore.Model{},
		&datastore.Event{},
		&datastore.CollectionField{},
		&datastore.EventCollectionField{},
		&datastore.IDSequence{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	readDatabase, err := reader.NewDatabase(reader.DatabaseConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct read database: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }
	service, err := NewService(ServiceConfig{
		Database:     db,
		ReadDatabase: readDatabase,
		Clock:        clock,
	})
	if err != nil {
		t.Fatalf("failed to construct writer service: %v", err)
	}

	return service, db
}

func mustFqid(t *testing.T, value string) datastore.Fqid {
	t.Helper()
	fqid, err := datastore.NewFqid(value)
	if err != nil {
		t.Fatalf("unexpected fqid error: %v", err)
	}
	return fqid
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}
