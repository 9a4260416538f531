package migration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/MarcoPoloResearchLab/positron/internal/event"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var runnerDatabaseCounter atomic.Int64

func newRunnerDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:positron_runner_test_%d?mode=memory&cache=shared", runnerDatabaseCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access connection pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&datastore.Position{},
		&datastore.Event{},
		&datastore.CollectionField{},
		&datastore.EventCollectionField{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func seedPosition(t *testing.T, db *gorm.DB, migrationIndex int, events []datastore.Event) int64 {
	t.Helper()
	row := datastore.Position{TimestampSeconds: 1700000600, MigrationIndex: migrationIndex, UserID: 1}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed position: %v", err)
	}
	for index := range events {
		events[index].Position = row.Position
		events[index].Weight = index + 1
		if err := db.Create(&events[index]).Error; err != nil {
			t.Fatalf("failed to seed event: %v", err)
		}
	}
	return row.Position
}

func TestNewRunnerRequiresDatabase(t *testing.T) {
	if _, err := NewRunner(RunnerConfig{}); err == nil {
		t.Fatalf("expected error for missing database handle")
	}
}

func TestRunRewritesLogAndAdvancesMigrationIndex(t *testing.T) {
	db := newRunnerDatabase(t)
	seedPosition(t, db, 1, []datastore.Event{
		{Fqid: "motion/1", Type: string(event.KindCreate), DataJSON: `{"name":"a"}`},
	})
	seedPosition(t, db, 1, []datastore.Event{
		{Fqid: "motion/1", Type: string(event.KindUpdate), DataJSON: `{"name":"b"}`},
		{Fqid: "motion/2", Type: string(event.KindCreate), DataJSON: `{"name":"c"}`},
	})

	runner, err := NewRunner(RunnerConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build runner: %v", err)
	}
	if err := runner.Run(context.Background(), &renameFieldMigration{from: "name", to: "title"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var positions []datastore.Position
	if err := db.Order("position ASC").Find(&positions).Error; err != nil {
		t.Fatalf("failed to load positions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected both positions to survive, got %d", len(positions))
	}
	for _, position := range positions {
		if position.MigrationIndex != 2 {
			t.Fatalf("expected migration index 2 on position %d, got %d", position.Position, position.MigrationIndex)
		}
	}

	var rows []datastore.Event
	if err := db.Order("position ASC, weight ASC").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rewritten events, got %d", len(rows))
	}
	expected := []struct {
		fqid     string
		kind     string
		dataJSON string
		weight   int
	}{
		{"motion/1", string(event.KindCreate), `{"title":"a"}`, 1},
		// creates are reordered to the front of their position
		{"motion/2", string(event.KindCreate), `{"title":"c"}`, 1},
		{"motion/1", string(event.KindUpdate), `{"title":"b"}`, 2},
	}
	for index, want := range expected {
		row := rows[index]
		if row.Fqid != want.fqid || row.Type != want.kind || row.DataJSON != want.dataJSON || row.Weight != want.weight {
			t.Fatalf("unexpected rewritten event %d: %+v", index, row)
		}
	}
}

func TestRunRebuildsCollectionFieldIndex(t *testing.T) {
	db := newRunnerDatabase(t)
	positionID := seedPosition(t, db, 1, []datastore.Event{
		{Fqid: "motion/1", Type: string(event.KindCreate), DataJSON: `{"name":"a"}`},
	})

	// index state as the write pipeline left it
	var eventRow datastore.Event
	if err := db.Take(&eventRow).Error; err != nil {
		t.Fatalf("failed to load seeded event: %v", err)
	}
	fieldRow := datastore.CollectionField{CollectionField: "motion/1/name", Position: positionID}
	if err := db.Create(&fieldRow).Error; err != nil {
		t.Fatalf("failed to seed collectionfield: %v", err)
	}
	link := datastore.EventCollectionField{EventID: eventRow.ID, CollectionFieldID: fieldRow.ID}
	if err := db.Create(&link).Error; err != nil {
		t.Fatalf("failed to seed link: %v", err)
	}

	runner, err := NewRunner(RunnerConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build runner: %v", err)
	}
	if err := runner.Run(context.Background(), &renameFieldMigration{from: "name", to: "title"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var fieldRows []datastore.CollectionField
	if err := db.Find(&fieldRows).Error; err != nil {
		t.Fatalf("failed to load collectionfields: %v", err)
	}
	if len(fieldRows) != 1 {
		t.Fatalf("the stale entry of the renamed field must be dropped, got %d rows", len(fieldRows))
	}
	if fieldRows[0].CollectionField != "motion/1/title" || fieldRows[0].Position != positionID {
		t.Fatalf("unexpected collectionfield entry: %+v", fieldRows[0])
	}

	var rewrittenEvent datastore.Event
	if err := db.Take(&rewrittenEvent).Error; err != nil {
		t.Fatalf("failed to load rewritten event: %v", err)
	}
	var links []datastore.EventCollectionField
	if err := db.Find(&links).Error; err != nil {
		t.Fatalf("failed to load links: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected exactly one link, got %d", len(links))
	}
	if links[0].EventID != rewrittenEvent.ID || links[0].CollectionFieldID != fieldRows[0].ID {
		t.Fatalf("link must bind the rewritten event to its field: %+v", links[0])
	}
}

func TestRunPassthroughKeepsEventDataAndBumpsIndex(t *testing.T) {
	db := newRunnerDatabase(t)
	seedPosition(t, db, 1, []datastore.Event{
		{Fqid: "motion/1", Type: string(event.KindCreate), DataJSON: `{"title":"a"}`},
		{Fqid: "motion/1", Type: string(event.KindDelete), DataJSON: "null"},
	})

	runner, err := NewRunner(RunnerConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build runner: %v", err)
	}
	if err := runner.Run(context.Background(), &passthroughMigration{target: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rows []datastore.Event
	if err := db.Order("weight ASC").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected both events kept, got %d", len(rows))
	}
	if rows[0].DataJSON != `{"title":"a"}` || rows[1].Type != string(event.KindDelete) {
		t.Fatalf("passthrough must not alter events: %+v", rows)
	}

	var position datastore.Position
	if err := db.Take(&position).Error; err != nil {
		t.Fatalf("failed to load position: %v", err)
	}
	if position.MigrationIndex != 3 {
		t.Fatalf("expected migration index 3, got %d", position.MigrationIndex)
	}
}

func TestRunStopsAtFirstFailingPosition(t *testing.T) {
	db := newRunnerDatabase(t)
	seedPosition(t, db, 1, []datastore.Event{
		{Fqid: "motion/1", Type: string(event.KindCreate), DataJSON: `{"title":"a"}`},
	})
	seedPosition(t, db, 1, []datastore.Event{
		{Fqid: "motion/1", Type: string(event.KindUpdate), DataJSON: `{"title":"b"}`},
	})

	runner, err := NewRunner(RunnerConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build runner: %v", err)
	}
	if err := runner.Run(context.Background(), &updateRejectingMigration{}); err == nil {
		t.Fatalf("expected the transform error to propagate")
	}

	var positions []datastore.Position
	if err := db.Order("position ASC").Find(&positions).Error; err != nil {
		t.Fatalf("failed to load positions: %v", err)
	}
	if positions[0].MigrationIndex != 2 {
		t.Fatalf("first position must already be migrated, got index %d", positions[0].MigrationIndex)
	}
	if positions[1].MigrationIndex != 1 {
		t.Fatalf("failing position must stay untouched, got index %d", positions[1].MigrationIndex)
	}

	var rows []datastore.Event
	if err := db.Where("position = ?", positions[1].Position).Find(&rows).Error; err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	if len(rows) != 1 || rows[0].DataJSON != `{"title":"b"}` {
		t.Fatalf("failing position's events must stay untouched: %+v", rows)
	}
}

// updateRejectingMigration fails on the first update event it sees.
type updateRejectingMigration struct{}

func (m *updateRejectingMigration) TargetMigrationIndex() int { return 2 }

func (m *updateRejectingMigration) MigrateEvent(_ *Run, evt event.Event) (EventResult, error) {
	if evt.Kind() == event.KindUpdate {
		return EventResult{}, fmt.Errorf("updates are not migratable")
	}
	return Unchanged(), nil
}
