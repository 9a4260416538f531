package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDatabaseCounter atomic.Int64

func newTestDatabase(t *testing.T) (*Database, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:positron_reader_test_%d?mode=memory&cache=shared", testDatabaseCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access connection pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&datastore.Model{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	reader, err := NewDatabase(DatabaseConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build reader: %v", err)
	}
	return reader, db
}

func seedModel(t *testing.T, db *gorm.DB, fqid string, data map[string]any, deleted bool, position int64) {
	t.Helper()
	encoded, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("failed to encode data: %v", err)
	}
	row := datastore.Model{Fqid: fqid, DataJSON: string(encoded), Deleted: deleted, Position: position}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed model %s: %v", fqid, err)
	}
}

func TestNewDatabaseRequiresHandle(t *testing.T) {
	if _, err := NewDatabase(DatabaseConfig{}); err == nil {
		t.Fatalf("expected error for missing database handle")
	}
}

func TestGetManyIncludesTombstonesAndSkipsAbsent(t *testing.T) {
	reader, db := newTestDatabase(t)
	ctx := context.Background()
	seedModel(t, db, "motion/1", map[string]any{"title": "a"}, false, 1)
	seedModel(t, db, "motion/2", map[string]any{"title": "b"}, true, 2)

	result, err := reader.GetMany(ctx, []datastore.Fqid{"motion/1", "motion/2", "motion/3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(result))
	}
	if result["motion/1"].Deleted || !result["motion/2"].Deleted {
		t.Fatalf("unexpected deleted flags: %+v", result)
	}
	if result["motion/2"].Data["title"] != "b" {
		t.Fatalf("tombstone must retain its data: %+v", result["motion/2"])
	}
	if _, ok := result["motion/3"]; ok {
		t.Fatalf("absent fqid must be missing from the result")
	}
}

func TestGetManyEmptyInputReturnsEmptyResult(t *testing.T) {
	reader, _ := newTestDatabase(t)

	result, err := reader.GetMany(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("expected empty result, got %v", result)
	}
}

func TestGetReturnsModelDoesNotExistForAbsentFqid(t *testing.T) {
	reader, _ := newTestDatabase(t)

	_, err := reader.Get(context.Background(), "motion/1")
	if !errors.Is(err, datastore.ErrModelDoesNotExist) {
		t.Fatalf("expected model-does-not-exist error, got %v", err)
	}
}

func TestDeletedStatusReportsPerFqid(t *testing.T) {
	reader, db := newTestDatabase(t)
	seedModel(t, db, "motion/1", map[string]any{}, false, 1)
	seedModel(t, db, "motion/2", map[string]any{}, true, 1)

	status, err := reader.DeletedStatus(context.Background(), []datastore.Fqid{"motion/1", "motion/2", "motion/3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := map[datastore.Fqid]bool{"motion/1": false, "motion/2": true}
	if !reflect.DeepEqual(status, expected) {
		t.Fatalf("unexpected status map: %v", status)
	}
}

func TestGetAllExcludesDeletedAndOtherCollections(t *testing.T) {
	reader, db := newTestDatabase(t)
	seedModel(t, db, "motion/1", map[string]any{"title": "a"}, false, 1)
	seedModel(t, db, "motion/2", map[string]any{"title": "b"}, true, 1)
	seedModel(t, db, "user/1", map[string]any{"name": "x"}, false, 1)

	result, err := reader.GetAll(context.Background(), "motion")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected only the live motion, got %v", result)
	}
	if result[1].Data["title"] != "a" {
		t.Fatalf("unexpected snapshot: %+v", result[1])
	}
}

func TestGetAllMatchesUnderscoreCollectionsLiterally(t *testing.T) {
	reader, db := newTestDatabase(t)
	seedModel(t, db, "motion_block/1", map[string]any{"title": "block"}, false, 1)
	seedModel(t, db, "motionxblock/1", map[string]any{"title": "other"}, false, 1)

	result, err := reader.GetAll(context.Background(), "motion_block")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("underscore must not act as a wildcard, got %v", result)
	}
	if result[1].Data["title"] != "block" {
		t.Fatalf("unexpected snapshot: %+v", result[1])
	}
}

func TestFilterMatchesOperatorsOverLiveModels(t *testing.T) {
	reader, db := newTestDatabase(t)
	ctx := context.Background()
	seedModel(t, db, "motion/1", map[string]any{"state": "draft", "rank": float64(1)}, false, 1)
	seedModel(t, db, "motion/2", map[string]any{"state": "final", "rank": float64(5)}, false, 1)
	seedModel(t, db, "motion/3", map[string]any{"state": "draft", "rank": float64(9)}, true, 1)

	result, err := reader.Filter(ctx, "motion", datastore.FilterOperator{
		Field: "state", Operator: datastore.OpEqual, Value: "draft",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("deleted models must not match, got %v", result)
	}
	if _, ok := result[1]; !ok {
		t.Fatalf("expected motion/1 to match, got %v", result)
	}

	count, err := reader.Count(ctx, "motion", datastore.FilterOperator{
		Field: "rank", Operator: datastore.OpGreaterOrEqual, Value: float64(1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 matches, got %d", count)
	}

	exists, err := reader.Exists(ctx, "motion", datastore.FilterOperator{
		Field: "state", Operator: datastore.OpEqual, Value: "rejected",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatalf("no model should match state=rejected")
	}
}

func TestFilterNilMatchesEverything(t *testing.T) {
	reader, db := newTestDatabase(t)
	seedModel(t, db, "motion/1", map[string]any{}, false, 1)
	seedModel(t, db, "motion/2", map[string]any{}, false, 1)

	result, err := reader.Filter(context.Background(), "motion", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("nil filter must match all live models, got %v", result)
	}
}

func TestMinMaxAggregateNumericFields(t *testing.T) {
	reader, db := newTestDatabase(t)
	ctx := context.Background()
	seedModel(t, db, "motion/1", map[string]any{"rank": float64(4)}, false, 1)
	seedModel(t, db, "motion/2", map[string]any{"rank": float64(7)}, false, 1)
	seedModel(t, db, "motion/3", map[string]any{"title": "no rank"}, false, 1)

	min, err := reader.Min(ctx, "motion", nil, "rank")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if min == nil || *min != 4 {
		t.Fatalf("unexpected min: %v", min)
	}

	max, err := reader.Max(ctx, "motion", nil, "rank")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if max == nil || *max != 7 {
		t.Fatalf("unexpected max: %v", max)
	}

	absent, err := reader.Max(ctx, "motion", nil, "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if absent != nil {
		t.Fatalf("aggregate over a missing field must be nil, got %v", *absent)
	}
}
