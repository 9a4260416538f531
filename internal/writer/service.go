package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/MarcoPoloResearchLab/positron/internal/event"
	"github.com/MarcoPoloResearchLab/positron/internal/reader"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingReadDatabase = errors.New("read database is required")
	noOpLogger             = zap.NewNop()
)

const (
	opServiceNew               = "writer.service.new"
	opInsertEvents             = "writer.insert_events"
	opReserveNextIDs           = "writer.reserve_next_ids"
	opDeleteHistoryInformation = "writer.delete_history_information"
	opTruncateDB               = "writer.truncate_db"
)

// ServiceConfig carries the dependencies for the write pipeline.
type ServiceConfig struct {
	Database     *gorm.DB
	ReadDatabase *reader.Database
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service is the write pipeline. Each call is one bounded, synchronous unit
// of work running inside a single database transaction.
type Service struct {
	db     *gorm.DB
	readDB *reader.Database
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the config and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.ReadDatabase == nil {
		return nil, errMissingReadDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		readDB: cfg.ReadDatabase,
		clock:  clock,
		logger: logger,
	}, nil
}

// WriteResult reports a committed position and, per fqid, the final merged
// value of every field that changed in the batch. It feeds external
// change-notification delivery.
type WriteResult struct {
	Position       int64
	ModifiedFields map[datastore.Fqid]map[string]any
}

type eventData struct {
	evt      event.Event
	dataJSON string
	weight   int
}

// InsertEvents writes one new position: it translates the intents into
// low-level events, assigns weights, applies the events to the prefetched
// model snapshots and durably persists models, sequences, event rows and the
// collectionfield index in one atomic transaction.
func (s *Service) InsertEvents(ctx context.Context, intents []WriteIntent, migrationIndex int, information any, userID int64) (WriteResult, error) {
	if len(intents) == 0 {
		err := fmt.Errorf("%w: insert_events called with no events", datastore.ErrProgramming)
		s.logError(opInsertEvents, "empty_batch", err)
		return WriteResult{}, err
	}

	informationJSON, err := encodeInformation(information)
	if err != nil {
		s.logError(opInsertEvents, "encode_information", err)
		return WriteResult{}, err
	}

	var result WriteResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		positionRow := datastore.Position{
			TimestampSeconds: s.clock().UTC().Unix(),
			MigrationIndex:   migrationIndex,
			UserID:           userID,
			Information:      informationJSON,
		}
		if err := tx.Create(&positionRow).Error; err != nil {
			s.logError(opInsertEvents, "position_insert_failed", err)
			return fmt.Errorf("create position: %w", err)
		}
		position := positionRow.Position

		fqids, err := referencedFqids(intents)
		if err != nil {
			return err
		}
		models, err := s.prefetchModels(ctx, tx, fqids)
		if err != nil {
			return err
		}

		// one running weight counter shared across all intents of this call
		weight := 0
		eventsData := []eventData{}
		changedFields := map[datastore.Fqid]map[string]struct{}{}
		maxIDPerCollection := map[datastore.Collection]int64{}

		for _, intent := range intents {
			translated, err := translateIntent(intent, models)
			if err != nil {
				s.logError(opInsertEvents, "translation_failed", err, zap.String("fqid", intent.Fqid.String()))
				return err
			}
			for _, evt := range translated {
				weight++
				dataJSON, err := evt.EncodeData()
				if err != nil {
					return err
				}
				eventsData = append(eventsData, eventData{evt: evt, dataJSON: dataJSON, weight: weight})

				for _, field := range evt.ModifiedFields() {
					if changedFields[evt.Fqid()] == nil {
						changedFields[evt.Fqid()] = map[string]struct{}{}
					}
					changedFields[evt.Fqid()][field] = struct{}{}
				}

				if evt.Kind() == event.KindCreate {
					collection := evt.Fqid().Collection()
					if next := evt.Fqid().ID() + 1; next > maxIDPerCollection[collection] {
						maxIDPerCollection[collection] = next
					}
				}

				next, err := event.Apply(models[evt.Fqid()], evt, position)
				if err != nil {
					return err
				}
				models[evt.Fqid()] = &next
			}
		}

		if len(eventsData) == 0 {
			err := fmt.Errorf("%w: all events of the batch are noops", datastore.ErrProgramming)
			s.logError(opInsertEvents, "noop_batch", err)
			return err
		}

		if err := s.advanceIDSequences(tx, maxIDPerCollection); err != nil {
			return err
		}
		if err := s.writeModelUpdates(tx, models); err != nil {
			return err
		}
		eventIDs, err := s.writeEvents(tx, position, eventsData)
		if err != nil {
			return err
		}
		events := make([]event.Event, 0, len(eventsData))
		for _, data := range eventsData {
			events = append(events, data.evt)
		}
		if err := UpdateCollectionFieldIndex(tx, position, events, eventIDs); err != nil {
			s.logError(opInsertEvents, "collectionfield_index_failed", err)
			return err
		}

		result = WriteResult{
			Position:       position,
			ModifiedFields: collectModifiedFields(models, changedFields),
		}
		return nil
	})
	if txErr != nil {
		return WriteResult{}, txErr
	}

	s.logger.Info("position written",
		zap.Int64("position", result.Position),
		zap.Int("intents", len(intents)))
	return result, nil
}

func referencedFqids(intents []WriteIntent) ([]datastore.Fqid, error) {
	seen := map[datastore.Fqid]struct{}{}
	fqids := make([]datastore.Fqid, 0, len(intents))
	for _, intent := range intents {
		if _, err := datastore.NewFqid(intent.Fqid.String()); err != nil {
			return nil, err
		}
		if _, ok := seen[intent.Fqid]; ok {
			continue
		}
		seen[intent.Fqid] = struct{}{}
		fqids = append(fqids, intent.Fqid)
	}
	return fqids, nil
}

func (s *Service) prefetchModels(ctx context.Context, tx *gorm.DB, fqids []datastore.Fqid) (map[datastore.Fqid]*datastore.Snapshot, error) {
	snapshots, err := s.readDB.WithTransaction(tx).GetMany(ctx, fqids)
	if err != nil {
		s.logError(opInsertEvents, "model_prefetch_failed", err)
		return nil, err
	}
	models := make(map[datastore.Fqid]*datastore.Snapshot, len(snapshots))
	for fqid, snapshot := range snapshots {
		copied := snapshot
		models[fqid] = &copied
	}
	return models, nil
}

func (s *Service) advanceIDSequences(tx *gorm.DB, maxIDPerCollection map[datastore.Collection]int64) error {
	collections := make([]datastore.Collection, 0, len(maxIDPerCollection))
	for collection := range maxIDPerCollection {
		collections = append(collections, collection)
	}
	sort.Slice(collections, func(i, j int) bool { return collections[i] < collections[j] })

	for _, collection := range collections {
		row := datastore.IDSequence{Collection: collection.String(), ID: maxIDPerCollection[collection]}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}},
			DoUpdates: clause.Assignments(map[string]any{"id": gorm.Expr("MAX(id_sequences.id, excluded.id)")}),
		}).Create(&row).Error
		if err != nil {
			s.logError(opInsertEvents, "id_sequence_advance_failed", err, zap.String("collection", collection.String()))
			return fmt.Errorf("advance id sequence for %s: %w", collection, err)
		}
	}
	return nil
}

func (s *Service) writeModelUpdates(tx *gorm.DB, models map[datastore.Fqid]*datastore.Snapshot) error {
	fqids := make([]datastore.Fqid, 0, len(models))
	for fqid := range models {
		fqids = append(fqids, fqid)
	}
	sort.Slice(fqids, func(i, j int) bool { return fqids[i] < fqids[j] })

	for _, fqid := range fqids {
		snapshot := models[fqid]
		dataJSON, err := json.Marshal(snapshot.Data)
		if err != nil {
			return fmt.Errorf("encode model %s: %w", fqid, err)
		}
		row := datastore.Model{
			Fqid:     fqid.String(),
			DataJSON: string(dataJSON),
			Deleted:  snapshot.Deleted,
			Position: snapshot.Position,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fqid"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "deleted", "position"}),
		}).Create(&row).Error
		if err != nil {
			s.logError(opInsertEvents, "model_upsert_failed", err, zap.String("fqid", fqid.String()))
			return fmt.Errorf("upsert model %s: %w", fqid, err)
		}
	}
	return nil
}

func (s *Service) writeEvents(tx *gorm.DB, position int64, eventsData []eventData) ([]int64, error) {
	eventIDs := make([]int64, 0, len(eventsData))
	for _, data := range eventsData {
		row := datastore.Event{
			Position: position,
			Fqid:     data.evt.Fqid().String(),
			Type:     string(data.evt.Kind()),
			DataJSON: data.dataJSON,
			Weight:   data.weight,
		}
		if err := tx.Create(&row).Error; err != nil {
			s.logError(opInsertEvents, "event_insert_failed", err, zap.String("fqid", row.Fqid))
			return nil, fmt.Errorf("insert event: %w", err)
		}
		eventIDs = append(eventIDs, row.ID)
	}
	return eventIDs, nil
}

func collectModifiedFields(models map[datastore.Fqid]*datastore.Snapshot, changedFields map[datastore.Fqid]map[string]struct{}) map[datastore.Fqid]map[string]any {
	modified := make(map[datastore.Fqid]map[string]any, len(changedFields))
	for fqid, fields := range changedFields {
		values := make(map[string]any, len(fields))
		for field := range fields {
			if snapshot := models[fqid]; snapshot != nil {
				values[field] = snapshot.Data[field]
			}
		}
		modified[fqid] = values
	}
	return modified
}

// ReserveNextIDs atomically reserves a contiguous block of ids for a
// collection. The sequence row stores the next unissued id; the single upsert
// advances it by amount and the block is derived from the new high-water
// mark, avoiding read-then-write races under concurrent callers.
func (s *Service) ReserveNextIDs(ctx context.Context, collection string, amount int) ([]int64, error) {
	if amount < 1 {
		err := fmt.Errorf("%w: amount must be >= 1, not %d", datastore.ErrInvalidFormat, amount)
		s.logError(opReserveNextIDs, "invalid_amount", err)
		return nil, err
	}
	validated, err := datastore.NewCollection(collection)
	if err != nil {
		s.logError(opReserveNextIDs, "invalid_collection", err)
		return nil, err
	}

	var newMax int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := datastore.IDSequence{Collection: validated.String(), ID: int64(amount) + 1}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}},
			DoUpdates: clause.Assignments(map[string]any{"id": gorm.Expr("id_sequences.id + excluded.id - 1")}),
		}).Create(&row).Error
		if err != nil {
			s.logError(opReserveNextIDs, "sequence_upsert_failed", err, zap.String("collection", validated.String()))
			return fmt.Errorf("advance id sequence for %s: %w", validated, err)
		}
		var stored datastore.IDSequence
		if err := tx.Where("collection = ?", validated.String()).Take(&stored).Error; err != nil {
			return fmt.Errorf("read id sequence for %s: %w", validated, err)
		}
		newMax = stored.ID
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	ids := make([]int64, 0, amount)
	for id := newMax - int64(amount); id < newMax; id++ {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteHistoryInformation irreversibly nulls the audit information field on
// all positions, leaving events untouched.
func (s *Service) DeleteHistoryInformation(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Model(&datastore.Position{}).
		Where("1 = 1").
		Update("information", nil).Error
	if err != nil {
		s.logError(opDeleteHistoryInformation, "update_failed", err)
		return fmt.Errorf("delete history information: %w", err)
	}
	return nil
}

// TruncateDB erases all tables and resets the identifier sequences to a
// clean start. Development only; the dev-mode guard lives a layer above.
func (s *Service) TruncateDB(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range datastore.AllTableNames {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				s.logError(opTruncateDB, "table_delete_failed", err, zap.String("table", table))
				return fmt.Errorf("truncate %s: %w", table, err)
			}
		}
		// sqlite_sequence only exists after the first autoincrement insert
		if err := tx.Exec("DELETE FROM sqlite_sequence").Error; err != nil && !strings.Contains(err.Error(), "no such table") {
			s.logError(opTruncateDB, "sequence_reset_failed", err)
			return fmt.Errorf("reset sequences: %w", err)
		}
		return nil
	})
}

func encodeInformation(information any) (*string, error) {
	if information == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(information)
	if err != nil {
		return nil, fmt.Errorf("encode information: %w", err)
	}
	value := string(encoded)
	return &value, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("writer service error", attrs...)
}
