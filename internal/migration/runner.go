package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/MarcoPoloResearchLab/positron/internal/event"
	"github.com/MarcoPoloResearchLab/positron/internal/keyframe"
	"github.com/MarcoPoloResearchLab/positron/internal/writer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("database handle is required")

// RunnerConfig carries the dependencies for a Runner.
type RunnerConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Runner replays the entire stored log through one migration: position by
// position, in increasing position order, it rewrites each position's event
// rows and advances the position's migration index to the target. Positions
// must not be processed in parallel; the keyframe projections accumulate
// state across positions.
type Runner struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRunner validates the config and returns a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{db: cfg.Database, logger: logger}, nil
}

// Run performs one full migration pass over the log. Transform errors
// propagate to the caller; the position being rewritten when the error
// occurred is rolled back and no later position is touched.
func (r *Runner) Run(ctx context.Context, m Migration) error {
	engine, err := NewEngine(m)
	if err != nil {
		return err
	}

	var positions []datastore.Position
	if err := r.db.WithContext(ctx).Order("position ASC").Find(&positions).Error; err != nil {
		return fmt.Errorf("read positions: %w", err)
	}

	oldAccessor := keyframe.NewAccessor()
	newAccessor := keyframe.NewAccessor()

	for _, position := range positions {
		if err := r.migratePosition(ctx, engine, position, oldAccessor, newAccessor); err != nil {
			return err
		}
	}

	// fields whose every event vanished in the rewrite leave index entries
	// with no links behind
	err = r.db.WithContext(ctx).
		Exec("DELETE FROM collectionfields WHERE id NOT IN (SELECT collectionfield_id FROM events_to_collectionfields)").Error
	if err != nil {
		return fmt.Errorf("drop orphaned collectionfields: %w", err)
	}

	r.logger.Info("migration pass finished",
		zap.Int("target_migration_index", engine.TargetMigrationIndex()),
		zap.Int("positions", len(positions)))
	return nil
}

func (r *Runner) migratePosition(ctx context.Context, engine *Engine, position datastore.Position, oldAccessor, newAccessor *keyframe.Accessor) error {
	var rows []datastore.Event
	err := r.db.WithContext(ctx).
		Where("position = ?", position.Position).
		Order("weight ASC").
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("read events of position %d: %w", position.Position, err)
	}

	events := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		decoded, err := event.Decode(event.Kind(row.Type), datastore.Fqid(row.Fqid), row.DataJSON)
		if err != nil {
			return fmt.Errorf("position %d: %w", position.Position, err)
		}
		events = append(events, decoded)
	}

	positionData := PositionData{
		Position:         position.Position,
		TimestampSeconds: position.TimestampSeconds,
		UserID:           position.UserID,
		Information:      position.Information,
	}

	newEvents, err := engine.Migrate(events, oldAccessor, newAccessor, positionData)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var staleEventIDs []int64
		err := tx.Model(&datastore.Event{}).
			Where("position = ?", position.Position).
			Pluck("id", &staleEventIDs).Error
		if err != nil {
			return fmt.Errorf("read event ids of position %d: %w", position.Position, err)
		}
		if len(staleEventIDs) > 0 {
			if err := tx.Where("event_id IN ?", staleEventIDs).Delete(&datastore.EventCollectionField{}).Error; err != nil {
				return fmt.Errorf("clear collectionfield links of position %d: %w", position.Position, err)
			}
		}
		if err := tx.Where("position = ?", position.Position).Delete(&datastore.Event{}).Error; err != nil {
			return fmt.Errorf("clear events of position %d: %w", position.Position, err)
		}
		eventIDs := make([]int64, 0, len(newEvents))
		for index, newEvent := range newEvents {
			dataJSON, err := newEvent.EncodeData()
			if err != nil {
				return fmt.Errorf("position %d: %w", position.Position, err)
			}
			row := datastore.Event{
				Position: position.Position,
				Fqid:     newEvent.Fqid().String(),
				Type:     string(newEvent.Kind()),
				DataJSON: dataJSON,
				Weight:   index + 1,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("write rewritten event of position %d: %w", position.Position, err)
			}
			eventIDs = append(eventIDs, row.ID)
		}
		if err := writer.UpdateCollectionFieldIndex(tx, position.Position, newEvents, eventIDs); err != nil {
			return fmt.Errorf("rebuild collectionfield index of position %d: %w", position.Position, err)
		}
		err = tx.Model(&datastore.Position{}).
			Where("position = ?", position.Position).
			Update("migration_index", engine.TargetMigrationIndex()).Error
		if err != nil {
			return fmt.Errorf("advance migration index of position %d: %w", position.Position, err)
		}
		return nil
	})
}
