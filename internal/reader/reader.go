// Package reader provides the narrow read surface over committed model state
// that the write pipeline and migrations consume: batched fetch including
// tombstones, deleted-status lookup, and simple filter/aggregate queries over
// live models of one collection.
package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("database handle is required")

// DatabaseConfig carries the dependencies for a Database.
type DatabaseConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Database reads committed model snapshots from the models table.
type Database struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDatabase validates the config and returns a Database.
func NewDatabase(cfg DatabaseConfig) (*Database, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Database{db: cfg.Database, logger: logger}, nil
}

// WithTransaction returns a Database bound to the given transaction handle.
func (d *Database) WithTransaction(tx *gorm.DB) *Database {
	return &Database{db: tx, logger: d.logger}
}

// GetMany fetches the last known full state of every requested fqid in one
// batched read, including tombstoned models. Absent fqids are missing from
// the result.
func (d *Database) GetMany(ctx context.Context, fqids []datastore.Fqid) (map[datastore.Fqid]datastore.Snapshot, error) {
	result := make(map[datastore.Fqid]datastore.Snapshot, len(fqids))
	if len(fqids) == 0 {
		return result, nil
	}

	keys := make([]string, 0, len(fqids))
	for _, fqid := range fqids {
		keys = append(keys, fqid.String())
	}

	var rows []datastore.Model
	if err := d.db.WithContext(ctx).Where("fqid IN ?", keys).Find(&rows).Error; err != nil {
		d.logger.Error("model batch read failed", zap.Int("fqids", len(keys)), zap.Error(err))
		return nil, fmt.Errorf("read models: %w", err)
	}

	for _, row := range rows {
		snapshot, err := decodeSnapshot(row)
		if err != nil {
			return nil, err
		}
		result[snapshot.Fqid] = snapshot
	}
	return result, nil
}

// Get fetches a single model including tombstones.
func (d *Database) Get(ctx context.Context, fqid datastore.Fqid) (datastore.Snapshot, error) {
	models, err := d.GetMany(ctx, []datastore.Fqid{fqid})
	if err != nil {
		return datastore.Snapshot{}, err
	}
	snapshot, ok := models[fqid]
	if !ok {
		return datastore.Snapshot{}, fmt.Errorf("%w: %s", datastore.ErrModelDoesNotExist, fqid)
	}
	return snapshot, nil
}

// DeletedStatus reports, for every requested fqid with a record, whether that
// record is deleted. Absent fqids are missing from the result.
func (d *Database) DeletedStatus(ctx context.Context, fqids []datastore.Fqid) (map[datastore.Fqid]bool, error) {
	models, err := d.GetMany(ctx, fqids)
	if err != nil {
		return nil, err
	}
	status := make(map[datastore.Fqid]bool, len(models))
	for fqid, snapshot := range models {
		status[fqid] = snapshot.Deleted
	}
	return status, nil
}

// GetAll returns every live model of a collection keyed by id.
func (d *Database) GetAll(ctx context.Context, collection datastore.Collection) (map[int64]datastore.Snapshot, error) {
	var rows []datastore.Model
	err := d.db.WithContext(ctx).
		Where("fqid LIKE ? ESCAPE '\\' AND deleted = ?", likePattern(collection), false).
		Find(&rows).Error
	if err != nil {
		d.logger.Error("collection read failed", zap.String("collection", collection.String()), zap.Error(err))
		return nil, fmt.Errorf("read collection %s: %w", collection, err)
	}

	result := make(map[int64]datastore.Snapshot, len(rows))
	for _, row := range rows {
		snapshot, err := decodeSnapshot(row)
		if err != nil {
			return nil, err
		}
		result[snapshot.Fqid.ID()] = snapshot
	}
	return result, nil
}

// Filter returns the live models of a collection matching the filter.
func (d *Database) Filter(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (map[int64]datastore.Snapshot, error) {
	models, err := d.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	result := make(map[int64]datastore.Snapshot)
	for id, snapshot := range models {
		if filter == nil || filter.Matches(snapshot.Data) {
			result[id] = snapshot
		}
	}
	return result, nil
}

// Count returns the number of live models matching the filter.
func (d *Database) Count(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (int, error) {
	models, err := d.Filter(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	return len(models), nil
}

// Exists reports whether any live model matches the filter.
func (d *Database) Exists(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (bool, error) {
	count, err := d.Count(ctx, collection, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Min returns the smallest numeric value of field across matching live
// models, or nil if no matching model carries the field.
func (d *Database) Min(ctx context.Context, collection datastore.Collection, filter datastore.Filter, field string) (*float64, error) {
	return d.aggregate(ctx, collection, filter, field, func(best, value float64) bool { return value < best })
}

// Max returns the largest numeric value of field across matching live models,
// or nil if no matching model carries the field.
func (d *Database) Max(ctx context.Context, collection datastore.Collection, filter datastore.Filter, field string) (*float64, error) {
	return d.aggregate(ctx, collection, filter, field, func(best, value float64) bool { return value > best })
}

func (d *Database) aggregate(ctx context.Context, collection datastore.Collection, filter datastore.Filter, field string, better func(best, value float64) bool) (*float64, error) {
	models, err := d.Filter(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	var best *float64
	for _, snapshot := range models {
		raw, ok := snapshot.Data[field]
		if !ok {
			continue
		}
		value, ok := numericFieldValue(raw)
		if !ok {
			continue
		}
		if best == nil || better(*best, value) {
			candidate := value
			best = &candidate
		}
	}
	return best, nil
}

// likePattern escapes LIKE metacharacters so an underscore in a collection
// name matches itself, not any character.
func likePattern(collection datastore.Collection) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(collection.String())
	return escaped + "/%"
}

func decodeSnapshot(row datastore.Model) (datastore.Snapshot, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(row.DataJSON), &data); err != nil {
		return datastore.Snapshot{}, fmt.Errorf("decode model %s: %w", row.Fqid, err)
	}
	return datastore.Snapshot{
		Fqid:     datastore.Fqid(row.Fqid),
		Data:     data,
		Deleted:  row.Deleted,
		Position: row.Position,
	}, nil
}

func numericFieldValue(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case json.Number:
		parsed, err := typed.Float64()
		return parsed, err == nil
	default:
		return 0, false
	}
}
