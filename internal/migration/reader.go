package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/MarcoPoloResearchLab/positron/internal/reader"
)

// GetManyRequest names the ids of one collection to fetch.
type GetManyRequest struct {
	Collection datastore.Collection
	IDs        []int64
}

// Reader is the read-only facade over committed, fully-current model state
// that migration logic uses to consult models unrelated to the position being
// rewritten.
type Reader interface {
	Get(ctx context.Context, fqid datastore.Fqid) (datastore.Snapshot, error)
	GetMany(ctx context.Context, requests []GetManyRequest) (map[datastore.Collection]map[int64]datastore.Snapshot, error)
	GetAll(ctx context.Context, collection datastore.Collection) (map[int64]datastore.Snapshot, error)
	Filter(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (map[int64]datastore.Snapshot, error)
	Exists(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (bool, error)
	Count(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (int, error)
	Min(ctx context.Context, collection datastore.Collection, filter datastore.Filter, field string) (*float64, error)
	Max(ctx context.Context, collection datastore.Collection, filter datastore.Filter, field string) (*float64, error)
	// IsAlive reports whether the model exists and is not deleted.
	IsAlive(ctx context.Context, fqid datastore.Fqid) (bool, error)
	// IsDeleted reports whether the model exists and is deleted.
	IsDeleted(ctx context.Context, fqid datastore.Fqid) (bool, error)
	// ModelExists reports whether any record, deleted or not, exists for fqid.
	ModelExists(ctx context.Context, fqid datastore.Fqid) (bool, error)
}

var errMissingReadDatabase = errors.New("read database is required")

// databaseReader delegates to the live read database.
type databaseReader struct {
	db *reader.Database
}

// NewDatabaseReader returns a Reader over the live read database.
func NewDatabaseReader(db *reader.Database) (Reader, error) {
	if db == nil {
		return nil, errMissingReadDatabase
	}
	return &databaseReader{db: db}, nil
}

func (r *databaseReader) Get(ctx context.Context, fqid datastore.Fqid) (datastore.Snapshot, error) {
	snapshot, err := r.db.Get(ctx, fqid)
	if err != nil {
		return datastore.Snapshot{}, err
	}
	if snapshot.Deleted {
		return datastore.Snapshot{}, fmt.Errorf("%w: %s", datastore.ErrModelDoesNotExist, fqid)
	}
	return snapshot, nil
}

func (r *databaseReader) GetMany(ctx context.Context, requests []GetManyRequest) (map[datastore.Collection]map[int64]datastore.Snapshot, error) {
	fqids := make([]datastore.Fqid, 0)
	for _, request := range requests {
		for _, id := range request.IDs {
			fqids = append(fqids, datastore.FqidFromCollectionAndID(request.Collection, id))
		}
	}
	models, err := r.db.GetMany(ctx, fqids)
	if err != nil {
		return nil, err
	}

	result := map[datastore.Collection]map[int64]datastore.Snapshot{}
	for _, request := range requests {
		for _, id := range request.IDs {
			snapshot, ok := models[datastore.FqidFromCollectionAndID(request.Collection, id)]
			if !ok || snapshot.Deleted {
				continue
			}
			if result[request.Collection] == nil {
				result[request.Collection] = map[int64]datastore.Snapshot{}
			}
			result[request.Collection][id] = snapshot
		}
	}
	return result, nil
}

func (r *databaseReader) GetAll(ctx context.Context, collection datastore.Collection) (map[int64]datastore.Snapshot, error) {
	return r.db.GetAll(ctx, collection)
}

func (r *databaseReader) Filter(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (map[int64]datastore.Snapshot, error) {
	return r.db.Filter(ctx, collection, filter)
}

func (r *databaseReader) Exists(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (bool, error) {
	return r.db.Exists(ctx, collection, filter)
}

func (r *databaseReader) Count(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (int, error) {
	return r.db.Count(ctx, collection, filter)
}

func (r *databaseReader) Min(ctx context.Context, collection datastore.Collection, filter datastore.Filter, field string) (*float64, error) {
	return r.db.Min(ctx, collection, filter, field)
}

func (r *databaseReader) Max(ctx context.Context, collection datastore.Collection, filter datastore.Filter, field string) (*float64, error) {
	return r.db.Max(ctx, collection, filter, field)
}

func (r *databaseReader) IsAlive(ctx context.Context, fqid datastore.Fqid) (bool, error) {
	status, err := r.db.DeletedStatus(ctx, []datastore.Fqid{fqid})
	if err != nil {
		return false, err
	}
	deleted, ok := status[fqid]
	return ok && !deleted, nil
}

func (r *databaseReader) IsDeleted(ctx context.Context, fqid datastore.Fqid) (bool, error) {
	status, err := r.db.DeletedStatus(ctx, []datastore.Fqid{fqid})
	if err != nil {
		return false, err
	}
	deleted, ok := status[fqid]
	return ok && deleted, nil
}

func (r *databaseReader) ModelExists(ctx context.Context, fqid datastore.Fqid) (bool, error) {
	status, err := r.db.DeletedStatus(ctx, []datastore.Fqid{fqid})
	if err != nil {
		return false, err
	}
	_, ok := status[fqid]
	return ok, nil
}
