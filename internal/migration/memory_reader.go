package migration

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
)

// MemoryReader is the in-memory Reader double backed by a plain fqid -> field
// table. It never reports anything as deleted: deletion tracking is out of
// scope for the double, so IsAlive degrades to ModelExists and IsDeleted is
// always false. Migration logic exercising deletion-aware branches must be
// tested against the live reader instead.
type MemoryReader struct {
	Models map[datastore.Fqid]map[string]any
}

// NewMemoryReader returns a double over the given model table.
func NewMemoryReader(models map[datastore.Fqid]map[string]any) *MemoryReader {
	if models == nil {
		models = map[datastore.Fqid]map[string]any{}
	}
	return &MemoryReader{Models: models}
}

func (r *MemoryReader) Get(_ context.Context, fqid datastore.Fqid) (datastore.Snapshot, error) {
	data, ok := r.Models[fqid]
	if !ok {
		return datastore.Snapshot{}, fmt.Errorf("%w: %s", datastore.ErrModelDoesNotExist, fqid)
	}
	return snapshotOf(fqid, data), nil
}

func (r *MemoryReader) GetMany(_ context.Context, requests []GetManyRequest) (map[datastore.Collection]map[int64]datastore.Snapshot, error) {
	result := map[datastore.Collection]map[int64]datastore.Snapshot{}
	for _, request := range requests {
		for _, id := range request.IDs {
			fqid := datastore.FqidFromCollectionAndID(request.Collection, id)
			data, ok := r.Models[fqid]
			if !ok {
				continue
			}
			if result[request.Collection] == nil {
				result[request.Collection] = map[int64]datastore.Snapshot{}
			}
			result[request.Collection][id] = snapshotOf(fqid, data)
		}
	}
	return result, nil
}

func (r *MemoryReader) GetAll(_ context.Context, collection datastore.Collection) (map[int64]datastore.Snapshot, error) {
	result := map[int64]datastore.Snapshot{}
	for fqid, data := range r.Models {
		if fqid.Collection() == collection {
			result[fqid.ID()] = snapshotOf(fqid, data)
		}
	}
	return result, nil
}

func (r *MemoryReader) Filter(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (map[int64]datastore.Snapshot, error) {
	models, err := r.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	result := map[int64]datastore.Snapshot{}
	for id, snapshot := range models {
		if filter == nil || filter.Matches(snapshot.Data) {
			result[id] = snapshot
		}
	}
	return result, nil
}

func (r *MemoryReader) Exists(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (bool, error) {
	count, err := r.Count(ctx, collection, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *MemoryReader) Count(ctx context.Context, collection datastore.Collection, filter datastore.Filter) (int, error) {
	models, err := r.Filter(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	return len(models), nil
}

func (r *MemoryReader) Min(ctx context.Context, collection datastore.Collection, filter datastore.Filter, field string) (*float64, error) {
	return r.aggregate(ctx, collection, filter, field, func(best, value float64) bool { return value < best })
}

func (r *MemoryReader) Max(ctx context.Context, collection datastore.Collection, filter datastore.Filter, field string) (*float64, error) {
	return r.aggregate(ctx, collection, filter, field, func(best, value float64) bool { return value > best })
}

func (r *MemoryReader) IsAlive(ctx context.Context, fqid datastore.Fqid) (bool, error) {
	return r.ModelExists(ctx, fqid)
}

func (r *MemoryReader) IsDeleted(_ context.Context, _ datastore.Fqid) (bool, error) {
	return false, nil
}

func (r *MemoryReader) ModelExists(_ context.Context, fqid datastore.Fqid) (bool, error) {
	_, ok := r.Models[fqid]
	return ok, nil
}

func (r *MemoryReader) aggregate(ctx context.Context, collection datastore.Collection, filter datastore.Filter, field string, better func(best, value float64) bool) (*float64, error) {
	models, err := r.Filter(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	var best *float64
	for _, snapshot := range models {
		value, ok := snapshot.Data[field]
		if !ok {
			continue
		}
		numeric, ok := value.(float64)
		if !ok {
			continue
		}
		if best == nil || better(*best, numeric) {
			candidate := numeric
			best = &candidate
		}
	}
	return best, nil
}

func snapshotOf(fqid datastore.Fqid, data map[string]any) datastore.Snapshot {
	return datastore.Snapshot{Fqid: fqid, Data: data}
}
