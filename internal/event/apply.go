package event

import (
	"fmt"
	"reflect"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
)

// Apply folds one event into a model snapshot and stamps the resulting
// snapshot's position. current is nil for models not previously seen; only a
// create event may target an absent model, anything else is a contract
// violation by the caller.
func Apply(current *datastore.Snapshot, evt Event, position int64) (datastore.Snapshot, error) {
	if current == nil {
		if evt.Kind() != KindCreate {
			return datastore.Snapshot{}, fmt.Errorf("%w: %s event on absent model %s", datastore.ErrProgramming, evt.Kind(), evt.Fqid())
		}
		current = &datastore.Snapshot{Fqid: evt.Fqid(), Data: map[string]any{}}
	}

	next := current.Clone()
	next.Fqid = evt.Fqid()
	next.Position = position

	switch typed := evt.(type) {
	case *Create:
		next.Data = make(map[string]any, len(typed.Fields()))
		for field, value := range typed.Fields() {
			next.Data[field] = value
		}
		next.Deleted = false
	case *Update:
		for field, value := range typed.Fields() {
			next.Data[field] = value
		}
	case *DeleteFields:
		for _, field := range typed.Fields() {
			delete(next.Data, field)
		}
	case *ListUpdate:
		for field, values := range typed.Add() {
			list, err := listValue(next.Data, field)
			if err != nil {
				return datastore.Snapshot{}, err
			}
			// the stored list may be shared with other snapshots of the same
			// model; never append into its backing array
			merged := make([]any, len(list), len(list)+len(values))
			copy(merged, list)
			for _, value := range values {
				if !containsValue(merged, value) {
					merged = append(merged, value)
				}
			}
			next.Data[field] = merged
		}
		for field, values := range typed.Remove() {
			list, err := listValue(next.Data, field)
			if err != nil {
				return datastore.Snapshot{}, err
			}
			kept := make([]any, 0, len(list))
			for _, existing := range list {
				if !containsValue(values, existing) {
					kept = append(kept, existing)
				}
			}
			next.Data[field] = kept
		}
	case *Delete:
		// data stays behind as a tombstone
		next.Deleted = true
	default:
		return datastore.Snapshot{}, fmt.Errorf("%w: unknown event type %q", datastore.ErrProgramming, evt.Kind())
	}

	return next, nil
}

func listValue(data map[string]any, field string) ([]any, error) {
	raw, ok := data[field]
	if !ok {
		return []any{}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: field %s is not a list", datastore.ErrInvalidFormat, field)
	}
	return list, nil
}

func containsValue(list []any, value any) bool {
	for _, existing := range list {
		if reflect.DeepEqual(existing, value) {
			return true
		}
	}
	return false
}
