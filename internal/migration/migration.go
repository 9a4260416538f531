// Package migration rewrites the historical event log into a new schema. An
// Engine replays one position at a time through a Migration implementation,
// keeping two keyframe projections consistent: one over the untouched
// historical events and one over the rewritten events.
package migration

import (
	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/MarcoPoloResearchLab/positron/internal/event"
	"github.com/MarcoPoloResearchLab/positron/internal/keyframe"
)

// PositionData carries the audit metadata of the position being migrated.
type PositionData struct {
	Position         int64
	TimestampSeconds int64
	UserID           int64
	Information      *string
}

// Migration converts the events of every position to a target schema
// version. Implementations may additionally satisfy PositionInitializer and
// AdditionalEventsProvider.
type Migration interface {
	// TargetMigrationIndex names the schema version the rewritten events
	// conform to. It must be a positive index.
	TargetMigrationIndex() int
	// MigrateEvent rewrites one event. Returning Unchanged() keeps the
	// original event; Replace(...) substitutes zero or more events.
	MigrateEvent(run *Run, evt event.Event) (EventResult, error)
}

// PositionInitializer is an optional hook invoked once per position before
// any event is migrated, for per-position precomputation.
type PositionInitializer interface {
	PositionInit(run *Run) error
}

// AdditionalEventsProvider is an optional hook invoked after all events of a
// position were migrated; returned events are appended to the position.
type AdditionalEventsProvider interface {
	AdditionalEvents(run *Run) ([]event.Event, error)
}

// EventResult is the tagged outcome of MigrateEvent.
type EventResult struct {
	replaced bool
	events   []event.Event
}

// Unchanged keeps the original event as-is.
func Unchanged() EventResult {
	return EventResult{}
}

// Replace substitutes the original event with zero or more events.
func Replace(events ...event.Event) EventResult {
	return EventResult{replaced: true, events: events}
}

// Run is the per-position state handed to every migration hook: the two
// keyframe projections, the position's audit metadata, and the model status
// summarizing the position's original create/delete events.
type Run struct {
	OldAccessor *keyframe.Accessor
	NewAccessor *keyframe.Accessor
	Position    PositionData

	modelStatus map[datastore.Fqid]event.Kind
}

// ModelStatus returns the final reachable create/delete status of fqid after
// this position's original events, if any such event targeted it.
func (r *Run) ModelStatus(fqid datastore.Fqid) (event.Kind, bool) {
	kind, ok := r.modelStatus[fqid]
	return kind, ok
}

// WillExist reports whether the model would exist after this position without
// the migration: either the rewritten projection knows it as not deleted and
// this position does not delete it, or this position creates it.
func (r *Run) WillExist(fqid datastore.Fqid) bool {
	status := r.modelStatus[fqid]
	return (r.NewAccessor.ModelNotDeleted(fqid) && status != event.KindDelete) || status == event.KindCreate
}

// newRun scans the position's original events in order and records, per fqid,
// the final reachable status. A delete, once recorded, is never overwritten
// by a later create within the same position: the model cannot be considered
// existing after a resurrect-after-delete artifact.
func newRun(events []event.Event, old, new *keyframe.Accessor, position PositionData) *Run {
	status := map[datastore.Fqid]event.Kind{}
	for _, evt := range events {
		kind := evt.Kind()
		if kind != event.KindCreate && kind != event.KindDelete {
			continue
		}
		if status[evt.Fqid()] == event.KindDelete {
			continue
		}
		status[evt.Fqid()] = kind
	}
	return &Run{
		OldAccessor: old,
		NewAccessor: new,
		Position:    position,
		modelStatus: status,
	}
}
