// Package keyframe holds the incrementally-built model projections used
// during migration replay. A migration run owns two accessors: one fed the
// untouched historical events and one fed the rewritten events. Both
// accumulate state across all positions of the run.
package keyframe

import (
	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/MarcoPoloResearchLab/positron/internal/event"
)

// Accessor is a mutable fqid -> snapshot projection built by replay.
type Accessor struct {
	models   map[datastore.Fqid]datastore.Snapshot
	position int64
}

// NewAccessor returns an empty accessor.
func NewAccessor() *Accessor {
	return &Accessor{models: map[datastore.Fqid]datastore.Snapshot{}}
}

// SetPosition records the position stamped onto snapshots by subsequent
// ApplyEvent calls.
func (a *Accessor) SetPosition(position int64) {
	a.position = position
}

// ApplyEvent folds one event into the accumulated projection.
func (a *Accessor) ApplyEvent(evt event.Event) error {
	var current *datastore.Snapshot
	if snapshot, ok := a.models[evt.Fqid()]; ok {
		current = &snapshot
	}
	next, err := event.Apply(current, evt, a.position)
	if err != nil {
		return err
	}
	a.models[evt.Fqid()] = next
	return nil
}

// Model returns the accumulated snapshot for fqid, if any.
func (a *Accessor) Model(fqid datastore.Fqid) (datastore.Snapshot, bool) {
	snapshot, ok := a.models[fqid]
	return snapshot, ok
}

// ModelNotDeleted reports whether fqid was created and its last known state
// is not deleted.
func (a *Accessor) ModelNotDeleted(fqid datastore.Fqid) bool {
	snapshot, ok := a.models[fqid]
	return ok && !snapshot.Deleted
}
