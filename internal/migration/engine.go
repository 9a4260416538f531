package migration

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/MarcoPoloResearchLab/positron/internal/event"
	"github.com/MarcoPoloResearchLab/positron/internal/keyframe"
)

// Engine replays positions through one Migration. It is constructed once per
// migration pass; Migrate is called once per position, in increasing position
// order.
type Engine struct {
	migration Migration
}

// NewEngine validates the migration's target index and returns an Engine.
func NewEngine(m Migration) (*Engine, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: migration is required", datastore.ErrMigrationSetup)
	}
	if m.TargetMigrationIndex() < 1 {
		return nil, fmt.Errorf("%w: target migration index %d is not a valid index", datastore.ErrMigrationSetup, m.TargetMigrationIndex())
	}
	return &Engine{migration: m}, nil
}

// TargetMigrationIndex exposes the migration's target schema version.
func (e *Engine) TargetMigrationIndex() int {
	return e.migration.TargetMigrationIndex()
}

// Migrate rewrites the events of one position. The returned list wholly
// replaces the position's stored events; returning semantically-equivalent
// originals is valid when the migration does not affect the position. The
// old accessor is fed the untouched events, the new accessor the rewritten
// ones; both persist across positions of one pass.
func (e *Engine) Migrate(events []event.Event, old, new *keyframe.Accessor, position PositionData) ([]event.Event, error) {
	run := newRun(events, old, new, position)
	old.SetPosition(position.Position)
	new.SetPosition(position.Position)

	if initializer, ok := e.migration.(PositionInitializer); ok {
		if err := initializer.PositionInit(run); err != nil {
			return nil, fmt.Errorf("position %d init: %w", position.Position, err)
		}
	}

	newEvents := []event.Event{}
	for _, evt := range OrderEvents(events) {
		original := evt.Clone()

		result, err := e.migration.MigrateEvent(run, evt)
		if err != nil {
			return nil, fmt.Errorf("position %d: migrate %s event on %s: %w", position.Position, evt.Kind(), evt.Fqid(), err)
		}
		replacements := result.events
		if !result.replaced {
			replacements = []event.Event{original}
		}

		if err := old.ApplyEvent(original); err != nil {
			return nil, fmt.Errorf("position %d: apply original event to old projection: %w", position.Position, err)
		}
		for _, replacement := range replacements {
			if replacement.Noop() {
				continue
			}
			if err := new.ApplyEvent(replacement); err != nil {
				return nil, fmt.Errorf("position %d: apply rewritten event to new projection: %w", position.Position, err)
			}
			newEvents = append(newEvents, replacement)
		}
	}

	if provider, ok := e.migration.(AdditionalEventsProvider); ok {
		additional, err := provider.AdditionalEvents(run)
		if err != nil {
			return nil, fmt.Errorf("position %d: additional events: %w", position.Position, err)
		}
		for _, extra := range additional {
			if err := new.ApplyEvent(extra); err != nil {
				return nil, fmt.Errorf("position %d: apply additional event to new projection: %w", position.Position, err)
			}
			newEvents = append(newEvents, extra)
		}
	}

	return newEvents, nil
}

// OrderEvents returns create events first, everything else afterwards, with
// the relative order inside both partitions preserved. This guarantees that
// any model referenced by a non-create event of the position was already
// created when that event is migrated.
func OrderEvents(events []event.Event) []event.Event {
	ordered := make([]event.Event, 0, len(events))
	queued := make([]event.Event, 0, len(events))
	for _, evt := range events {
		if evt.Kind() == event.KindCreate {
			ordered = append(ordered, evt)
		} else {
			queued = append(queued, evt)
		}
	}
	return append(ordered, queued...)
}
