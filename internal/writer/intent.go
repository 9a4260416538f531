// Package writer is the write pipeline: it translates client write intents
// into low-level events, assigns them a total order, applies them to model
// snapshots and persists the resulting position with its indices in one
// atomic transaction.
package writer

import (
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/MarcoPoloResearchLab/positron/internal/event"
)

// IntentKind enumerates the client-facing write operations.
type IntentKind string

const (
	// IntentCreate creates a model that does not currently exist live.
	IntentCreate IntentKind = "create"
	// IntentUpdate modifies fields of an existing live model.
	IntentUpdate IntentKind = "update"
	// IntentDelete marks an existing live model deleted.
	IntentDelete IntentKind = "delete"
)

// ListFields names list-valued fields to mutate set-like within an update.
type ListFields struct {
	Add    map[string][]any
	Remove map[string][]any
}

// WriteIntent is one client write operation against a single model. For
// updates, a nil field value removes the field.
type WriteIntent struct {
	Fqid       datastore.Fqid
	Kind       IntentKind
	Fields     map[string]any
	ListFields ListFields
}

// translateIntent validates the intent's preconditions against the prefetched
// model state and produces its low-level events. Events with no observable
// effect are already dropped here through the noop predicate.
func translateIntent(intent WriteIntent, models map[datastore.Fqid]*datastore.Snapshot) ([]event.Event, error) {
	current := models[intent.Fqid]

	switch intent.Kind {
	case IntentCreate:
		if current != nil && !current.Deleted {
			return nil, fmt.Errorf("%w: model %s already exists", datastore.ErrPrecondition, intent.Fqid)
		}
		return []event.Event{event.NewCreate(intent.Fqid, intent.Fields)}, nil

	case IntentUpdate:
		if current == nil || current.Deleted {
			return nil, fmt.Errorf("%w: model %s does not exist", datastore.ErrPrecondition, intent.Fqid)
		}
		setFields := map[string]any{}
		removeFields := []string{}
		for field, value := range intent.Fields {
			if value == nil {
				removeFields = append(removeFields, field)
			} else {
				setFields[field] = value
			}
		}
		candidates := []event.Event{
			event.NewUpdate(intent.Fqid, setFields),
			event.NewDeleteFields(intent.Fqid, removeFields),
			event.NewListUpdate(intent.Fqid, intent.ListFields.Add, intent.ListFields.Remove),
		}
		events := make([]event.Event, 0, len(candidates))
		for _, candidate := range candidates {
			if !candidate.Noop() {
				events = append(events, candidate)
			}
		}
		return events, nil

	case IntentDelete:
		if current == nil || current.Deleted {
			return nil, fmt.Errorf("%w: model %s does not exist", datastore.ErrPrecondition, intent.Fqid)
		}
		fields := make([]string, 0, len(current.Data))
		for field := range current.Data {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		return []event.Event{event.NewDelete(intent.Fqid, fields)}, nil

	default:
		return nil, fmt.Errorf("%w: unknown intent kind %q", datastore.ErrInvalidFormat, intent.Kind)
	}
}
