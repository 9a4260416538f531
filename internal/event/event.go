package event

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
)

// Kind enumerates the low-level event variants of the log.
type Kind string

const (
	// KindCreate replaces a model's data wholesale and marks it live.
	KindCreate Kind = "create"
	// KindUpdate shallow-merges fields into a model's data.
	KindUpdate Kind = "update"
	// KindDelete marks a model deleted, retaining its data as a tombstone.
	KindDelete Kind = "delete"
	// KindDeleteFields removes named fields from a model's data.
	KindDeleteFields Kind = "delete_fields"
	// KindListUpdate adds values to and removes values from list-valued fields.
	KindListUpdate Kind = "list_update"
)

// Event is one typed log event targeting a single model.
type Event interface {
	// Fqid identifies the model the event applies to.
	Fqid() datastore.Fqid
	// Kind discriminates the event variant.
	Kind() Kind
	// ModifiedFields lists the fields the event touches, sorted.
	ModifiedFields() []string
	// Noop reports whether applying the event has no observable effect.
	Noop() bool
	// Clone returns an independent deep copy.
	Clone() Event
	// EncodeData serializes the event payload for the event row's data column.
	EncodeData() (string, error)
}

// Create replaces the model's data with its fields and marks the model live.
type Create struct {
	fqid   datastore.Fqid
	fields map[string]any
}

// NewCreate constructs a create event.
func NewCreate(fqid datastore.Fqid, fields map[string]any) *Create {
	return &Create{fqid: fqid, fields: cloneFields(fields)}
}

func (e *Create) Fqid() datastore.Fqid { return e.fqid }

func (e *Create) Kind() Kind { return KindCreate }

// Fields returns the full model payload.
func (e *Create) Fields() map[string]any { return e.fields }

func (e *Create) ModifiedFields() []string { return sortedKeys(e.fields) }

// Noop is always false: a create is never dropped regardless of payload.
func (e *Create) Noop() bool { return false }

func (e *Create) Clone() Event { return NewCreate(e.fqid, e.fields) }

func (e *Create) EncodeData() (string, error) { return encodeJSON(e.fields) }

// Update shallow-merges its fields into the model's data.
type Update struct {
	fqid   datastore.Fqid
	fields map[string]any
}

// NewUpdate constructs an update event.
func NewUpdate(fqid datastore.Fqid, fields map[string]any) *Update {
	return &Update{fqid: fqid, fields: cloneFields(fields)}
}

func (e *Update) Fqid() datastore.Fqid { return e.fqid }

func (e *Update) Kind() Kind { return KindUpdate }

// Fields returns the field diff.
func (e *Update) Fields() map[string]any { return e.fields }

func (e *Update) ModifiedFields() []string { return sortedKeys(e.fields) }

// Noop reports whether the diff is empty.
func (e *Update) Noop() bool { return len(e.fields) == 0 }

func (e *Update) Clone() Event { return NewUpdate(e.fqid, e.fields) }

func (e *Update) EncodeData() (string, error) { return encodeJSON(e.fields) }

// Delete marks the model deleted. The model's data is retained as a tombstone.
type Delete struct {
	fqid datastore.Fqid
	// modelFields are the model's field names at deletion time; the index
	// records the deletion as a change to each of them.
	modelFields []string
}

// NewDelete constructs a delete event. modelFields may be empty when the
// caller has no model state at hand, e.g. when decoding stored rows.
func NewDelete(fqid datastore.Fqid, modelFields []string) *Delete {
	fields := make([]string, len(modelFields))
	copy(fields, modelFields)
	sort.Strings(fields)
	return &Delete{fqid: fqid, modelFields: fields}
}

func (e *Delete) Fqid() datastore.Fqid { return e.fqid }

func (e *Delete) Kind() Kind { return KindDelete }

func (e *Delete) ModifiedFields() []string { return e.modelFields }

// Noop is always false: a delete is never dropped.
func (e *Delete) Noop() bool { return false }

func (e *Delete) Clone() Event { return NewDelete(e.fqid, e.modelFields) }

func (e *Delete) EncodeData() (string, error) { return "null", nil }

// DeleteFields removes the named fields from the model's data.
type DeleteFields struct {
	fqid   datastore.Fqid
	fields []string
}

// NewDeleteFields constructs a delete_fields event.
func NewDeleteFields(fqid datastore.Fqid, fields []string) *DeleteFields {
	copied := make([]string, len(fields))
	copy(copied, fields)
	sort.Strings(copied)
	return &DeleteFields{fqid: fqid, fields: copied}
}

func (e *DeleteFields) Fqid() datastore.Fqid { return e.fqid }

func (e *DeleteFields) Kind() Kind { return KindDeleteFields }

// Fields returns the names of the fields to remove.
func (e *DeleteFields) Fields() []string { return e.fields }

func (e *DeleteFields) ModifiedFields() []string { return e.fields }

// Noop reports whether the field list is empty.
func (e *DeleteFields) Noop() bool { return len(e.fields) == 0 }

func (e *DeleteFields) Clone() Event { return NewDeleteFields(e.fqid, e.fields) }

func (e *DeleteFields) EncodeData() (string, error) { return encodeJSON(e.fields) }

// ListUpdate adds values to and removes values from list-valued fields. The
// merge is set-like: add skips values already present, remove drops values
// that are present.
type ListUpdate struct {
	fqid   datastore.Fqid
	add    map[string][]any
	remove map[string][]any
}

// NewListUpdate constructs a list_update event.
func NewListUpdate(fqid datastore.Fqid, add, remove map[string][]any) *ListUpdate {
	return &ListUpdate{fqid: fqid, add: cloneListFields(add), remove: cloneListFields(remove)}
}

func (e *ListUpdate) Fqid() datastore.Fqid { return e.fqid }

func (e *ListUpdate) Kind() Kind { return KindListUpdate }

// Add returns the values to append per field.
func (e *ListUpdate) Add() map[string][]any { return e.add }

// Remove returns the values to remove per field.
func (e *ListUpdate) Remove() map[string][]any { return e.remove }

func (e *ListUpdate) ModifiedFields() []string {
	seen := make(map[string]struct{}, len(e.add)+len(e.remove))
	for field := range e.add {
		seen[field] = struct{}{}
	}
	for field := range e.remove {
		seen[field] = struct{}{}
	}
	fields := make([]string, 0, len(seen))
	for field := range seen {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Noop reports whether no field carries any value to add or remove.
func (e *ListUpdate) Noop() bool {
	for _, values := range e.add {
		if len(values) > 0 {
			return false
		}
	}
	for _, values := range e.remove {
		if len(values) > 0 {
			return false
		}
	}
	return true
}

func (e *ListUpdate) Clone() Event { return NewListUpdate(e.fqid, e.add, e.remove) }

func (e *ListUpdate) EncodeData() (string, error) {
	return encodeJSON(map[string]map[string][]any{"add": e.add, "remove": e.remove})
}

// Decode reconstructs an event from a persisted event row.
func Decode(kind Kind, fqid datastore.Fqid, dataJSON string) (Event, error) {
	switch kind {
	case KindCreate:
		fields, err := decodeFields(dataJSON)
		if err != nil {
			return nil, err
		}
		return NewCreate(fqid, fields), nil
	case KindUpdate:
		fields, err := decodeFields(dataJSON)
		if err != nil {
			return nil, err
		}
		return NewUpdate(fqid, fields), nil
	case KindDelete:
		return NewDelete(fqid, nil), nil
	case KindDeleteFields:
		var fields []string
		if err := json.Unmarshal([]byte(dataJSON), &fields); err != nil {
			return nil, fmt.Errorf("decode delete_fields data for %s: %w", fqid, err)
		}
		return NewDeleteFields(fqid, fields), nil
	case KindListUpdate:
		var payload map[string]map[string][]any
		if err := json.Unmarshal([]byte(dataJSON), &payload); err != nil {
			return nil, fmt.Errorf("decode list_update data for %s: %w", fqid, err)
		}
		return NewListUpdate(fqid, payload["add"], payload["remove"]), nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", datastore.ErrInvalidFormat, kind)
	}
}

func encodeJSON(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode event data: %w", err)
	}
	return string(encoded), nil
}

func decodeFields(dataJSON string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(dataJSON), &fields); err != nil {
		return nil, fmt.Errorf("decode event data: %w", err)
	}
	return fields, nil
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for field, value := range fields {
		copied[field] = value
	}
	return copied
}

func cloneListFields(fields map[string][]any) map[string][]any {
	copied := make(map[string][]any, len(fields))
	for field, values := range fields {
		copiedValues := make([]any, len(values))
		copy(copiedValues, values)
		copied[field] = copiedValues
	}
	return copied
}

func sortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for field := range fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	return keys
}
