package datastore

// Snapshot is the in-memory materialized state of one model: the fold of all
// events for its fqid in (position, weight) order up to Position.
type Snapshot struct {
	Fqid     Fqid
	Data     map[string]any
	Deleted  bool
	Position int64
}

// Clone returns a deep enough copy for event application: the field map is
// copied, field values are shared.
func (s Snapshot) Clone() Snapshot {
	data := make(map[string]any, len(s.Data))
	for field, value := range s.Data {
		data[field] = value
	}
	return Snapshot{
		Fqid:     s.Fqid,
		Data:     data,
		Deleted:  s.Deleted,
		Position: s.Position,
	}
}
