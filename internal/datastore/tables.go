package datastore

// Position records one atomic, ordered batch of events with shared audit
// metadata. The primary key is the globally serialized position counter.
type Position struct {
	Position         int64   `gorm:"column:position;primaryKey;autoIncrement"`
	TimestampSeconds int64   `gorm:"column:timestamp_s;not null"`
	MigrationIndex   int     `gorm:"column:migration_index;not null"`
	UserID           int64   `gorm:"column:user_id;not null"`
	Information      *string `gorm:"column:information;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (Position) TableName() string {
	return "positions"
}

// Model caches the fold of all events for an fqid. Deleted models keep their
// data as a tombstone.
type Model struct {
	Fqid     string `gorm:"column:fqid;primaryKey;size:48;not null"`
	DataJSON string `gorm:"column:data;type:text;not null"`
	Deleted  bool   `gorm:"column:deleted;not null;default:false"`
	Position int64  `gorm:"column:position;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Model) TableName() string {
	return "models"
}

// Event is one persisted low-level event row. Weight fixes the total replay
// order within a position, starting at 1.
type Event struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Position int64  `gorm:"column:position;not null;index:idx_events_position_weight,priority:1"`
	Fqid     string `gorm:"column:fqid;size:48;not null;index:idx_events_fqid"`
	Type     string `gorm:"column:type;size:16;not null"`
	DataJSON string `gorm:"column:data;type:text;not null"`
	Weight   int    `gorm:"column:weight;not null;index:idx_events_position_weight,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// CollectionField tracks the last position at which the field named by the
// unique "fqid/field" key changed.
type CollectionField struct {
	ID              int64  `gorm:"column:id;primaryKey;autoIncrement"`
	CollectionField string `gorm:"column:collectionfield;size:239;not null;uniqueIndex:idx_collectionfields_key"`
	Position        int64  `gorm:"column:position;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CollectionField) TableName() string {
	return "collectionfields"
}

// EventCollectionField links an event row to every collection field it touched.
type EventCollectionField struct {
	EventID           int64 `gorm:"column:event_id;primaryKey;autoIncrement:false"`
	CollectionFieldID int64 `gorm:"column:collectionfield_id;primaryKey;autoIncrement:false"`
}

// TableName provides the explicit table binding for GORM.
func (EventCollectionField) TableName() string {
	return "events_to_collectionfields"
}

// IDSequence stores, per collection, the next unissued integer id. It is
// monotonically non-decreasing.
type IDSequence struct {
	Collection string `gorm:"column:collection;primaryKey;size:32;not null"`
	ID         int64  `gorm:"column:id;not null"`
}

// TableName provides the explicit table binding for GORM.
func (IDSequence) TableName() string {
	return "id_sequences"
}

// AllTableNames lists every persisted table in a deletion-safe order.
var AllTableNames = []string{
	"events_to_collectionfields",
	"collectionfields",
	"events",
	"models",
	"id_sequences",
	"positions",
}
