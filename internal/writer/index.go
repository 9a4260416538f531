package writer

import (
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/MarcoPoloResearchLab/positron/internal/event"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpdateCollectionFieldIndex records position as the last change of every
// field the events modified and links each persisted event row to those
// fields. eventIDs[i] must hold the row id of events[i]. The write pipeline
// calls it for fresh positions; the migration runner calls it to rebuild the
// index after rewriting a position's event rows.
func UpdateCollectionFieldIndex(tx *gorm.DB, position int64, events []event.Event, eventIDs []int64) error {
	if len(events) != len(eventIDs) {
		return fmt.Errorf("%w: %d events with %d event row ids", datastore.ErrProgramming, len(events), len(eventIDs))
	}

	eventOffsetsPerKey := map[datastore.CollectionFieldKey][]int{}
	for offset, evt := range events {
		for _, field := range evt.ModifiedFields() {
			key, err := datastore.NewCollectionFieldKey(evt.Fqid(), field)
			if err != nil {
				return err
			}
			eventOffsetsPerKey[key] = append(eventOffsetsPerKey[key], offset)
		}
	}

	keys := make([]datastore.CollectionFieldKey, 0, len(eventOffsetsPerKey))
	for key := range eventOffsetsPerKey {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		row := datastore.CollectionField{CollectionField: key.String(), Position: position}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collectionfield"}},
			DoUpdates: clause.AssignmentColumns([]string{"position"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert collectionfield %s: %w", key, err)
		}
		// on conflict the autoincrement id is not backfilled, read it back
		var stored datastore.CollectionField
		if err := tx.Where("collectionfield = ?", key.String()).Take(&stored).Error; err != nil {
			return fmt.Errorf("read collectionfield %s: %w", key, err)
		}
		for _, offset := range eventOffsetsPerKey[key] {
			link := datastore.EventCollectionField{
				EventID:           eventIDs[offset],
				CollectionFieldID: stored.ID,
			}
			if err := tx.Create(&link).Error; err != nil {
				return fmt.Errorf("link event to collectionfield %s: %w", key, err)
			}
		}
	}
	return nil
}
