// Package db - persistence layer
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alwitt/notesync/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
)

/*
RecordSyncEvent record a new engine event

	@param ctx context.Context - execution context
	@param eventType models.SyncEventTypeENUMType - event type
	@param metadata interface{} - event metadata
	@returns the event entry
*/
func (d *databaseImpl) RecordSyncEvent(
	_ context.Context, eventType models.SyncEventTypeENUMType, metadata interface{},
) (models.SyncEventAudit, error) {
	newEntry := SyncEventAuditDBEntry{
		SyncEventAudit: models.SyncEventAudit{ID: ulid.Make().String(), EventType: eventType},
	}

	if metadata != nil {
		if err := d.validator.Struct(metadata); err != nil {
			return models.SyncEventAudit{}, fmt.Errorf(
				"new sync event '%s' metadata entry is not valid [%w]", eventType, invalidEntry(err),
			)
		}

		metadataStr, err := json.Marshal(&metadata)
		if err != nil {
			return models.SyncEventAudit{}, fmt.Errorf(
				"new sync event '%s' metadata serialization failed [%w]", eventType, err,
			)
		}
		newEntry.Metadata = datatypes.JSON(metadataStr)
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.SyncEventAudit{}, fmt.Errorf(
			"new sync event '%s' entry is not valid [%w]", eventType, invalidEntry(err),
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.SyncEventAudit{}, fmt.Errorf(
			"new sync event '%s' insert failed [%w]", eventType, classifyError(tmp.Error),
		)
	}

	return newEntry.SyncEventAudit, nil
}

/*
ListSyncEvents list captured engine events

	@param ctx context.Context - execution context
	@param filters SyncEventQueryFilter - entry listing filter
	@return list of engine events
*/
func (d *databaseImpl) ListSyncEvents(
	_ context.Context, filters SyncEventQueryFilter,
) ([]models.SyncEventAudit, error) {
	query := d.db.Model(&SyncEventAuditDBEntry{})

	if len(filters.EventTypes) > 0 {
		query = query.Where("type in ?", filters.EventTypes)
	}

	if filters.EventsAfter != nil {
		query = query.Where("created_at >= ?", *filters.EventsAfter)
	}
	if filters.EventsBefore != nil {
		query = query.Where("created_at <= ?", *filters.EventsBefore)
	}

	query = applyListFilter(query, filters.CommonListEntryQueryFilter)

	// ULIDs sort by creation time
	query = query.Order("id")

	var entries []SyncEventAuditDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list captured sync events [%w]", classifyError(tmp.Error))
	}

	result := []models.SyncEventAudit{}
	for _, entry := range entries {
		result = append(result, entry.SyncEventAudit)
	}

	return result, nil
}
