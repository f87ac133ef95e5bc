package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// SyncEventTypeENUMType engine event type ENUM value type
type SyncEventTypeENUMType string

const (
	// SyncEventTypeNoteCreated a note was written to the local store
	SyncEventTypeNoteCreated SyncEventTypeENUMType = "NOTE_CREATED"

	// SyncEventTypeSyncSucceeded a batch was accepted by the server
	SyncEventTypeSyncSucceeded SyncEventTypeENUMType = "SYNC_SUCCEEDED"

	// SyncEventTypeSyncNetworkFailure a batch could not reach the server
	SyncEventTypeSyncNetworkFailure SyncEventTypeENUMType = "SYNC_NETWORK_FAILURE"

	// SyncEventTypeSyncServerRejected the server rejected a batch
	SyncEventTypeSyncServerRejected SyncEventTypeENUMType = "SYNC_SERVER_REJECTED"

	// SyncEventTypeCacheInstalled a cache engine version was installed
	SyncEventTypeCacheInstalled SyncEventTypeENUMType = "CACHE_INSTALLED"

	// SyncEventTypeCacheActivated a cache engine version was activated
	SyncEventTypeCacheActivated SyncEventTypeENUMType = "CACHE_ACTIVATED"

	// SyncEventTypeDeferredRegistered a deferred task was registered
	SyncEventTypeDeferredRegistered SyncEventTypeENUMType = "DEFERRED_TASK_REGISTERED"

	// SyncEventTypeDeferredCompleted a deferred task completed
	SyncEventTypeDeferredCompleted SyncEventTypeENUMType = "DEFERRED_TASK_COMPLETED"
)

// SyncEventAudit recording of events occurring within the engine
type SyncEventAudit struct {
	// ID audit entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`
	// EventType engine event type
	EventType SyncEventTypeENUMType `json:"type" gorm:"column:type;not null" validate:"required,sync_event_type"`
	// Metadata a metadata relating to the event
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata;default:null"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseMetadata parse the metadata based on the event type
func (a SyncEventAudit) ParseMetadata(validator *validator.Validate) (interface{}, error) {
	switch a.EventType {
	case SyncEventTypeNoteCreated:
		var parsed SyncEventNoteRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("sync event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)

	case SyncEventTypeSyncSucceeded:
		fallthrough
	case SyncEventTypeSyncNetworkFailure:
		fallthrough
	case SyncEventTypeSyncServerRejected:
		var parsed SyncEventBatchRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("sync event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)

	case SyncEventTypeCacheInstalled:
		fallthrough
	case SyncEventTypeCacheActivated:
		var parsed SyncEventCacheRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("sync event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)

	case SyncEventTypeDeferredRegistered:
		fallthrough
	case SyncEventTypeDeferredCompleted:
		var parsed SyncEventDeferredRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("sync event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)
	}
	return nil, nil
}

// SyncEventNoteRelated event metadata related to one note
type SyncEventNoteRelated struct {
	// NoteID the note ID
	NoteID string `json:"note_id" validate:"required,uuid_rfc4122"`
}

// SyncEventBatchRelated event metadata related to a sync batch
type SyncEventBatchRelated struct {
	// NoteIDs the notes in the batch
	NoteIDs []string `json:"note_ids" validate:"required,min=1,dive,required"`
	// Detail failure detail
	Detail string `json:"detail,omitempty"`
}

// SyncEventCacheRelated event metadata related to cache generations
type SyncEventCacheRelated struct {
	// Version cache engine version
	Version string `json:"version" validate:"required"`
	// Generations the generation names involved
	Generations []string `json:"generations,omitempty"`
}

// SyncEventDeferredRelated event metadata related to a deferred task
type SyncEventDeferredRelated struct {
	// Tag the task tag
	Tag string `json:"tag" validate:"required"`
}
