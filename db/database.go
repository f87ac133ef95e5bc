package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/notesync/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// SyncEventQueryFilter audit event query filter conditions
type SyncEventQueryFilter struct {
	CommonListEntryQueryFilter
	// EventTypes the specific event types to query for
	EventTypes []models.SyncEventTypeENUMType
	// EventsAfter filter for events after this timestamp
	EventsAfter *time.Time
	// EventsBefore filter for events before this timestamp
	EventsBefore *time.Time
}

// NoteQueryFilter note query filter conditions
type NoteQueryFilter struct {
	CommonListEntryQueryFilter
	// Synced only list notes with this sync status
	Synced *bool
}

// CacheGenerationQueryFilter cache generation query filter conditions
type CacheGenerationQueryFilter struct {
	CommonListEntryQueryFilter
	// TargetStates the specific states to query for
	TargetStates []models.CacheGenerationStateENUMType
	// TargetVersion only list generations of this engine version
	TargetVersion *string
	// ExcludeNames skip generations with these names
	ExcludeNames []string
}

// Database the database handle to interacting with the data base
type Database interface {
	// ------------------------------------------------------------------------------------
	// Engine audit events

	/*
		RecordSyncEvent record a new engine event

			@param ctx context.Context - execution context
			@param eventType models.SyncEventTypeENUMType - event type
			@param metadata interface{} - event metadata
			@returns the event entry
	*/
	RecordSyncEvent(
		ctx context.Context, eventType models.SyncEventTypeENUMType, metadata interface{},
	) (models.SyncEventAudit, error)

	/*
		ListSyncEvents list captured engine events

			@param ctx context.Context - execution context
			@param filters SyncEventQueryFilter - entry listing filter
			@return list of engine events
	*/
	ListSyncEvents(
		ctx context.Context, filters SyncEventQueryFilter,
	) ([]models.SyncEventAudit, error)

	// ------------------------------------------------------------------------------------
	// Engine parameters

	/*
		GetEngineParamEntry fetch the global singleton engine parameter entry

			@param ctx context.Context - execution context
			@returns the entry
	*/
	GetEngineParamEntry(ctx context.Context) (models.EngineParams, error)

	/*
		SetActiveCacheVersion record which cache engine version is serving

			@param ctx context.Context - execution context
			@param version string - the cache engine version
	*/
	SetActiveCacheVersion(ctx context.Context, version string) error

	/*
		AcquireSyncLease attempt to take the sync lease

			@param ctx context.Context - execution context
			@param owner string - the lease owner ID
			@param now time.Time - current time
			@param ttl time.Duration - lease duration if never released
			@returns whether the lease was taken
	*/
	AcquireSyncLease(
		ctx context.Context, owner string, now time.Time, ttl time.Duration,
	) (bool, error)

	/*
		ReleaseSyncLease release a held sync lease

			@param ctx context.Context - execution context
			@param owner string - the lease owner ID
			@param syncedAt *time.Time - if set, the completion time of a successful sync
	*/
	ReleaseSyncLease(ctx context.Context, owner string, syncedAt *time.Time) error

	// ------------------------------------------------------------------------------------
	// Notes

	/*
		CreateNote insert a new note

			@param ctx context.Context - execution context
			@param note models.Note - the note
			@returns the stored note
	*/
	CreateNote(ctx context.Context, note models.Note) (models.Note, error)

	/*
		GetNote fetch a note by ID

			@param ctx context.Context - execution context
			@param noteID string - the note ID
			@returns the note
	*/
	GetNote(ctx context.Context, noteID string) (models.Note, error)

	/*
		ListNotes list notes, newest first

			@param ctx context.Context - execution context
			@param filters NoteQueryFilter - entry listing filter
			@return list of notes
	*/
	ListNotes(ctx context.Context, filters NoteQueryFilter) ([]models.Note, error)

	/*
		CountNotes count notes matching the filter

			@param ctx context.Context - execution context
			@param filters NoteQueryFilter - entry listing filter
			@return number of notes
	*/
	CountNotes(ctx context.Context, filters NoteQueryFilter) (int64, error)

	/*
		MarkNotesSynced set synced on every listed note that exists

			@param ctx context.Context - execution context
			@param noteIDs []string - the note IDs
			@return number of notes which changed state
	*/
	MarkNotesSynced(ctx context.Context, noteIDs []string) (int64, error)

	// ------------------------------------------------------------------------------------
	// Server side notes

	/*
		UpsertRemoteNotes store notes received by the reconciliation endpoint

		A note whose ID is already present replaces the stored copy.

			@param ctx context.Context - execution context
			@param notes []models.RemoteNote - the notes
	*/
	UpsertRemoteNotes(ctx context.Context, notes []models.RemoteNote) error

	/*
		GetRemoteNote fetch a server side note by ID

			@param ctx context.Context - execution context
			@param noteID string - the note ID
			@returns the note
	*/
	GetRemoteNote(ctx context.Context, noteID string) (models.RemoteNote, error)

	/*
		ListRemoteNotes list server side notes, newest first

			@param ctx context.Context - execution context
			@param filters CommonListEntryQueryFilter - entry listing filter
			@return list of notes
	*/
	ListRemoteNotes(
		ctx context.Context, filters CommonListEntryQueryFilter,
	) ([]models.RemoteNote, error)

	// ------------------------------------------------------------------------------------
	// Cache generations

	/*
		DefineCacheGeneration define a new cache generation

			@param ctx context.Context - execution context
			@param name string - generation name
			@param version string - cache engine version
			@param kind models.CacheGenerationKindENUMType - generation kind
			@returns the generation entry, in PENDING state
	*/
	DefineCacheGeneration(
		ctx context.Context, name string, version string, kind models.CacheGenerationKindENUMType,
	) (models.CacheGeneration, error)

	/*
		GetCacheGeneration fetch a cache generation by name

			@param ctx context.Context - execution context
			@param name string - generation name
			@returns the generation entry
	*/
	GetCacheGeneration(ctx context.Context, name string) (models.CacheGeneration, error)

	/*
		ListCacheGenerations list cache generations

			@param ctx context.Context - execution context
			@param filters CacheGenerationQueryFilter - entry listing filter
			@return list of generations
	*/
	ListCacheGenerations(
		ctx context.Context, filters CacheGenerationQueryFilter,
	) ([]models.CacheGeneration, error)

	/*
		UpdateCacheGenerationState move a cache generation to a new state

			@param ctx context.Context - execution context
			@param name string - generation name
			@param newState models.CacheGenerationStateENUMType - new state
	*/
	UpdateCacheGenerationState(
		ctx context.Context, name string, newState models.CacheGenerationStateENUMType,
	) error

	/*
		DeleteCacheGeneration delete a cache generation and all its entries

			@param ctx context.Context - execution context
			@param name string - generation name
	*/
	DeleteCacheGeneration(ctx context.Context, name string) error

	/*
		PutCacheEntry write a response snapshot, replacing any snapshot for the same
		request key in the same generation

			@param ctx context.Context - execution context
			@param generation string - generation name
			@param requestKey string - normalized request key
			@param statusCode int - response status code
			@param header datatypes.JSON - response headers
			@param body []byte - response body
	*/
	PutCacheEntry(
		ctx context.Context,
		generation string,
		requestKey string,
		statusCode int,
		header datatypes.JSON,
		body []byte,
	) error

	/*
		GetCacheEntry fetch the response snapshot of a request in a generation

			@param ctx context.Context - execution context
			@param generation string - generation name
			@param requestKey string - normalized request key
			@returns the snapshot
	*/
	GetCacheEntry(
		ctx context.Context, generation string, requestKey string,
	) (models.CacheEntry, error)

	/*
		ListCacheEntries list the response snapshots of a generation

			@param ctx context.Context - execution context
			@param generation string - generation name
			@returns the snapshots
	*/
	ListCacheEntries(ctx context.Context, generation string) ([]models.CacheEntry, error)

	// ------------------------------------------------------------------------------------
	// Deferred tasks

	/*
		RegisterDeferredTask register a one-shot deferred task

		Registering a pending tag again bumps its generation.

			@param ctx context.Context - execution context
			@param tag string - task tag
			@returns the task entry, and whether it was newly registered
	*/
	RegisterDeferredTask(ctx context.Context, tag string) (models.DeferredTask, bool, error)

	/*
		ListDeferredTasks list pending deferred tasks, oldest first

			@param ctx context.Context - execution context
			@returns the tasks
	*/
	ListDeferredTasks(ctx context.Context) ([]models.DeferredTask, error)

	/*
		RecordDeferredTaskFailure note a failed execution of a deferred task

			@param ctx context.Context - execution context
			@param tag string - task tag
			@param detail string - failure detail
	*/
	RecordDeferredTaskFailure(ctx context.Context, tag string, detail string) error

	/*
		CompleteDeferredTask remove a deferred task after it ran to completion

		The task stays if it was registered again after the run listed it.

			@param ctx context.Context - execution context
			@param tag string - task tag
			@param generation int64 - task generation the run started from
			@returns whether the task was removed
	*/
	CompleteDeferredTask(ctx context.Context, tag string, generation int64) (bool, error)
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "notesync", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        sqlClient,
		validator: validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}

// applyListFilter apply the common limit and offset
func applyListFilter(query *gorm.DB, filters CommonListEntryQueryFilter) *gorm.DB {
	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}
	return query
}
