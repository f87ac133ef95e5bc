// Package store - data storage controllers
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/models"
	"github.com/apex/log"
	"github.com/google/uuid"
)

var (
	// ErrDuplicateKey a note with the same ID already exists
	ErrDuplicateKey = db.ErrDuplicateKey
	// ErrStorageUnavailable the local store could not complete the operation
	ErrStorageUnavailable = db.ErrStorageUnavailable
)

/*
NewNote prepare a new unsynced note

	@param text string - note text; surrounding whitespace is removed
	@param image []byte - optional image
	@param now time.Time - creation time
	@returns the note
*/
func NewNote(text string, image []byte, now time.Time) models.Note {
	note := models.Note{
		ID:        uuid.NewString(),
		Text:      models.NormalizeNoteText(text),
		CreatedAt: now.UnixMilli(),
	}
	if len(image) > 0 {
		note.ImageBlob = image
	}
	return note
}

// NoteStore the durable per-device note store
type NoteStore interface {
	/*
		Create insert a new note

			@param ctx context.Context - execution context
			@param note models.Note - the note
			@param activeDBClient Database - existing database transaction
			@returns the stored note
	*/
	Create(ctx context.Context, note models.Note, activeDBClient db.Database) (models.Note, error)

	/*
		Get fetch one note

			@param ctx context.Context - execution context
			@param noteID string - the note ID
			@param activeDBClient Database - existing database transaction
			@returns the note
	*/
	Get(ctx context.Context, noteID string, activeDBClient db.Database) (models.Note, error)

	/*
		ListAll list every note, newest first

			@param ctx context.Context - execution context
			@param activeDBClient Database - existing database transaction
			@returns the notes
	*/
	ListAll(ctx context.Context, activeDBClient db.Database) ([]models.Note, error)

	/*
		ListUnsynced list every note not yet accepted by the server, newest first

			@param ctx context.Context - execution context
			@param activeDBClient Database - existing database transaction
			@returns the notes
	*/
	ListUnsynced(ctx context.Context, activeDBClient db.Database) ([]models.Note, error)

	/*
		CountUnsynced count the notes not yet accepted by the server

			@param ctx context.Context - execution context
			@param activeDBClient Database - existing database transaction
			@returns number of notes
	*/
	CountUnsynced(ctx context.Context, activeDBClient db.Database) (int64, error)

	/*
		MarkSynced mark a set of notes as synced

		Unknown IDs are ignored, and repeating the call is safe.

			@param ctx context.Context - execution context
			@param noteIDs []string - the note IDs
			@param activeDBClient Database - existing database transaction
			@returns number of notes which changed state
	*/
	MarkSynced(ctx context.Context, noteIDs []string, activeDBClient db.Database) (int64, error)
}

// noteStoreImpl implements NoteStore
type noteStoreImpl struct {
	goutils.Component

	persistence db.Client
}

/*
NewNoteStore define new note store

	@param persistence db.Client - persistence layer client
	@returns store instance
*/
func NewNoteStore(persistence db.Client) (NoteStore, error) {
	logTags := log.Fields{"module": "store", "component": "note-store"}

	return &noteStoreImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
	}, nil
}

func (s *noteStoreImpl) Create(
	ctx context.Context, note models.Note, activeDBClient db.Database,
) (models.Note, error) {
	logTags := s.GetLogTagsForContext(ctx)

	var created models.Note
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			created, err = dbClient.CreateNote(dbCtx, note)
			return err
		},
	); dbErr != nil {
		log.WithError(dbErr).WithFields(logTags).WithField("note-id", note.ID).Error("Note insert failed")
		return models.Note{}, fmt.Errorf("failed to store note %s [%w]", note.ID, dbErr)
	}

	log.WithFields(logTags).
		WithField("note-id", created.ID).
		WithField("has-image", created.HasImage()).
		Debug("Stored new note")

	return created, nil
}

func (s *noteStoreImpl) Get(
	ctx context.Context, noteID string, activeDBClient db.Database,
) (models.Note, error) {
	var note models.Note
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			note, err = dbClient.GetNote(dbCtx, noteID)
			return err
		},
	); dbErr != nil {
		return models.Note{}, fmt.Errorf("failed to read note %s [%w]", noteID, dbErr)
	}
	return note, nil
}

func (s *noteStoreImpl) listNotes(
	ctx context.Context, filter db.NoteQueryFilter, activeDBClient db.Database,
) ([]models.Note, error) {
	var notes []models.Note
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			notes, err = dbClient.ListNotes(dbCtx, filter)
			return err
		},
	); dbErr != nil {
		return nil, dbErr
	}
	return notes, nil
}

func (s *noteStoreImpl) ListAll(
	ctx context.Context, activeDBClient db.Database,
) ([]models.Note, error) {
	notes, err := s.listNotes(ctx, db.NoteQueryFilter{}, activeDBClient)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes [%w]", err)
	}
	return notes, nil
}

func (s *noteStoreImpl) ListUnsynced(
	ctx context.Context, activeDBClient db.Database,
) ([]models.Note, error) {
	unsynced := false
	notes, err := s.listNotes(ctx, db.NoteQueryFilter{Synced: &unsynced}, activeDBClient)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced notes [%w]", err)
	}
	return notes, nil
}

func (s *noteStoreImpl) CountUnsynced(
	ctx context.Context, activeDBClient db.Database,
) (int64, error) {
	unsynced := false
	var count int64
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			count, err = dbClient.CountNotes(dbCtx, db.NoteQueryFilter{Synced: &unsynced})
			return err
		},
	); dbErr != nil {
		return 0, fmt.Errorf("failed to count unsynced notes [%w]", dbErr)
	}
	return count, nil
}

func (s *noteStoreImpl) MarkSynced(
	ctx context.Context, noteIDs []string, activeDBClient db.Database,
) (int64, error) {
	logTags := s.GetLogTagsForContext(ctx)

	var changed int64
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			changed, err = dbClient.MarkNotesSynced(dbCtx, noteIDs)
			return err
		},
	); dbErr != nil {
		log.WithError(dbErr).WithFields(logTags).Error("Marking notes synced failed")
		return 0, fmt.Errorf("failed to mark %d notes synced [%w]", len(noteIDs), dbErr)
	}

	log.WithFields(logTags).
		WithField("requested", len(noteIDs)).
		WithField("changed", changed).
		Debug("Marked notes synced")

	return changed, nil
}
