package db_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func newTestClient(t *testing.T) db.Client {
	testDB := fmt.Sprintf("/tmp/notesync_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(t, err)
	assert.Nil(t, uut.RunSQLInTransaction(context.Background(), db.DefineTables))
	return uut
}

func TestDBNoteCreateAndList(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestClient(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	baseTime := time.Now().UnixMilli()

	// Case 0: create three notes
	noteIDs := []string{}
	for itr := 0; itr < 3; itr++ {
		note := models.Note{
			ID:        uuid.NewString(),
			Text:      fmt.Sprintf("note %d", itr),
			CreatedAt: baseTime + int64(itr),
		}
		if itr == 1 {
			note.ImageBlob = []byte{0x89, 0x50, 0x4e, 0x47}
		}
		assert.Nil(uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				created, err := dbClient.CreateNote(ctx, note)
				assert.Nil(err)
				assert.False(created.Synced)
				return err
			},
		))
		noteIDs = append(noteIDs, note.ID)
	}

	// Case 1: duplicate ID
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.CreateNote(ctx, models.Note{
				ID: noteIDs[0], Text: "again", CreatedAt: baseTime,
			})
			assert.ErrorIs(err, db.ErrDuplicateKey)
			return err
		},
	))

	// Case 2: empty text is not allowed
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.CreateNote(ctx, models.Note{
				ID: uuid.NewString(), Text: "   ", CreatedAt: baseTime,
			})
			assert.ErrorIs(err, db.ErrInvalidEntry)
			return err
		},
	))

	// Case 3: list newest first
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		notes, err := dbClient.ListNotes(ctx, db.NoteQueryFilter{})
		assert.Nil(err)
		assert.Len(notes, 3)
		assert.Equal(noteIDs[2], notes[0].ID)
		assert.Equal(noteIDs[1], notes[1].ID)
		assert.Equal(noteIDs[0], notes[2].ID)
		assert.True(notes[1].HasImage())
		assert.False(notes[0].HasImage())
		return err
	}))

	// Case 4: get unknown note
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.GetNote(ctx, uuid.NewString())
		assert.ErrorIs(err, db.ErrNotFound)
		return nil
	}))

	// Case 5: every creation is audited
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		events, err := dbClient.ListSyncEvents(ctx, db.SyncEventQueryFilter{
			EventTypes: []models.SyncEventTypeENUMType{models.SyncEventTypeNoteCreated},
		})
		assert.Nil(err)
		assert.Len(events, 3)
		validate := validator.New()
		for idx, event := range events {
			meta, err := event.ParseMetadata(validate)
			assert.Nil(err)
			assert.IsType(models.SyncEventNoteRelated{}, meta)
			assert.Equal(noteIDs[idx], meta.(models.SyncEventNoteRelated).NoteID)
		}
		return err
	}))
}

func TestDBNoteMarkSynced(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestClient(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	baseTime := time.Now().UnixMilli()

	noteIDs := []string{}
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			for itr := 0; itr < 4; itr++ {
				note := models.Note{
					ID:        uuid.NewString(),
					Text:      fmt.Sprintf("note %d", itr),
					CreatedAt: baseTime + int64(itr),
				}
				if _, err := dbClient.CreateNote(ctx, note); err != nil {
					return err
				}
				noteIDs = append(noteIDs, note.ID)
			}
			return nil
		},
	))

	synced := true
	unsynced := false

	// Case 0: all unsynced
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		count, err := dbClient.CountNotes(ctx, db.NoteQueryFilter{Synced: &unsynced})
		assert.Nil(err)
		assert.Equal(int64(4), count)
		return err
	}))

	// Case 1: mark two, plus an unknown ID which is ignored
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			changed, err := dbClient.MarkNotesSynced(
				ctx, []string{noteIDs[0], noteIDs[2], uuid.NewString()},
			)
			assert.Nil(err)
			assert.Equal(int64(2), changed)
			return err
		},
	))

	// Case 2: repeating changes nothing
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			changed, err := dbClient.MarkNotesSynced(ctx, []string{noteIDs[0], noteIDs[2]})
			assert.Nil(err)
			assert.Equal(int64(0), changed)
			return err
		},
	))

	// Case 3: empty list
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		changed, err := dbClient.MarkNotesSynced(ctx, nil)
		assert.Nil(err)
		assert.Equal(int64(0), changed)
		return err
	}))

	// Case 4: filter by state
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		notes, err := dbClient.ListNotes(ctx, db.NoteQueryFilter{Synced: &unsynced})
		assert.Nil(err)
		assert.Len(notes, 2)
		assert.Equal(noteIDs[3], notes[0].ID)
		assert.Equal(noteIDs[1], notes[1].ID)

		notes, err = dbClient.ListNotes(ctx, db.NoteQueryFilter{Synced: &synced})
		assert.Nil(err)
		assert.Len(notes, 2)
		for _, note := range notes {
			assert.True(note.Synced)
		}

		limit := 1
		notes, err = dbClient.ListNotes(ctx, db.NoteQueryFilter{
			CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Limit: &limit},
		})
		assert.Nil(err)
		assert.Len(notes, 1)
		assert.Equal(noteIDs[3], notes[0].ID)
		return err
	}))

	// Case 5: rolled back transaction leaves state untouched
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			changed, err := dbClient.MarkNotesSynced(ctx, []string{noteIDs[1]})
			assert.Nil(err)
			assert.Equal(int64(1), changed)
			return fmt.Errorf("dummy error")
		},
	))
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		note, err := dbClient.GetNote(ctx, noteIDs[1])
		assert.Nil(err)
		assert.False(note.Synced)
		return err
	}))
}

func TestDBRemoteNoteUpsert(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestClient(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	image := "data:image/png;base64,iVBORw0KGgo="
	noteID := uuid.NewString()

	// Case 0: first write
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.UpsertRemoteNotes(ctx, []models.RemoteNote{
				{ID: noteID, Text: "first", NoteCreatedAt: 100, ImageDataURL: &image},
				{ID: uuid.NewString(), Text: "other", NoteCreatedAt: 50},
			})
		},
	))

	// Case 1: resubmitted note replaces the stored copy
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.UpsertRemoteNotes(ctx, []models.RemoteNote{
				{ID: noteID, Text: "second", NoteCreatedAt: 200},
			})
		},
	))

	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		note, err := dbClient.GetRemoteNote(ctx, noteID)
		assert.Nil(err)
		assert.Equal("second", note.Text)
		assert.Equal(int64(200), note.NoteCreatedAt)
		assert.Nil(note.ImageDataURL)

		notes, err := dbClient.ListRemoteNotes(ctx, db.CommonListEntryQueryFilter{})
		assert.Nil(err)
		assert.Len(notes, 2)
		assert.Equal(noteID, notes[0].ID)
		return err
	}))

	// Case 2: invalid entry rejects the whole batch
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			err := dbClient.UpsertRemoteNotes(ctx, []models.RemoteNote{
				{ID: uuid.NewString(), Text: "fine", NoteCreatedAt: 1},
				{ID: uuid.NewString(), Text: "", NoteCreatedAt: 1},
			})
			assert.ErrorIs(err, db.ErrInvalidEntry)
			return err
		},
	))
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		notes, err := dbClient.ListRemoteNotes(ctx, db.CommonListEntryQueryFilter{})
		assert.Nil(err)
		assert.Len(notes, 2)
		return err
	}))
}
