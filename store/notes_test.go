package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/store"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func TestNoteStoreLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/notesync_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	defer func() {
		assert.Nil(persistence.Close())
	}()
	assert.Nil(persistence.RunSQLInTransaction(utCtx, db.DefineTables))

	uut, err := store.NewNoteStore(persistence)
	assert.Nil(err)

	baseTime := time.Now()

	// Case 0: nothing stored
	{
		notes, err := uut.ListAll(utCtx, nil)
		assert.Nil(err)
		assert.Empty(notes)
	}

	// Case 1: store notes
	noteA := store.NewNote("  buy milk ", nil, baseTime)
	assert.Equal("buy milk", noteA.Text)
	assert.False(noteA.HasImage())
	noteB := store.NewNote("photo", []byte{0xff, 0xd8, 0xff}, baseTime.Add(time.Second))
	assert.True(noteB.HasImage())
	{
		created, err := uut.Create(utCtx, noteA, nil)
		assert.Nil(err)
		assert.Equal(noteA.ID, created.ID)
		assert.False(created.Synced)
		_, err = uut.Create(utCtx, noteB, nil)
		assert.Nil(err)
	}

	// Case 2: duplicate
	{
		_, err := uut.Create(utCtx, noteA, nil)
		assert.ErrorIs(err, store.ErrDuplicateKey)
	}

	// Case 3: blank text
	{
		_, err := uut.Create(utCtx, store.NewNote("   ", nil, baseTime), nil)
		assert.ErrorIs(err, db.ErrInvalidEntry)
	}

	// Case 4: listing
	{
		notes, err := uut.ListAll(utCtx, nil)
		assert.Nil(err)
		assert.Len(notes, 2)
		assert.Equal(noteB.ID, notes[0].ID)
		assert.Equal(noteB.ImageBlob, notes[0].ImageBlob)
		assert.Equal(noteA.ID, notes[1].ID)
		assert.Equal(noteA.CreatedAt, notes[1].CreatedAt)

		count, err := uut.CountUnsynced(utCtx, nil)
		assert.Nil(err)
		assert.Equal(int64(2), count)
	}

	// Case 5: mark synced, twice
	for itr := 0; itr < 2; itr++ {
		_, err := uut.MarkSynced(utCtx, []string{noteA.ID, uuid.NewString()}, nil)
		assert.Nil(err)

		unsynced, err := uut.ListUnsynced(utCtx, nil)
		assert.Nil(err)
		assert.Len(unsynced, 1)
		assert.Equal(noteB.ID, unsynced[0].ID)

		note, err := uut.Get(utCtx, noteA.ID, nil)
		assert.Nil(err)
		assert.True(note.Synced)
	}

	// Case 6: operations within a caller transaction
	assert.Nil(persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			changed, err := uut.MarkSynced(ctx, []string{noteB.ID}, dbClient)
			assert.Nil(err)
			assert.Equal(int64(1), changed)
			count, err := uut.CountUnsynced(ctx, dbClient)
			assert.Nil(err)
			assert.Equal(int64(0), count)
			return err
		},
	))
}

func TestNoteStoreUnavailable(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/notesync_ut_%s.db", ulid.Make().String())
	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Silent)
	assert.Nil(err)
	assert.Nil(persistence.RunSQLInTransaction(utCtx, db.DefineTables))

	uut, err := store.NewNoteStore(persistence)
	assert.Nil(err)

	assert.Nil(persistence.Close())

	_, err = uut.ListAll(utCtx, nil)
	assert.ErrorIs(err, store.ErrStorageUnavailable)
	_, err = uut.Create(utCtx, store.NewNote("buy milk", nil, time.Now()), nil)
	assert.ErrorIs(err, store.ErrStorageUnavailable)
}
