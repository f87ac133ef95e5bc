package db_test

import (
	"context"
	"testing"

	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/models"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestDBDeferredTasks(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestClient(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	register := func(tag string) (models.DeferredTask, bool) {
		var task models.DeferredTask
		var created bool
		assert.Nil(uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				var err error
				task, created, err = dbClient.RegisterDeferredTask(ctx, tag)
				assert.Equal(tag, task.Tag)
				return err
			},
		))
		return task, created
	}

	complete := func(tag string, generation int64) bool {
		var removed bool
		assert.Nil(uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				var err error
				removed, err = dbClient.CompleteDeferredTask(ctx, tag, generation)
				return err
			},
		))
		return removed
	}

	// Case 1: register, then register again
	task, created := register("sync-notes")
	assert.True(created)
	assert.EqualValues(1, task.Generation)
	task, created = register("sync-notes")
	assert.False(created)
	assert.EqualValues(2, task.Generation)
	_, created = register("other")
	assert.True(created)

	// Case 2: record a failure
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.RecordDeferredTaskFailure(ctx, "sync-notes", "network unreachable")
		},
	))
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			err := dbClient.RecordDeferredTaskFailure(ctx, "unknown", "boom")
			assert.ErrorIs(err, db.ErrNotFound)
			return err
		},
	))

	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		tasks, err := dbClient.ListDeferredTasks(ctx)
		assert.Nil(err)
		assert.Len(tasks, 2)
		assert.Equal("sync-notes", tasks[0].Tag)
		assert.Equal(1, tasks[0].Attempts)
		assert.Equal("network unreachable", tasks[0].LastError)
		assert.Equal(0, tasks[1].Attempts)
		return err
	}))

	// Case 3: completing with a stale generation leaves the task in place
	assert.False(complete("sync-notes", 1))
	// Re-registered while a run holds generation 2
	task, created = register("sync-notes")
	assert.False(created)
	assert.EqualValues(3, task.Generation)
	assert.Equal(1, task.Attempts)
	assert.False(complete("sync-notes", 2))

	// Case 4: complete with the current generation, twice
	assert.True(complete("sync-notes", 3))
	assert.False(complete("sync-notes", 3))

	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		tasks, err := dbClient.ListDeferredTasks(ctx)
		assert.Nil(err)
		assert.Len(tasks, 1)
		assert.Equal("other", tasks[0].Tag)

		// Registration and completion are audited
		events, err := dbClient.ListSyncEvents(ctx, db.SyncEventQueryFilter{
			EventTypes: []models.SyncEventTypeENUMType{
				models.SyncEventTypeDeferredRegistered, models.SyncEventTypeDeferredCompleted,
			},
		})
		assert.Nil(err)
		assert.Len(events, 3)
		assert.Equal(models.SyncEventTypeDeferredCompleted, events[2].EventType)
		return err
	}))

	// Case 5: the completed tag can be registered anew
	task, created = register("sync-notes")
	assert.True(created)
	assert.EqualValues(1, task.Generation)
	assert.Equal(0, task.Attempts)
}
