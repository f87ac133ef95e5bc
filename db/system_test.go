package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/models"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestDBEngineParameterInit(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestClient(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	// Read engine parameters
	assert.Nil(
		uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				params, err := dbClient.GetEngineParamEntry(ctx)
				assert.Nil(err)
				assert.Equal(db.GlobalEngineParamEntryID, params.ID)
				assert.Equal(models.SyncStateIdle, params.SyncState)
				assert.Empty(params.ActiveCacheVersion)
				assert.Nil(params.LastSyncAt)
				return err
			},
		),
	)

	// Set the cache version
	assert.Nil(
		uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				return dbClient.SetActiveCacheVersion(ctx, "v1")
			},
		),
	)

	// Read again
	assert.Nil(
		uut.UseDatabase(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				params, err := dbClient.GetEngineParamEntry(ctx)
				assert.Nil(err)
				assert.Equal("v1", params.ActiveCacheVersion)
				return err
			},
		),
	)
}

func TestDBSyncLease(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestClient(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	leaseTTL := time.Minute
	startTime := time.Now()

	acquire := func(owner string, now time.Time) bool {
		var taken bool
		assert.Nil(uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				var err error
				taken, err = dbClient.AcquireSyncLease(ctx, owner, now, leaseTTL)
				return err
			},
		))
		return taken
	}

	// 1. First owner takes the lease
	assert.True(acquire("owner-a", startTime))

	// 2. Second owner is refused while the lease is held
	assert.False(acquire("owner-b", startTime.Add(time.Second)))

	// 3. Only the holder may release
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.ReleaseSyncLease(ctx, "owner-b", nil)
		},
	))

	// 4. Holder releases after a successful sync
	syncedAt := startTime.Add(2 * time.Second)
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.ReleaseSyncLease(ctx, "owner-a", &syncedAt)
		},
	))
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		params, err := dbClient.GetEngineParamEntry(ctx)
		assert.Nil(err)
		assert.Equal(models.SyncStateIdle, params.SyncState)
		assert.Empty(params.SyncLeaseOwner)
		assert.Nil(params.SyncLeaseExpiry)
		assert.NotNil(params.LastSyncAt)
		assert.Equal(syncedAt.Unix(), params.LastSyncAt.Unix())
		return err
	}))

	// 5. Second owner now takes it
	assert.True(acquire("owner-b", startTime.Add(3*time.Second)))

	// 6. The lease lapses if never released
	assert.False(acquire("owner-c", startTime.Add(30*time.Second)))
	assert.True(acquire("owner-c", startTime.Add(2*leaseTTL)))

	// 7. The lapsed holder can no longer release
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.ReleaseSyncLease(ctx, "owner-b", nil)
		},
	))
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		params, err := dbClient.GetEngineParamEntry(ctx)
		assert.Nil(err)
		assert.Equal(models.SyncStateSyncing, params.SyncState)
		assert.Equal("owner-c", params.SyncLeaseOwner)
		// Failed attempt does not touch the last sync time
		assert.Equal(syncedAt.Unix(), params.LastSyncAt.Unix())
		return err
	}))

	// 8. Release without a sync time
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.ReleaseSyncLease(ctx, "owner-c", nil)
		},
	))
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		params, err := dbClient.GetEngineParamEntry(ctx)
		assert.Nil(err)
		assert.Equal(models.SyncStateIdle, params.SyncState)
		assert.Equal(syncedAt.Unix(), params.LastSyncAt.Unix())
		return err
	}))
}
