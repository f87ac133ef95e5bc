package db_test

import (
	"context"
	"testing"

	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/models"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestDBCacheGenerationLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestClient(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	// 1. Define two generations for v1
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			gen, err := dbClient.DefineCacheGeneration(
				ctx, "shell-v1", "v1", models.CacheGenerationKindShell,
			)
			assert.Nil(err)
			assert.Equal(models.CacheGenerationStatePending, gen.State)
			if err != nil {
				return err
			}
			_, err = dbClient.DefineCacheGeneration(
				ctx, "runtime-v1", "v1", models.CacheGenerationKindRuntime,
			)
			assert.Nil(err)
			return err
		},
	))

	// 2. Duplicate name is refused
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.DefineCacheGeneration(
				ctx, "shell-v1", "v1", models.CacheGenerationKindShell,
			)
			assert.ErrorIs(err, db.ErrDuplicateKey)
			return err
		},
	))

	// 3. Unknown kind is refused
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.DefineCacheGeneration(ctx, "odd-v1", "v1", "ODD")
			assert.ErrorIs(err, db.ErrInvalidEntry)
			return err
		},
	))

	// 4. Write entries
	header := datatypes.JSON(`{"Content-Type":["text/html"]}`)
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			if err := dbClient.PutCacheEntry(
				ctx, "shell-v1", "GET http://app/index.html", 200, header, []byte("<html>"),
			); err != nil {
				return err
			}
			return dbClient.PutCacheEntry(
				ctx, "shell-v1", "GET http://app/app.js", 200, nil, []byte("js"),
			)
		},
	))

	// 5. Overwrite an entry
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.PutCacheEntry(
				ctx, "shell-v1", "GET http://app/app.js", 200, nil, []byte("js2"),
			)
		},
	))

	// 6. Entry in unknown generation is refused
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.PutCacheEntry(
				ctx, "shell-v9", "GET http://app/app.js", 200, nil, []byte("js"),
			)
		},
	))

	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		entry, err := dbClient.GetCacheEntry(ctx, "shell-v1", "GET http://app/app.js")
		assert.Nil(err)
		assert.Equal([]byte("js2"), entry.Body)

		entry, err = dbClient.GetCacheEntry(ctx, "shell-v1", "GET http://app/index.html")
		assert.Nil(err)
		assert.Equal(200, entry.StatusCode)
		assert.JSONEq(`{"Content-Type":["text/html"]}`, string(entry.Header))

		_, err = dbClient.GetCacheEntry(ctx, "runtime-v1", "GET http://app/app.js")
		assert.ErrorIs(err, db.ErrNotFound)

		entries, err := dbClient.ListCacheEntries(ctx, "shell-v1")
		assert.Nil(err)
		assert.Len(entries, 2)
		return nil
	}))

	// 7. State changes
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.UpdateCacheGenerationState(
				ctx, "shell-v1", models.CacheGenerationStateActive,
			)
		},
	))
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.UpdateCacheGenerationState(
				ctx, "shell-v1", models.CacheGenerationStateSuperseded,
			)
		},
	))
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.UpdateCacheGenerationState(
				ctx, "shell-v1", models.CacheGenerationStateActive,
			)
		},
	))

	// 8. Filtered listing
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		gens, err := dbClient.ListCacheGenerations(ctx, db.CacheGenerationQueryFilter{
			TargetStates: []models.CacheGenerationStateENUMType{
				models.CacheGenerationStateSuperseded,
			},
		})
		assert.Nil(err)
		assert.Len(gens, 1)
		assert.Equal("shell-v1", gens[0].Name)

		version := "v1"
		gens, err = dbClient.ListCacheGenerations(ctx, db.CacheGenerationQueryFilter{
			TargetVersion: &version,
		})
		assert.Nil(err)
		assert.Len(gens, 2)
		assert.Equal("shell-v1", gens[0].Name)
		assert.Equal("runtime-v1", gens[1].Name)

		gens, err = dbClient.ListCacheGenerations(ctx, db.CacheGenerationQueryFilter{
			ExcludeNames: []string{"shell-v1"},
		})
		assert.Nil(err)
		assert.Len(gens, 1)
		assert.Equal("runtime-v1", gens[0].Name)
		return err
	}))

	// 9. Delete removes the generation and its entries
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.DeleteCacheGeneration(ctx, "shell-v1")
		},
	))
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.GetCacheGeneration(ctx, "shell-v1")
		assert.ErrorIs(err, db.ErrNotFound)

		entries, err := dbClient.ListCacheEntries(ctx, "shell-v1")
		assert.Nil(err)
		assert.Empty(entries)

		gens, err := dbClient.ListCacheGenerations(ctx, db.CacheGenerationQueryFilter{})
		assert.Nil(err)
		assert.Len(gens, 1)
		return err
	}))
}
