package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/notesync/models"
	"github.com/apex/log"
)

// GlobalEngineParamEntryID ID of the singleton engine parameter entry
const GlobalEngineParamEntryID = "engine-parameters"

// getEngineParamEntry fetch the engine param entry
//
// If the entry does not exist, initialize a new one.
func (d *databaseImpl) getEngineParamEntry() (EngineParamsDBEntry, error) {
	var entries []EngineParamsDBEntry
	dbErr := d.db.Where("id = ?", GlobalEngineParamEntryID).Find(&entries).Error
	if dbErr != nil {
		return EngineParamsDBEntry{}, fmt.Errorf(
			"failed to read engine params table [%w]", classifyError(dbErr),
		)
	}
	if len(entries) == 0 {
		// Make a new one
		newEntry := EngineParamsDBEntry{
			EngineParams: models.EngineParams{
				ID:        GlobalEngineParamEntryID,
				SyncState: models.SyncStateIdle,
			},
		}
		if dbErr = d.db.Create(&newEntry).Error; dbErr != nil {
			return EngineParamsDBEntry{}, fmt.Errorf(
				"failed to setup singleton engine params table [%w]", classifyError(dbErr),
			)
		}
		return newEntry, nil
	}
	return entries[0], nil
}

/*
GetEngineParamEntry fetch the global singleton engine parameter entry

	@param ctx context.Context - execution context
	@returns the entry
*/
func (d *databaseImpl) GetEngineParamEntry(_ context.Context) (models.EngineParams, error) {
	entry, err := d.getEngineParamEntry()
	if err != nil {
		return entry.EngineParams, fmt.Errorf("unable to fetch engine parameter entry [%w]", err)
	}
	return entry.EngineParams, nil
}

/*
SetActiveCacheVersion record which cache engine version is serving

	@param ctx context.Context - execution context
	@param version string - the cache engine version
*/
func (d *databaseImpl) SetActiveCacheVersion(_ context.Context, version string) error {
	entry, err := d.getEngineParamEntry()
	if err != nil {
		return fmt.Errorf("unable to fetch engine parameter entry [%w]", err)
	}

	if entry.ActiveCacheVersion == version {
		// NOOP
		return nil
	}

	if tmp := d.db.Model(&EngineParamsDBEntry{}).
		Where("id = ?", GlobalEngineParamEntryID).
		Update("active_cache_version", version); tmp.Error != nil {
		return fmt.Errorf("active cache version update failed [%w]", classifyError(tmp.Error))
	}

	return nil
}

/*
AcquireSyncLease attempt to take the sync lease

The lease is taken with a compare-and-set on the current holder, so two contexts racing
for an idle or lapsed lease can not both succeed.

	@param ctx context.Context - execution context
	@param owner string - the lease owner ID
	@param now time.Time - current time
	@param ttl time.Duration - lease duration if never released
	@returns whether the lease was taken
*/
func (d *databaseImpl) AcquireSyncLease(
	ctx context.Context, owner string, now time.Time, ttl time.Duration,
) (bool, error) {
	logTags := d.GetLogTagsForContext(ctx)

	entry, err := d.getEngineParamEntry()
	if err != nil {
		return false, fmt.Errorf("unable to fetch engine parameter entry [%w]", err)
	}

	if entry.SyncLeaseHeld(now) {
		log.WithFields(logTags).
			WithField("holder", entry.SyncLeaseOwner).
			Debug("Sync lease is held elsewhere")
		return false, nil
	}

	if entry.SyncState == models.SyncStateSyncing {
		log.WithFields(logTags).
			WithField("holder", entry.SyncLeaseOwner).
			Warn("Taking over lapsed sync lease")
	} else if err := entry.ValidateNextSyncState(models.SyncStateSyncing); err != nil {
		return false, fmt.Errorf("sync lease can not be taken [%w]", err)
	}

	expiry := now.Add(ttl).UTC()
	tmp := d.db.Model(&EngineParamsDBEntry{}).
		Where(
			"id = ? AND sync_state = ? AND sync_lease_owner = ?",
			GlobalEngineParamEntryID, entry.SyncState, entry.SyncLeaseOwner,
		).
		Updates(map[string]interface{}{
			"sync_state":        models.SyncStateSyncing,
			"sync_lease_owner":  owner,
			"sync_lease_expiry": expiry,
		})
	if tmp.Error != nil {
		return false, fmt.Errorf("sync lease update failed [%w]", classifyError(tmp.Error))
	}

	return tmp.RowsAffected == 1, nil
}

/*
ReleaseSyncLease release a held sync lease

	@param ctx context.Context - execution context
	@param owner string - the lease owner ID
	@param syncedAt *time.Time - if set, the completion time of a successful sync
*/
func (d *databaseImpl) ReleaseSyncLease(
	_ context.Context, owner string, syncedAt *time.Time,
) error {
	entry, err := d.getEngineParamEntry()
	if err != nil {
		return fmt.Errorf("unable to fetch engine parameter entry [%w]", err)
	}

	if entry.SyncLeaseOwner != owner {
		// Lapsed and taken over by another context
		return fmt.Errorf("sync lease not held by %s", owner)
	}

	if err := entry.ValidateNextSyncState(models.SyncStateIdle); err != nil {
		return fmt.Errorf("sync lease can not be released [%w]", err)
	}

	updates := map[string]interface{}{
		"sync_state":        models.SyncStateIdle,
		"sync_lease_owner":  "",
		"sync_lease_expiry": nil,
	}
	if syncedAt != nil {
		updates["last_sync_at"] = syncedAt.UTC()
	}

	if tmp := d.db.Model(&EngineParamsDBEntry{}).
		Where("id = ? AND sync_lease_owner = ?", GlobalEngineParamEntryID, owner).
		Updates(updates); tmp.Error != nil {
		return fmt.Errorf("sync lease release failed [%w]", classifyError(tmp.Error))
	}

	return nil
}
