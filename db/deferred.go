package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/notesync/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ======================================================================================
// Deferred tasks

/*
RegisterDeferredTask register a one-shot deferred task

Registering a pending tag again bumps its generation, so a run already in flight does
not complete it.

	@param ctx context.Context - execution context
	@param tag string - task tag
	@returns the task entry, and whether it was newly registered
*/
func (d *databaseImpl) RegisterDeferredTask(
	ctx context.Context, tag string,
) (models.DeferredTask, bool, error) {
	newEntry := DeferredTaskDBEntry{DeferredTask: models.DeferredTask{Tag: tag, Generation: 1}}
	if err := d.validator.Struct(&newEntry); err != nil {
		return models.DeferredTask{}, false, fmt.Errorf(
			"deferred task '%s' is not valid [%w]", tag, invalidEntry(err),
		)
	}

	if tmp := d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tag"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"generation": gorm.Expr("generation + ?", 1),
			"updated_at": time.Now(),
		}),
	}).Create(&newEntry); tmp.Error != nil {
		return models.DeferredTask{}, false, fmt.Errorf(
			"deferred task '%s' failed upsert [%w]", tag, classifyError(tmp.Error),
		)
	}

	var entry DeferredTaskDBEntry
	if tmp := d.db.Where("tag = ?", tag).First(&entry); tmp.Error != nil {
		return models.DeferredTask{}, false, fmt.Errorf(
			"failed to read back deferred task '%s' [%w]", tag, classifyError(tmp.Error),
		)
	}
	if entry.Generation > 1 {
		return entry.DeferredTask, false, nil
	}

	// Record this event
	if _, err := d.RecordSyncEvent(
		ctx, models.SyncEventTypeDeferredRegistered, models.SyncEventDeferredRelated{Tag: tag},
	); err != nil {
		return models.DeferredTask{}, false, fmt.Errorf(
			"failed to log deferred task '%s' registration audit event [%w]", tag, err,
		)
	}

	return entry.DeferredTask, true, nil
}

/*
ListDeferredTasks list pending deferred tasks, oldest first

	@param ctx context.Context - execution context
	@returns the tasks
*/
func (d *databaseImpl) ListDeferredTasks(_ context.Context) ([]models.DeferredTask, error) {
	var entries []DeferredTaskDBEntry
	if tmp := d.db.Order("created_at").Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list deferred tasks [%w]", classifyError(tmp.Error))
	}

	result := []models.DeferredTask{}
	for _, entry := range entries {
		result = append(result, entry.DeferredTask)
	}

	return result, nil
}

/*
RecordDeferredTaskFailure note a failed execution of a deferred task

	@param ctx context.Context - execution context
	@param tag string - task tag
	@param detail string - failure detail
*/
func (d *databaseImpl) RecordDeferredTaskFailure(_ context.Context, tag string, detail string) error {
	tmp := d.db.Model(&DeferredTaskDBEntry{}).
		Where("tag = ?", tag).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + ?", 1),
			"last_error": detail,
		})
	if tmp.Error != nil {
		return fmt.Errorf(
			"failed to record deferred task '%s' failure [%w]", tag, classifyError(tmp.Error),
		)
	}
	if tmp.RowsAffected == 0 {
		return fmt.Errorf("deferred task '%s' is not registered [%w]", tag, ErrNotFound)
	}
	return nil
}

/*
CompleteDeferredTask remove a deferred task after it ran to completion

The task stays if it was registered again after the run listed it.

	@param ctx context.Context - execution context
	@param tag string - task tag
	@param generation int64 - task generation the run started from
	@returns whether the task was removed
*/
func (d *databaseImpl) CompleteDeferredTask(
	ctx context.Context, tag string, generation int64,
) (bool, error) {
	tmp := d.db.
		Where("tag = ?", tag).
		Where("generation = ?", generation).
		Delete(&DeferredTaskDBEntry{})
	if tmp.Error != nil {
		return false, fmt.Errorf(
			"failed to remove deferred task '%s' [%w]", tag, classifyError(tmp.Error),
		)
	}
	if tmp.RowsAffected == 0 {
		// Registered again, or already completed by another context
		return false, nil
	}

	// Record this event
	if _, err := d.RecordSyncEvent(
		ctx, models.SyncEventTypeDeferredCompleted, models.SyncEventDeferredRelated{Tag: tag},
	); err != nil {
		return false, fmt.Errorf(
			"failed to log deferred task '%s' completion audit event [%w]", tag, err,
		)
	}

	return true, nil
}
