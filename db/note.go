package db

import (
	"context"
	"fmt"

	"github.com/alwitt/notesync/models"
	"gorm.io/gorm"
)

// ======================================================================================
// Local notes

/*
CreateNote insert a new note

	@param ctx context.Context - execution context
	@param note models.Note - the note
	@returns the stored note
*/
func (d *databaseImpl) CreateNote(ctx context.Context, note models.Note) (models.Note, error) {
	newEntry := NoteDBEntry{Note: note}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Note{}, fmt.Errorf("new note %s is not valid [%w]", note.ID, invalidEntry(err))
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Note{}, fmt.Errorf(
			"new note %s failed insert [%w]", note.ID, classifyError(tmp.Error),
		)
	}

	// Record this event
	if _, err := d.RecordSyncEvent(
		ctx, models.SyncEventTypeNoteCreated, models.SyncEventNoteRelated{NoteID: note.ID},
	); err != nil {
		return models.Note{}, fmt.Errorf(
			"failed to log note %s creation audit event [%w]", note.ID, err,
		)
	}

	return newEntry.Note, nil
}

/*
GetNote fetch a note by ID

	@param ctx context.Context - execution context
	@param noteID string - the note ID
	@returns the note
*/
func (d *databaseImpl) GetNote(_ context.Context, noteID string) (models.Note, error) {
	var entry NoteDBEntry
	if tmp := d.db.Where("id = ?", noteID).First(&entry); tmp.Error != nil {
		return models.Note{}, fmt.Errorf(
			"failed to fetch note %s [%w]", noteID, classifyError(tmp.Error),
		)
	}
	return entry.Note, nil
}

// noteQuery build the base query for the note filters
func (d *databaseImpl) noteQuery(filters NoteQueryFilter) *gorm.DB {
	query := d.db.Model(&NoteDBEntry{})
	if filters.Synced != nil {
		query = query.Where("synced = ?", *filters.Synced)
	}
	return query
}

/*
ListNotes list notes, newest first

	@param ctx context.Context - execution context
	@param filters NoteQueryFilter - entry listing filter
	@return list of notes
*/
func (d *databaseImpl) ListNotes(
	_ context.Context, filters NoteQueryFilter,
) ([]models.Note, error) {
	query := d.noteQuery(filters)

	query = applyListFilter(query, filters.CommonListEntryQueryFilter)

	query = query.Order("created_at desc").Order("id")

	var entries []NoteDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list notes [%w]", classifyError(tmp.Error))
	}

	result := []models.Note{}
	for _, entry := range entries {
		result = append(result, entry.Note)
	}

	return result, nil
}

/*
CountNotes count notes matching the filter

	@param ctx context.Context - execution context
	@param filters NoteQueryFilter - entry listing filter
	@return number of notes
*/
func (d *databaseImpl) CountNotes(_ context.Context, filters NoteQueryFilter) (int64, error) {
	var count int64
	if tmp := d.noteQuery(filters).Count(&count); tmp.Error != nil {
		return 0, fmt.Errorf("failed to count notes [%w]", classifyError(tmp.Error))
	}
	return count, nil
}

/*
MarkNotesSynced set synced on every listed note that exists

IDs not present in the table are ignored. Notes already synced are left untouched, so
repeating the call changes nothing.

	@param ctx context.Context - execution context
	@param noteIDs []string - the note IDs
	@return number of notes which changed state
*/
func (d *databaseImpl) MarkNotesSynced(_ context.Context, noteIDs []string) (int64, error) {
	if len(noteIDs) == 0 {
		return 0, nil
	}

	tmp := d.db.Model(&NoteDBEntry{}).
		Where("id in ? AND synced = ?", noteIDs, false).
		Update("synced", true)
	if tmp.Error != nil {
		return 0, fmt.Errorf(
			"failed to mark %d notes synced [%w]", len(noteIDs), classifyError(tmp.Error),
		)
	}

	return tmp.RowsAffected, nil
}
