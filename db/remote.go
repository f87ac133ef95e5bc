package db

import (
	"context"
	"fmt"

	"github.com/alwitt/notesync/models"
	"gorm.io/gorm/clause"
)

// ======================================================================================
// Server side notes

/*
UpsertRemoteNotes store notes received by the reconciliation endpoint

A note whose ID is already present replaces the stored copy.

	@param ctx context.Context - execution context
	@param notes []models.RemoteNote - the notes
*/
func (d *databaseImpl) UpsertRemoteNotes(_ context.Context, notes []models.RemoteNote) error {
	if len(notes) == 0 {
		return nil
	}

	entries := make([]RemoteNoteDBEntry, 0, len(notes))
	for _, note := range notes {
		entry := RemoteNoteDBEntry{RemoteNote: note}
		if err := d.validator.Struct(&entry); err != nil {
			return fmt.Errorf("remote note '%s' is not valid [%w]", note.ID, invalidEntry(err))
		}
		entries = append(entries, entry)
	}

	tmp := d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"text", "note_created_at", "image_data_url", "updated_at"},
		),
	}).Create(&entries)
	if tmp.Error != nil {
		return fmt.Errorf("failed to store %d remote notes [%w]", len(notes), classifyError(tmp.Error))
	}

	return nil
}

/*
GetRemoteNote fetch a server side note by ID

	@param ctx context.Context - execution context
	@param noteID string - the note ID
	@returns the note
*/
func (d *databaseImpl) GetRemoteNote(_ context.Context, noteID string) (models.RemoteNote, error) {
	var entry RemoteNoteDBEntry
	if tmp := d.db.Where("id = ?", noteID).First(&entry); tmp.Error != nil {
		return models.RemoteNote{}, fmt.Errorf(
			"failed to fetch remote note %s [%w]", noteID, classifyError(tmp.Error),
		)
	}
	return entry.RemoteNote, nil
}

/*
ListRemoteNotes list server side notes, newest first

	@param ctx context.Context - execution context
	@param filters CommonListEntryQueryFilter - entry listing filter
	@return list of notes
*/
func (d *databaseImpl) ListRemoteNotes(
	_ context.Context, filters CommonListEntryQueryFilter,
) ([]models.RemoteNote, error) {
	query := applyListFilter(d.db.Model(&RemoteNoteDBEntry{}), filters)

	query = query.Order("note_created_at desc").Order("id")

	var entries []RemoteNoteDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list remote notes [%w]", classifyError(tmp.Error))
	}

	result := []models.RemoteNote{}
	for _, entry := range entries {
		result = append(result, entry.RemoteNote)
	}

	return result, nil
}
