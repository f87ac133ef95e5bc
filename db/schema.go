package db

import (
	"context"

	"gorm.io/gorm"
)

// DefineTables prepare a database with the engine tables
//
// Safe to call on every start; existing tables are migrated in place.
func DefineTables(_ context.Context, db *gorm.DB) error {
	return db.AutoMigrate(
		SyncEventAuditDBEntry{},
		EngineParamsDBEntry{},
		NoteDBEntry{},
		RemoteNoteDBEntry{},
		CacheGenerationDBEntry{},
		CacheEntryDBEntry{},
		DeferredTaskDBEntry{},
	)
}
