package db

import "github.com/alwitt/notesync/models"

// --------------------------------------------------------------------------------------
// Engine audit events

// SyncEventAuditDBEntry engine audit event DB entry
type SyncEventAuditDBEntry struct {
	models.SyncEventAudit
}

// TableName hard code table name
func (SyncEventAuditDBEntry) TableName() string {
	return "sync_audit_events"
}

// --------------------------------------------------------------------------------------
// Engine parameters

// EngineParamsDBEntry engine parameter DB entry
type EngineParamsDBEntry struct {
	models.EngineParams
}

// TableName hard code table name
func (EngineParamsDBEntry) TableName() string {
	return "engine_params"
}

// --------------------------------------------------------------------------------------
// Notes

// NoteDBEntry local note DB entry
type NoteDBEntry struct {
	models.Note
}

// TableName hard code table name
func (NoteDBEntry) TableName() string {
	return "notes"
}

// RemoteNoteDBEntry server side note DB entry
type RemoteNoteDBEntry struct {
	models.RemoteNote
}

// TableName hard code table name
func (RemoteNoteDBEntry) TableName() string {
	return "remote_notes"
}

// --------------------------------------------------------------------------------------
// Cache generations

// CacheGenerationDBEntry cache generation DB entry
type CacheGenerationDBEntry struct {
	models.CacheGeneration
}

// TableName hard code table name
func (CacheGenerationDBEntry) TableName() string {
	return "cache_generations"
}

// CacheEntryDBEntry cached response snapshot DB entry
type CacheEntryDBEntry struct {
	models.CacheEntry
	Generation CacheGenerationDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:GenerationName" validate:"-"`
}

// TableName hard code table name
func (CacheEntryDBEntry) TableName() string {
	return "cache_entries"
}

// --------------------------------------------------------------------------------------
// Deferred tasks

// DeferredTaskDBEntry deferred task DB entry
type DeferredTaskDBEntry struct {
	models.DeferredTask
}

// TableName hard code table name
func (DeferredTaskDBEntry) TableName() string {
	return "deferred_tasks"
}
