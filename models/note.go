// Package models - system data models
package models

import (
	"strings"
	"time"
)

// Note a captured note; the only entity whose existence the local store is authoritative for
type Note struct {
	// ID note ID. A random 128-bit UUID in string form.
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// Text note text
	Text string `json:"text" gorm:"column:text;not null" validate:"required,note_text"`

	// CreatedAt creation timestamp as milliseconds since epoch
	CreatedAt int64 `json:"createdAt" gorm:"column:created_at;not null;index;autoCreateTime:milli" validate:"gt=0"`

	// ImageBlob optional photo attached to the note
	ImageBlob []byte `json:"imageBlob,omitempty" gorm:"column:image_blob;default:null"`

	// Synced whether the server has accepted this note
	Synced bool `json:"synced" gorm:"column:synced;not null;default:false;index"`
}

// HasImage whether the note carries an image
func (n Note) HasImage() bool {
	return len(n.ImageBlob) > 0
}

// CreatedTime the creation timestamp as a time.Time
func (n Note) CreatedTime() time.Time {
	return time.UnixMilli(n.CreatedAt)
}

// NormalizeNoteText trim the user supplied note text
func NormalizeNoteText(text string) string {
	return strings.TrimSpace(text)
}

// RemoteNote a note as accepted by the reconciliation endpoint
//
// The server keeps one row per note ID; a resubmitted note overwrites the previous copy.
type RemoteNote struct {
	// ID note ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// Text note text
	Text string `json:"text" gorm:"column:text;not null" validate:"required"`

	// NoteCreatedAt client side creation timestamp, milliseconds since epoch
	NoteCreatedAt int64 `json:"createdAt" gorm:"column:note_created_at;not null"`

	// ImageDataURL the transport encoded image, if any
	ImageDataURL *string `json:"imageBase64" gorm:"column:image_data_url;default:null"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
