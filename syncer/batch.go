package syncer

import (
	"encoding/base64"
	"fmt"

	"github.com/alwitt/notesync/models"
	"github.com/gabriel-vasile/mimetype"
)

// BatchNote transport form of one note
type BatchNote struct {
	ID          string  `json:"id" validate:"required"`
	Text        string  `json:"text" validate:"required"`
	CreatedAt   int64   `json:"createdAt"`
	ImageBase64 *string `json:"imageBase64"`
}

// Batch the reconciliation request body
type Batch struct {
	Notes []BatchNote `json:"notes" validate:"dive"`
}

// NoteIDs the IDs of the notes in the batch
func (b Batch) NoteIDs() []string {
	ids := make([]string, 0, len(b.Notes))
	for _, note := range b.Notes {
		ids = append(ids, note.ID)
	}
	return ids
}

// ReconcileResponse the reconciliation response body
type ReconcileResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

/*
EncodeImage encode an image as a data URL

	@param blob []byte - image content
	@returns data URL of the form data:<media type>;base64,<payload>
*/
func EncodeImage(blob []byte) string {
	return fmt.Sprintf(
		"data:%s;base64,%s", mimetype.Detect(blob).String(), base64.StdEncoding.EncodeToString(blob),
	)
}

/*
EncodeBatch build the transport batch for a set of notes

	@param notes []models.Note - the notes
	@returns the batch
*/
func EncodeBatch(notes []models.Note) Batch {
	batch := Batch{Notes: make([]BatchNote, 0, len(notes))}
	for _, note := range notes {
		entry := BatchNote{ID: note.ID, Text: note.Text, CreatedAt: note.CreatedAt}
		if note.HasImage() {
			encoded := EncodeImage(note.ImageBlob)
			entry.ImageBase64 = &encoded
		}
		batch.Notes = append(batch.Notes, entry)
	}
	return batch
}

// RemoteNotes convert a received batch into server side note entries
func (b Batch) RemoteNotes() []models.RemoteNote {
	result := make([]models.RemoteNote, 0, len(b.Notes))
	for _, note := range b.Notes {
		result = append(result, models.RemoteNote{
			ID:            note.ID,
			Text:          note.Text,
			NoteCreatedAt: note.CreatedAt,
			ImageDataURL:  note.ImageBase64,
		})
	}
	return result
}
