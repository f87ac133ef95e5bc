package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/alwitt/goutils"
	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/models"
	"github.com/alwitt/notesync/push"
	"github.com/alwitt/notesync/syncer"
	"github.com/apex/log"
)

// ErrorResponse error response body
type ErrorResponse struct {
	Error string `json:"error"`
}

// VAPIDKeyResponse VAPID public key response body
type VAPIDKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// NoteListResponse stored note listing response body
type NoteListResponse struct {
	Notes []models.RemoteNote `json:"notes"`
}

// HandlerParams notes API handler parameters
type HandlerParams struct {
	// VAPIDPublicKey the VAPID public key handed to subscribing clients
	VAPIDPublicKey string
	// PushTitle title of the push notification sent after a batch is stored
	PushTitle string
	// MaxBodyBytes request body size limit
	MaxBodyBytes int64
	// RequestIDHeader header carrying the caller's request ID
	RequestIDHeader string
}

// NotesHandler the notes REST API handler
type NotesHandler struct {
	goutils.RestAPIHandler
	params        HandlerParams
	persistence   db.Client
	subscriptions push.SubscriptionSet
	fanOut        push.FanOut
}

/*
NewNotesHandler define a new notes REST API handler

	@param params HandlerParams - handler parameters
	@param persistence db.Client - persistence layer client
	@param subscriptions push.SubscriptionSet - push subscriptions
	@param fanOut push.FanOut - push fan-out. nil when push is not configured.
	@returns the handler
*/
func NewNotesHandler(
	params HandlerParams,
	persistence db.Client,
	subscriptions push.SubscriptionSet,
	fanOut push.FanOut,
) NotesHandler {
	logTags := log.Fields{"module": "api", "component": "notes-handler"}
	requestIDHeader := params.RequestIDHeader
	return NotesHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &requestIDHeader,
		},
		params:        params,
		persistence:   persistence,
		subscriptions: subscriptions,
		fanOut:        fanOut,
	}
}

func (h NotesHandler) writeError(
	ctx context.Context, w http.ResponseWriter, respCode int, message string,
) {
	if err := h.WriteRESTResponse(w, respCode, ErrorResponse{Error: message}, nil); err != nil {
		log.WithError(err).WithFields(h.GetLogTagsForContext(ctx)).Error("Failed to write response")
	}
}

func (h NotesHandler) writeOK(ctx context.Context, w http.ResponseWriter, resp interface{}) {
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(h.GetLogTagsForContext(ctx)).Error("Failed to write response")
	}
}

// readBody read the request body, bounded by MaxBodyBytes
func (h NotesHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, h.params.MaxBodyBytes))
}

// VAPIDPublicKey godoc
// @Summary Fetch the VAPID public key
// @Produce json
// @Success 200 {object} VAPIDKeyResponse
// @Router /api/vapidPublicKey [get]
func (h NotesHandler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	h.writeOK(r.Context(), w, VAPIDKeyResponse{PublicKey: h.params.VAPIDPublicKey})
}

// VAPIDPublicKeyHandler Wrapper around VAPIDPublicKey
func (h NotesHandler) VAPIDPublicKeyHandler() http.HandlerFunc {
	return h.VAPIDPublicKey
}

// Subscribe godoc
// @Summary Register a push subscription
// @Accept json
// @Produce json
// @Success 200 {object} syncer.ReconcileResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/subscribe [post]
func (h NotesHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logTags := h.GetLogTagsForContext(ctx)

	body, err := h.readBody(w, r)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to read subscription")
		h.writeError(ctx, w, http.StatusBadRequest, "Bad subscription")
		return
	}

	registered, added, err := h.subscriptions.Add(body)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Rejected subscription")
		h.writeError(ctx, w, http.StatusBadRequest, "Bad subscription")
		return
	}
	log.WithFields(logTags).
		WithField("endpoint", registered.Subscription.Endpoint).
		WithField("new", added).
		Info("Registered push subscription")

	h.writeOK(ctx, w, syncer.ReconcileResponse{OK: true})
}

// SubscribeHandler Wrapper around Subscribe
func (h NotesHandler) SubscribeHandler() http.HandlerFunc {
	return h.Subscribe
}

// StoreNotes godoc
// @Summary Store a batch of notes
// @Description Notes are stored last write wins by ID. Push subscribers are notified afterwards.
// @Accept json
// @Produce json
// @Success 200 {object} syncer.ReconcileResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/notes [post]
func (h NotesHandler) StoreNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logTags := h.GetLogTagsForContext(ctx)

	body, err := h.readBody(w, r)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to read note batch")
		h.writeError(ctx, w, http.StatusBadRequest, "notes must be array")
		return
	}

	batch, err := parseBatch(body)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Rejected note batch")
		h.writeError(ctx, w, http.StatusBadRequest, "notes must be array")
		return
	}
	log.WithFields(logTags).WithField("notes", batch.NoteIDs()).Info("Received notes")

	if len(batch.Notes) > 0 {
		if err := h.persistence.UseDatabaseInTransaction(
			ctx, func(ctx context.Context, dbClient db.Database) error {
				return dbClient.UpsertRemoteNotes(ctx, batch.RemoteNotes())
			},
		); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to store notes")
			if errors.Is(err, db.ErrInvalidEntry) {
				h.writeError(ctx, w, http.StatusBadRequest, "Invalid note")
			} else {
				h.writeError(ctx, w, http.StatusInternalServerError, "Sync failed")
			}
			return
		}
	}

	if h.fanOut != nil && h.subscriptions.Len() > 0 {
		report := h.fanOut.Broadcast(ctx, push.SyncedNotification(h.params.PushTitle, len(batch.Notes)))
		log.WithFields(logTags).
			WithField("attempted", report.Attempted).
			WithField("delivered", report.Delivered).
			WithField("pruned", len(report.Pruned)).
			Debug("Push fan-out complete")
	}

	h.writeOK(ctx, w, syncer.ReconcileResponse{OK: true})
}

// StoreNotesHandler Wrapper around StoreNotes
func (h NotesHandler) StoreNotesHandler() http.HandlerFunc {
	return h.StoreNotes
}

// ListNotes godoc
// @Summary List stored notes, newest first
// @Produce json
// @Param limit query int false "Max number of notes"
// @Param offset query int false "Number of notes to skip"
// @Success 200 {object} NoteListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/notes [get]
func (h NotesHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logTags := h.GetLogTagsForContext(ctx)

	filter := db.CommonListEntryQueryFilter{}
	for param, target := range map[string]**int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			h.writeError(ctx, w, http.StatusBadRequest, fmt.Sprintf("invalid %s", param))
			return
		}
		*target = &value
	}

	var notes []models.RemoteNote
	if err := h.persistence.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
		var err error
		notes, err = dbClient.ListRemoteNotes(ctx, filter)
		return err
	}); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to list notes")
		h.writeError(ctx, w, http.StatusInternalServerError, "List failed")
		return
	}

	h.writeOK(ctx, w, NoteListResponse{Notes: notes})
}

// ListNotesHandler Wrapper around ListNotes
func (h NotesHandler) ListNotesHandler() http.HandlerFunc {
	return h.ListNotes
}

// parseBatch decode a note batch, requiring "notes" to be an array
func parseBatch(body []byte) (syncer.Batch, error) {
	var raw struct {
		Notes json.RawMessage `json:"notes"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return syncer.Batch{}, fmt.Errorf("malformed batch [%w]", err)
	}
	trimmed := bytes.TrimSpace(raw.Notes)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return syncer.Batch{}, fmt.Errorf("notes is not an array")
	}
	var batch syncer.Batch
	if err := json.Unmarshal(trimmed, &batch.Notes); err != nil {
		return syncer.Batch{}, fmt.Errorf("malformed notes [%w]", err)
	}
	return batch, nil
}
