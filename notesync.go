// Package notesync - offline-first note capture with background sync
package notesync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alwitt/notesync/cache"
	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/models"
	"github.com/alwitt/notesync/store"
	"github.com/alwitt/notesync/syncer"
	"github.com/alwitt/notesync/trigger"
	"github.com/apex/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrEmptyNote the note has no text
var ErrEmptyNote = errors.New("note text is empty")

// ClientParams offline notes client parameters
type ClientParams struct {
	// DBDialector GORM dialector of the local database
	DBDialector gorm.Dialector
	// DBLogLevel SQL log level
	DBLogLevel logger.LogLevel
	// ServerURL base URL of the notes server
	ServerURL string
	// RequestTimeout timeout of a single call to the server
	RequestTimeout time.Duration
	// Cache cache tier parameters. Origin defaults to ServerURL.
	Cache cache.ManagerParams
	// InstallShell whether to install and activate the cache version at start
	InstallShell bool
	// Coordinator sync coordinator parameters
	Coordinator syncer.CoordinatorParams
	// Scheduler sync scheduler parameters
	Scheduler trigger.SchedulerParams
	// ProbeInterval connectivity polling interval. Zero disables polling.
	ProbeInterval time.Duration
	// Network optional transport under the cache tier
	Network http.RoundTripper
}

// OfflineNotesClient an offline-first notes client
type OfflineNotesClient struct {
	persistence db.Client
	notes       store.NoteStore
	cache       cache.Manager
	coordinator syncer.Coordinator
	scheduler   trigger.Scheduler
	monitor     *trigger.ConnectivityMonitor
	stop        context.CancelFunc
}

/*
NewOfflineNotesClient initialize an offline notes client and start its sync triggers

	@param ctx context.Context - execution context
	@param params ClientParams - client parameters
	@returns new client instance
*/
func NewOfflineNotesClient(ctx context.Context, params ClientParams) (*OfflineNotesClient, error) {
	logTags := log.Fields{"package": "notesync", "component": "offline-notes-client"}

	// A lease must outlive the server call made under it
	if params.Coordinator.LeaseTTL <= params.RequestTimeout {
		return nil, fmt.Errorf(
			"sync lease TTL %s must exceed the request timeout %s",
			params.Coordinator.LeaseTTL,
			params.RequestTimeout,
		)
	}

	// Prepare persistence
	persistence, err := db.NewConnection(params.DBDialector, params.DBLogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized persistence client [%w]", err)
	}
	if err := persistence.RunSQLInTransaction(ctx, db.DefineTables); err != nil {
		_ = persistence.Close()
		return nil, fmt.Errorf("failed to prepare tables [%w]", err)
	}

	instance, err := assembleClient(ctx, params, persistence)
	if err != nil {
		_ = persistence.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	instance.stop = cancel

	if err := instance.scheduler.Start(runCtx); err != nil {
		cancel()
		_ = persistence.Close()
		return nil, fmt.Errorf("failed to start sync scheduler [%w]", err)
	}
	if instance.monitor != nil {
		instance.monitor.Start(runCtx)
	}

	if params.InstallShell && instance.scheduler.Online() {
		if err := instance.cache.Upgrade(ctx); err != nil {
			// The previously active version keeps serving
			log.WithError(err).WithFields(logTags).Warn("Cache upgrade failed")
		}
	}

	return instance, nil
}

func assembleClient(
	ctx context.Context, params ClientParams, persistence db.Client,
) (*OfflineNotesClient, error) {
	notes, err := store.NewNoteStore(persistence)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized note store [%w]", err)
	}

	network := params.Network
	if network == nil {
		network = http.DefaultTransport
	}
	cacheParams := params.Cache
	if cacheParams.Origin == "" {
		cacheParams.Origin = params.ServerURL
	}
	cacheManager, err := cache.NewManager(cacheParams, persistence, network)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized cache tier [%w]", err)
	}
	if err := cacheManager.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load cache generations [%w]", err)
	}

	// Every outgoing call goes through the cache tier
	reconciler, err := syncer.NewHTTPReconciler(syncer.HTTPReconcilerParams{
		BaseURL: params.ServerURL, Timeout: params.RequestTimeout, Transport: cacheManager,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized reconciler [%w]", err)
	}

	coordinator, err := syncer.NewCoordinator(params.Coordinator, persistence, notes, reconciler)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized sync coordinator [%w]", err)
	}

	prober := trigger.NewHTTPProber(params.ServerURL, params.RequestTimeout, cacheManager)
	online := prober.Probe(ctx) == nil

	scheduler, err := trigger.NewScheduler(params.Scheduler, persistence, coordinator, online)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized sync scheduler [%w]", err)
	}

	instance := &OfflineNotesClient{
		persistence: persistence,
		notes:       notes,
		cache:       cacheManager,
		coordinator: coordinator,
		scheduler:   scheduler,
	}
	if params.ProbeInterval > 0 {
		instance.monitor = trigger.NewConnectivityMonitor(
			prober, params.ProbeInterval, scheduler.ConnectivityChanged,
		)
	}
	return instance, nil
}

/*
SaveNote store a new note locally, then try to get it synced

An online client syncs at once. Otherwise a deferred sync is registered to run once
connectivity is restored.

	@param ctx context.Context - execution context
	@param text string - note text
	@param image []byte - optional image
	@returns the stored note, and a user facing status message
*/
func (c *OfflineNotesClient) SaveNote(
	ctx context.Context, text string, image []byte,
) (models.Note, string, error) {
	if strings.TrimSpace(text) == "" {
		return models.Note{}, "", ErrEmptyNote
	}

	note, err := c.notes.Create(ctx, store.NewNote(text, image, time.Now()), nil)
	if err != nil {
		return models.Note{}, "", fmt.Errorf("failed to save note [%w]", err)
	}

	if c.scheduler.Online() {
		outcome, err := c.scheduler.SyncNow(ctx)
		if err == nil {
			switch outcome.Status {
			case syncer.OutcomeSynced:
				if synced, err := c.notes.Get(ctx, note.ID, nil); err == nil {
					note = synced
				}
				return note, "Saved. " + outcome.StatusMessage(), nil
			case syncer.OutcomeNoop, syncer.OutcomeStorageFailure:
				return note, "Saved. " + outcome.StatusMessage(), nil
			}
		}
	}

	if err := c.scheduler.RegisterDeferred(ctx, trigger.DeferredSyncTag); err != nil {
		return note, "Saved. Automatic sync could not be scheduled, use Sync now.", nil
	}
	return note, "Saved. Automatic sync will run once online.", nil
}

/*
ListNotes list the local notes, newest first

	@param ctx context.Context - execution context
	@returns the notes
*/
func (c *OfflineNotesClient) ListNotes(ctx context.Context) ([]models.Note, error) {
	return c.notes.ListAll(ctx, nil)
}

/*
PendingCount count the notes waiting to be synced

	@param ctx context.Context - execution context
	@returns number of unsynced notes
*/
func (c *OfflineNotesClient) PendingCount(ctx context.Context) (int64, error) {
	return c.notes.CountUnsynced(ctx, nil)
}

/*
SyncNow sync at once, on explicit user request

	@param ctx context.Context - execution context
	@returns the outcome, and a user facing status message
*/
func (c *OfflineNotesClient) SyncNow(ctx context.Context) (syncer.Outcome, string) {
	outcome, err := c.scheduler.SyncNow(ctx)
	if errors.Is(err, trigger.ErrOffline) {
		return outcome, "You are offline. Sync will run once back online."
	}
	return outcome, outcome.StatusMessage()
}

// Online whether the server was last known reachable
func (c *OfflineNotesClient) Online() bool {
	return c.scheduler.Online()
}

// Scheduler the sync scheduler, for reporting connectivity and visibility changes
func (c *OfflineNotesClient) Scheduler() trigger.Scheduler {
	return c.scheduler
}

// Cache the cache tier, usable as an HTTP transport
func (c *OfflineNotesClient) Cache() cache.Manager {
	return c.cache
}

// OnBatchSynced register an observer of accepted batches
func (c *OfflineNotesClient) OnBatchSynced(observer syncer.BatchObserver) {
	c.coordinator.OnBatchSynced(observer)
}

// Close stop the sync triggers and close the local database
func (c *OfflineNotesClient) Close() error {
	if c.monitor != nil {
		c.monitor.Stop()
	}
	c.stop()
	c.scheduler.Stop()
	c.cache.Close()
	return c.persistence.Close()
}
