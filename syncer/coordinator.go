package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/models"
	"github.com/alwitt/notesync/store"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

var validate = validator.New()

// BatchObserver called after a batch was accepted and marked synced
type BatchObserver func(ctx context.Context, noteIDs []string)

// Coordinator runs sync attempts, at most one at a time
type Coordinator interface {
	/*
		Sync run one sync attempt

		A call made while another attempt is in flight returns OutcomeCoalesced at once,
		and the in-flight attempt runs once more after it succeeds.

			@param ctx context.Context - execution context
			@returns the classified outcome
	*/
	Sync(ctx context.Context) Outcome

	/*
		OnBatchSynced register an observer of accepted batches

			@param observer BatchObserver - the observer
	*/
	OnBatchSynced(observer BatchObserver)
}

// CoordinatorParams sync coordinator parameters
type CoordinatorParams struct {
	// LeaseTTL how long a sync lease stays valid if never released
	LeaseTTL time.Duration `validate:"gt=0"`
}

// coordinatorImpl implements Coordinator
type coordinatorImpl struct {
	goutils.Component

	params      CoordinatorParams
	persistence db.Client
	notes       store.NoteStore
	reconciler  Reconciler

	lock      sync.Mutex
	inFlight  bool
	rerun     bool
	observers []BatchObserver
}

/*
NewCoordinator define a new sync coordinator

	@param params CoordinatorParams - coordinator parameters
	@param persistence db.Client - persistence layer client
	@param notes store.NoteStore - the local note store
	@param reconciler Reconciler - remote reconciliation client
	@returns the coordinator
*/
func NewCoordinator(
	params CoordinatorParams,
	persistence db.Client,
	notes store.NoteStore,
	reconciler Reconciler,
) (Coordinator, error) {
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("coordinator parameters not valid [%w]", err)
	}

	logTags := log.Fields{"module": "syncer", "component": "sync-coordinator"}

	return &coordinatorImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		params:      params,
		persistence: persistence,
		notes:       notes,
		reconciler:  reconciler,
	}, nil
}

func (c *coordinatorImpl) OnBatchSynced(observer BatchObserver) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.observers = append(c.observers, observer)
}

func (c *coordinatorImpl) Sync(ctx context.Context) Outcome {
	logTags := c.GetLogTagsForContext(ctx)

	c.lock.Lock()
	if c.inFlight {
		c.rerun = true
		c.lock.Unlock()
		log.WithFields(logTags).Debug("Sync already in flight, coalesced")
		return Outcome{Status: OutcomeCoalesced}
	}
	c.inFlight = true
	c.lock.Unlock()

	result := c.attempt(ctx)
	for {
		c.lock.Lock()
		// A queued rerun only follows a successful attempt
		rerun := c.rerun && result.Status == OutcomeSynced
		c.rerun = false
		if !rerun {
			c.inFlight = false
			c.lock.Unlock()
			return result
		}
		c.lock.Unlock()

		log.WithFields(logTags).Debug("Running queued sync")
		result = result.merge(c.attempt(ctx))
	}
}

// attempt one sync attempt under the sync lease
func (c *coordinatorImpl) attempt(ctx context.Context) Outcome {
	logTags := c.GetLogTagsForContext(ctx)

	owner := ulid.Make().String()
	var acquired bool
	if err := c.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			acquired, err = dbClient.AcquireSyncLease(dbCtx, owner, time.Now(), c.params.LeaseTTL)
			return err
		},
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to take sync lease")
		return Outcome{Status: OutcomeStorageFailure, Err: err}
	}
	if !acquired {
		log.WithFields(logTags).Debug("Sync lease held by another context")
		return Outcome{Status: OutcomeCoalesced}
	}

	outcome := c.syncBatch(ctx)

	var syncedAt *time.Time
	if outcome.Status == OutcomeSynced || outcome.Status == OutcomeNoop {
		now := time.Now()
		syncedAt = &now
	}
	if err := c.persistence.UseDatabaseInTransaction(
		context.WithoutCancel(ctx), func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.ReleaseSyncLease(dbCtx, owner, syncedAt)
		},
	); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Failed to release sync lease")
	}

	if outcome.Status == OutcomeSynced {
		c.lock.Lock()
		observers := append([]BatchObserver{}, c.observers...)
		c.lock.Unlock()
		for _, observer := range observers {
			observer(ctx, outcome.NoteIDs)
		}
	}

	return outcome
}

// syncBatch sample, submit and mark one batch
func (c *coordinatorImpl) syncBatch(ctx context.Context) Outcome {
	logTags := c.GetLogTagsForContext(ctx)

	notes, err := c.notes.ListUnsynced(ctx, nil)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to read unsynced notes")
		return Outcome{Status: OutcomeStorageFailure, Err: err}
	}
	if len(notes) == 0 {
		log.WithFields(logTags).Debug("Nothing to sync")
		return Outcome{Status: OutcomeNoop}
	}

	batch := EncodeBatch(notes)
	noteIDs := batch.NoteIDs()

	if err := c.reconciler.Reconcile(ctx, batch); err != nil {
		outcome := Outcome{Status: OutcomeNetworkFailure, NoteIDs: noteIDs, Err: err}
		eventType := models.SyncEventTypeSyncNetworkFailure
		if errors.Is(err, ErrServerRejected) {
			outcome.Status = OutcomeServerRejected
			eventType = models.SyncEventTypeSyncServerRejected
			log.WithError(err).WithFields(logTags).WithField("notes", len(noteIDs)).Error("Server rejected batch")
		} else {
			log.WithError(err).WithFields(logTags).WithField("notes", len(noteIDs)).Warn("Server unreachable")
		}
		c.recordEvent(ctx, eventType, models.SyncEventBatchRelated{NoteIDs: noteIDs, Detail: err.Error()})
		return outcome
	}

	changed, err := c.notes.MarkSynced(ctx, noteIDs, nil)
	if err != nil {
		// The server holds the batch; resubmitting it later overwrites the same records
		log.WithError(err).WithFields(logTags).Error("Accepted batch could not be marked synced")
		return Outcome{Status: OutcomeStorageFailure, NoteIDs: noteIDs, Err: err}
	}

	c.recordEvent(ctx, models.SyncEventTypeSyncSucceeded, models.SyncEventBatchRelated{NoteIDs: noteIDs})

	log.WithFields(logTags).
		WithField("notes", len(noteIDs)).
		WithField("changed", changed).
		Info("Batch synced")

	return Outcome{Status: OutcomeSynced, NoteIDs: noteIDs}
}

// recordEvent audit a sync result; audit failures never change the outcome
func (c *coordinatorImpl) recordEvent(
	ctx context.Context, eventType models.SyncEventTypeENUMType, metadata interface{},
) {
	if err := c.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			_, err := dbClient.RecordSyncEvent(dbCtx, eventType, metadata)
			return err
		},
	); err != nil {
		log.WithError(err).
			WithFields(c.GetLogTagsForContext(ctx)).
			WithField("event", eventType).
			Warn("Failed to record sync event")
	}
}
