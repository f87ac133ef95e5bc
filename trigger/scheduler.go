package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/models"
	"github.com/alwitt/notesync/syncer"
	"github.com/apex/log"
	"github.com/avast/retry-go/v4"
	"github.com/go-playground/validator/v10"
)

// ErrOffline the server is not reachable
var ErrOffline = errors.New("offline")

// DeferredSyncTag tag of the deferred task which syncs unsynced notes
const DeferredSyncTag = "sync-notes"

// DeferredHandler executes one deferred task
type DeferredHandler func(ctx context.Context) error

// SchedulerParams sync scheduler parameters
type SchedulerParams struct {
	// PeriodicInterval interval between periodic syncs while online. Zero disables them.
	PeriodicInterval time.Duration `validate:"gte=0"`
	// DeferredRetryAttempts max executions of a deferred task per connectivity restoration
	DeferredRetryAttempts uint `validate:"gte=1"`
	// DeferredRetryDelay delay between executions of a deferred task
	DeferredRetryDelay time.Duration `validate:"gte=0"`
}

// Scheduler decides when the sync coordinator runs
type Scheduler interface {
	/*
		Start begin the periodic timer, and run pending deferred tasks if online

			@param ctx context.Context - execution context
	*/
	Start(ctx context.Context) error

	// Stop stop the periodic timer and wait for running tasks
	Stop()

	/*
		ConnectivityChanged report a connectivity change

		Restoring connectivity runs the pending deferred tasks.

			@param ctx context.Context - execution context
			@param online bool - whether the server is reachable
	*/
	ConnectivityChanged(ctx context.Context, online bool)

	/*
		VisibilityChanged report the application became visible or hidden

			@param ctx context.Context - execution context
			@param visible bool - whether the application is visible
	*/
	VisibilityChanged(ctx context.Context, visible bool)

	/*
		SyncNow run a sync attempt at once, on explicit user request

			@param ctx context.Context - execution context
			@returns the outcome, or ErrOffline without attempting anything
	*/
	SyncNow(ctx context.Context) (syncer.Outcome, error)

	/*
		RegisterDeferred register a one-shot task to run once connectivity is restored

		The registration is durable. When already online the task runs in the background.

			@param ctx context.Context - execution context
			@param tag string - task tag, which must have a handler
	*/
	RegisterDeferred(ctx context.Context, tag string) error

	/*
		HandleDeferred install the handler of a deferred task tag

			@param tag string - task tag
			@param handler DeferredHandler - the handler
	*/
	HandleDeferred(tag string, handler DeferredHandler)

	// Online whether the server was last known reachable
	Online() bool

	// WaitIdle wait for background deferred task runs
	WaitIdle()
}

// schedulerImpl implements Scheduler
type schedulerImpl struct {
	goutils.Component

	params      SchedulerParams
	persistence db.Client
	coordinator syncer.Coordinator

	online  atomic.Bool
	visible atomic.Bool

	handlerLock sync.RWMutex
	handlers    map[string]DeferredHandler

	// runLock guards against overlapping deferred task runs
	runLock sync.Mutex
	// rerun set when a run was requested, cleared by the run which serves it
	rerun   atomic.Bool
	running sync.WaitGroup

	cancel context.CancelFunc
	timer  sync.WaitGroup
}

/*
NewScheduler define a new sync scheduler

The DeferredSyncTag handler is installed, running the coordinator.

	@param params SchedulerParams - scheduler parameters
	@param persistence db.Client - persistence layer client
	@param coordinator syncer.Coordinator - sync coordinator
	@param online bool - initial connectivity
	@returns the scheduler
*/
func NewScheduler(
	params SchedulerParams,
	persistence db.Client,
	coordinator syncer.Coordinator,
	online bool,
) (Scheduler, error) {
	if err := validator.New().Struct(&params); err != nil {
		return nil, fmt.Errorf("scheduler parameters not valid [%w]", err)
	}

	logTags := log.Fields{"module": "trigger", "component": "scheduler"}

	instance := &schedulerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		params:      params,
		persistence: persistence,
		coordinator: coordinator,
		handlers:    map[string]DeferredHandler{},
	}
	instance.online.Store(online)
	instance.visible.Store(true)
	instance.HandleDeferred(DeferredSyncTag, instance.deferredSync)

	return instance, nil
}

func (s *schedulerImpl) Online() bool {
	return s.online.Load()
}

func (s *schedulerImpl) HandleDeferred(tag string, handler DeferredHandler) {
	s.handlerLock.Lock()
	defer s.handlerLock.Unlock()
	s.handlers[tag] = handler
}

func (s *schedulerImpl) Start(ctx context.Context) error {
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.params.PeriodicInterval > 0 {
		s.timer.Add(1)
		go s.periodic(runCtx)
	}

	if s.Online() {
		s.runDeferredInBackground(runCtx)
	}
	return nil
}

func (s *schedulerImpl) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.timer.Wait()
	s.running.Wait()
}

func (s *schedulerImpl) WaitIdle() {
	s.running.Wait()
}

func (s *schedulerImpl) periodic(ctx context.Context) {
	defer s.timer.Done()
	logTags := s.GetLogTagsForContext(ctx)
	ticker := time.NewTicker(s.params.PeriodicInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Online() || !s.visible.Load() {
				continue
			}
			outcome := s.coordinator.Sync(ctx)
			log.WithFields(logTags).WithField("status", outcome.Status).Debug("Periodic sync")
		}
	}
}

func (s *schedulerImpl) ConnectivityChanged(ctx context.Context, online bool) {
	previous := s.online.Swap(online)
	if online && !previous {
		log.WithFields(s.GetLogTagsForContext(ctx)).Info("Connectivity restored")
		s.runDeferredInBackground(ctx)
	} else if !online && previous {
		log.WithFields(s.GetLogTagsForContext(ctx)).Info("Connectivity lost")
	}
}

func (s *schedulerImpl) VisibilityChanged(ctx context.Context, visible bool) {
	previous := s.visible.Swap(visible)
	if visible && !previous && s.Online() {
		s.runDeferredInBackground(ctx)
	}
}

func (s *schedulerImpl) SyncNow(ctx context.Context) (syncer.Outcome, error) {
	if !s.Online() {
		return syncer.Outcome{}, ErrOffline
	}
	return s.coordinator.Sync(ctx), nil
}

func (s *schedulerImpl) RegisterDeferred(ctx context.Context, tag string) error {
	s.handlerLock.RLock()
	_, ok := s.handlers[tag]
	s.handlerLock.RUnlock()
	if !ok {
		return fmt.Errorf("no handler for deferred task '%s'", tag)
	}

	if err := s.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			_, _, err := dbClient.RegisterDeferredTask(ctx, tag)
			return err
		},
	); err != nil {
		log.WithError(err).WithFields(s.GetLogTagsForContext(ctx)).WithField("tag", tag).
			Error("Failed to register deferred task")
		return err
	}

	if s.Online() {
		s.runDeferredInBackground(ctx)
	}
	return nil
}

// deferredSync the DeferredSyncTag handler
func (s *schedulerImpl) deferredSync(ctx context.Context) error {
	outcome := s.coordinator.Sync(ctx)
	switch {
	case outcome.Status == syncer.OutcomeStorageFailure:
		return retry.Unrecoverable(fmt.Errorf("local storage unavailable [%w]", outcome.Err))
	case outcome.Status == syncer.OutcomeCoalesced:
		return fmt.Errorf("sync already in progress")
	case outcome.Err != nil:
		return outcome.Err
	}
	return nil
}

func (s *schedulerImpl) runDeferredInBackground(ctx context.Context) {
	// The caller's request may end before the tasks do
	runCtx := context.WithoutCancel(ctx)
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.runDeferred(runCtx)
	}()
}

// runDeferred execute every pending deferred task once, with retries
//
// A request arriving while another run holds runLock is served by that run before it exits.
func (s *schedulerImpl) runDeferred(ctx context.Context) {
	s.rerun.Store(true)
	for s.rerun.Load() {
		if !s.runLock.TryLock() {
			log.WithFields(s.GetLogTagsForContext(ctx)).Debug("Deferred tasks already running")
			return
		}
		s.rerun.Store(false)
		s.runDeferredPass(ctx)
		s.runLock.Unlock()
	}
}

// runDeferredPass one pass over the pending deferred tasks. Caller holds runLock.
func (s *schedulerImpl) runDeferredPass(ctx context.Context) {
	logTags := s.GetLogTagsForContext(ctx)

	var tasks []models.DeferredTask
	if err := s.persistence.UseDatabase(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			tasks, err = dbClient.ListDeferredTasks(ctx)
			return err
		},
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to list deferred tasks")
		return
	}

	for _, task := range tasks {
		if !s.Online() {
			log.WithFields(logTags).Debug("Offline, remaining deferred tasks wait")
			return
		}
		s.runDeferredTask(ctx, task)
	}
}

func (s *schedulerImpl) runDeferredTask(ctx context.Context, task models.DeferredTask) {
	logTags := s.GetLogTagsForContext(ctx)
	tag := task.Tag

	s.handlerLock.RLock()
	handler, ok := s.handlers[tag]
	s.handlerLock.RUnlock()
	if !ok {
		log.WithFields(logTags).WithField("tag", tag).Warn("No handler for deferred task")
		return
	}

	recordFailure := func(err error) {
		if dbErr := s.persistence.UseDatabase(
			ctx, func(ctx context.Context, dbClient db.Database) error {
				return dbClient.RecordDeferredTaskFailure(ctx, tag, err.Error())
			},
		); dbErr != nil {
			log.WithError(dbErr).WithFields(logTags).WithField("tag", tag).
				Error("Failed to record deferred task failure")
		}
	}

	err := retry.Do(
		func() error {
			if !s.Online() {
				return retry.Unrecoverable(ErrOffline)
			}
			return handler(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(s.params.DeferredRetryAttempts),
		retry.Delay(s.params.DeferredRetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			log.WithError(err).WithFields(logTags).
				WithField("tag", tag).
				WithField("attempt", attempt).
				Debug("Deferred task attempt failed")
		}),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).WithField("tag", tag).
			Warn("Deferred task stays pending")
		if !errors.Is(err, ErrOffline) {
			recordFailure(err)
		}
		return
	}

	var removed bool
	if err := s.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			removed, err = dbClient.CompleteDeferredTask(ctx, tag, task.Generation)
			return err
		},
	); err != nil {
		log.WithError(err).WithFields(logTags).WithField("tag", tag).
			Error("Failed to complete deferred task")
		return
	}
	if !removed {
		log.WithFields(logTags).WithField("tag", tag).
			Info("Deferred task registered again during its run, stays pending")
		return
	}
	log.WithFields(logTags).WithField("tag", tag).Info("Deferred task completed")
}
