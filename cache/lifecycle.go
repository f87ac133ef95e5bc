package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/models"
	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

func (m *managerImpl) Generations(ctx context.Context) ([]models.CacheGeneration, error) {
	var generations []models.CacheGeneration
	if err := m.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			generations, err = dbClient.ListCacheGenerations(dbCtx, db.CacheGenerationQueryFilter{})
			return err
		},
	); err != nil {
		return nil, fmt.Errorf("failed to list cache generations [%w]", err)
	}
	return generations, nil
}

func (m *managerImpl) Load(ctx context.Context) error {
	logTags := m.GetLogTagsForContext(ctx)

	serving := servingGenerations{}
	if err := m.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			active, err := dbClient.ListCacheGenerations(dbCtx, db.CacheGenerationQueryFilter{
				TargetStates: []models.CacheGenerationStateENUMType{models.CacheGenerationStateActive},
			})
			if err != nil {
				return err
			}
			for _, generation := range active {
				switch generation.Kind {
				case models.CacheGenerationKindShell:
					serving.shell = generation.Name
					serving.version = generation.Version
				case models.CacheGenerationKindRuntime:
					serving.runtime = generation.Name
				}
			}
			return nil
		},
	); err != nil {
		return fmt.Errorf("failed to read active cache generations [%w]", err)
	}

	if serving.shell == "" || serving.runtime == "" {
		log.WithFields(logTags).Info("No active cache generations")
		m.setServing(nil)
		return nil
	}

	log.WithFields(logTags).
		WithField("serving-version", serving.version).
		Info("Loaded active cache generations")
	m.setServing(&serving)
	return nil
}

func (m *managerImpl) Install(ctx context.Context) error {
	logTags := m.GetLogTagsForContext(ctx)

	// Fetch every manifest file before touching the store
	manifest := m.params.ShellManifest
	keys := make([]string, len(manifest))
	snapshots := make([]snapshot, len(manifest))

	wg, wgCtx := errgroup.WithContext(ctx)
	wg.SetLimit(m.params.InstallConcurrency)
	for idx, filePath := range manifest {
		wg.Go(func() error {
			req, err := http.NewRequestWithContext(
				wgCtx, http.MethodGet, m.absoluteURL(filePath), nil,
			)
			if err != nil {
				return fmt.Errorf("failed to define request for '%s' [%w]", filePath, err)
			}
			resp, err := m.network.RoundTrip(req)
			if err != nil {
				return fmt.Errorf("failed to fetch '%s' [%w]", filePath, err)
			}
			snap, err := bufferResponse(resp)
			if err != nil {
				return fmt.Errorf("failed to read '%s' [%w]", filePath, err)
			}
			if !snap.isCacheable() {
				return fmt.Errorf("fetch of '%s' returned %d", filePath, snap.statusCode)
			}
			keys[idx] = RequestKey(req)
			snapshots[idx] = snap
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Shell manifest fetch failed")
		return fmt.Errorf("%w [%w]", ErrInstallIncomplete, err)
	}

	shellName := m.ShellGenerationName()
	runtimeName := m.RuntimeGenerationName()

	if err := m.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			if err := m.prepareGeneration(
				dbCtx, dbClient, shellName, models.CacheGenerationKindShell, true,
			); err != nil {
				return err
			}
			if err := m.prepareGeneration(
				dbCtx, dbClient, runtimeName, models.CacheGenerationKindRuntime, false,
			); err != nil {
				return err
			}

			for idx, snap := range snapshots {
				header, err := snap.encodedHeader()
				if err != nil {
					return err
				}
				if err := dbClient.PutCacheEntry(
					dbCtx, shellName, keys[idx], snap.statusCode, header, snap.body,
				); err != nil {
					return err
				}
			}

			_, err := dbClient.RecordSyncEvent(
				dbCtx,
				models.SyncEventTypeCacheInstalled,
				models.SyncEventCacheRelated{
					Version: m.params.Version, Generations: []string{shellName, runtimeName},
				},
			)
			return err
		},
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Shell generation write failed")
		return fmt.Errorf("%w [%w]", ErrInstallIncomplete, err)
	}

	log.WithFields(logTags).
		WithField("shell", shellName).
		WithField("files", len(manifest)).
		Info("Installed cache version")
	return nil
}

// prepareGeneration ensure a generation of this version exists and can take entries
//
// A non-active generation is recreated when reset is set. Superseded generations are
// always recreated.
func (m *managerImpl) prepareGeneration(
	ctx context.Context,
	dbClient db.Database,
	name string,
	kind models.CacheGenerationKindENUMType,
	reset bool,
) error {
	existing, err := dbClient.GetCacheGeneration(ctx, name)
	if err == nil {
		recreate := existing.State == models.CacheGenerationStateSuperseded ||
			(reset && existing.State != models.CacheGenerationStateActive)
		if !recreate {
			return nil
		}
		if err := dbClient.DeleteCacheGeneration(ctx, name); err != nil {
			return err
		}
	} else if !errors.Is(err, db.ErrNotFound) {
		return err
	}
	_, err = dbClient.DefineCacheGeneration(ctx, name, m.params.Version, kind)
	return err
}

func (m *managerImpl) Activate(ctx context.Context) error {
	logTags := m.GetLogTagsForContext(ctx)

	shellName := m.ShellGenerationName()
	runtimeName := m.RuntimeGenerationName()

	deleted := []string{}
	if err := m.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			shell, err := dbClient.GetCacheGeneration(dbCtx, shellName)
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("shell generation '%s' missing [%w]", shellName, ErrNotInstalled)
			} else if err != nil {
				return err
			}
			if shell.State == models.CacheGenerationStateSuperseded {
				return fmt.Errorf("shell generation '%s' superseded [%w]", shellName, ErrNotInstalled)
			}
			if err := m.prepareGeneration(
				dbCtx, dbClient, runtimeName, models.CacheGenerationKindRuntime, false,
			); err != nil {
				return err
			}

			others, err := dbClient.ListCacheGenerations(dbCtx, db.CacheGenerationQueryFilter{
				ExcludeNames: []string{shellName, runtimeName},
			})
			if err != nil {
				return err
			}
			for _, other := range others {
				if err := dbClient.UpdateCacheGenerationState(
					dbCtx, other.Name, models.CacheGenerationStateSuperseded,
				); err != nil {
					return err
				}
			}

			for _, name := range []string{shellName, runtimeName} {
				if err := dbClient.UpdateCacheGenerationState(
					dbCtx, name, models.CacheGenerationStateActive,
				); err != nil {
					return err
				}
			}

			if err := dbClient.SetActiveCacheVersion(dbCtx, m.params.Version); err != nil {
				return err
			}

			// Activation is the only path which removes generations
			for _, other := range others {
				if err := dbClient.DeleteCacheGeneration(dbCtx, other.Name); err != nil {
					return err
				}
				deleted = append(deleted, other.Name)
			}

			_, err = dbClient.RecordSyncEvent(
				dbCtx,
				models.SyncEventTypeCacheActivated,
				models.SyncEventCacheRelated{Version: m.params.Version, Generations: deleted},
			)
			return err
		},
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Cache activation failed")
		return fmt.Errorf("failed to activate cache version '%s' [%w]", m.params.Version, err)
	}

	// Take over immediately
	m.setServing(&servingGenerations{
		version: m.params.Version, shell: shellName, runtime: runtimeName,
	})

	log.WithFields(logTags).WithField("deleted", deleted).Info("Activated cache version")
	return nil
}

func (m *managerImpl) Upgrade(ctx context.Context) error {
	if err := m.Load(ctx); err != nil {
		return err
	}

	if m.ServingVersion() == m.params.Version {
		return nil
	}

	// The old version keeps serving if install fails
	if err := m.Install(ctx); err != nil {
		return err
	}

	return m.Activate(ctx)
}
