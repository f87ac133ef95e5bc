package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alwitt/notesync"
	"github.com/alwitt/notesync/cache"
	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/syncer"
	"github.com/alwitt/notesync/trigger"
	"github.com/apex/log"
	"github.com/spf13/cobra"
)

// openClient start an offline notes client from the configuration
func openClient(ctx context.Context, background bool) (*notesync.OfflineNotesClient, error) {
	params := notesync.ClientParams{
		DBDialector:    db.GetSqliteDialector(cfg.Database.File),
		DBLogLevel:     cfg.Database.GORMLogLevel(),
		ServerURL:      cfg.Client.ServerURL,
		RequestTimeout: cfg.Client.RequestTimeout,
		Cache: cache.ManagerParams{
			Version:            cfg.Client.CacheVersion,
			NamePrefix:         cfg.Client.CachePrefix,
			ShellManifest:      cfg.Client.ShellManifest,
			InstallConcurrency: 4,
		},
		InstallShell: background,
		Coordinator:  syncer.CoordinatorParams{LeaseTTL: cfg.Client.SyncLeaseTTL},
		Scheduler: trigger.SchedulerParams{
			DeferredRetryAttempts: cfg.Client.DeferredRetryAttempts,
			DeferredRetryDelay:    cfg.Client.DeferredRetryDelay,
		},
	}
	// One-shot commands do not poll
	if background {
		params.ProbeInterval = cfg.Client.ProbeInterval
		params.Scheduler.PeriodicInterval = cfg.Client.PeriodicSyncInterval
	}
	return notesync.NewOfflineNotesClient(ctx, params)
}

func closeClient(client *notesync.OfflineNotesClient) {
	if err := client.Close(); err != nil {
		log.WithError(err).Error("Failed to close client")
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep syncing in the background until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := openClient(ctx, true)
		if err != nil {
			return err
		}
		defer closeClient(client)

		client.OnBatchSynced(func(_ context.Context, noteIDs []string) {
			log.WithField("notes", len(noteIDs)).Info("Batch synced")
		})

		<-ctx.Done()
		return nil
	},
}

var imageFile string

var addCmd = &cobra.Command{
	Use:   "add TEXT",
	Short: "Save a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var image []byte
		if imageFile != "" {
			content, err := os.ReadFile(imageFile)
			if err != nil {
				return fmt.Errorf("failed to read image [%w]", err)
			}
			image = content
		}

		ctx := cmd.Context()
		client, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer closeClient(client)

		note, message, err := client.SaveNote(ctx, args[0], image)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n%s\n", note.ID, message)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local notes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer closeClient(client)

		notes, err := client.ListNotes(ctx)
		if err != nil {
			return err
		}
		for _, note := range notes {
			status := "pending"
			if note.Synced {
				status = "synced"
			}
			image := ""
			if note.HasImage() {
				image = " [image]"
			}
			fmt.Printf(
				"%s  %-7s  %s  %s%s\n",
				note.ID,
				status,
				time.UnixMilli(note.CreatedAt).Format(time.RFC3339),
				note.Text,
				image,
			)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync unsynced notes now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer closeClient(client)

		outcome, message := client.SyncNow(ctx)
		fmt.Println(message)
		if outcome.Err != nil {
			return outcome.Err
		}
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&imageFile, "image", "", "image file to attach")
}
