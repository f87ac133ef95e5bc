package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/alwitt/notesync/api"
	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/push"
	"github.com/apex/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notes server",
	Long: `Serve the application shell, accept synced note batches and register push
subscriptions. Push notifications are sent only when both VAPID keys are configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		persistence, err := db.NewConnection(
			db.GetSqliteDialector(cfg.Database.File), cfg.Database.GORMLogLevel(),
		)
		if err != nil {
			return fmt.Errorf("failed to open database [%w]", err)
		}
		defer func() {
			if err := persistence.Close(); err != nil {
				log.WithError(err).Error("Failed to close database")
			}
		}()
		if err := persistence.RunSQLInTransaction(ctx, db.DefineTables); err != nil {
			return fmt.Errorf("failed to prepare tables [%w]", err)
		}

		subscriptions := push.NewSubscriptionSet()
		var fanOut push.FanOut
		if cfg.Push.Enabled() {
			sender, err := push.NewWebPushSender(push.WebPushParams{
				VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
				VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
				Subscriber:      cfg.Push.Subject,
				TTL:             cfg.Push.TTL,
			})
			if err != nil {
				return err
			}
			fanOut, err = push.NewFanOut(
				push.FanOutParams{Concurrency: cfg.Push.Concurrency}, subscriptions, sender,
			)
			if err != nil {
				return err
			}
		} else {
			log.Warn("No VAPID keys. Push notifications are disabled.")
		}

		handler := api.NewNotesHandler(
			api.HandlerParams{
				VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
				PushTitle:       cfg.Push.Title,
				MaxBodyBytes:    cfg.Server.MaxBodyBytes,
				RequestIDHeader: cfg.Server.RequestIDHeader,
			},
			persistence,
			subscriptions,
			fanOut,
		)
		server := api.NewServer(api.ServerParams{
			ListenAddr:      cfg.Server.Addr,
			StaticDir:       cfg.Server.StaticDir,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, handler)

		if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, publicKey, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		fmt.Printf("NOTESYNC_PUSH_VAPID_PUBLIC_KEY=%s\n", publicKey)
		fmt.Printf("NOTESYNC_PUSH_VAPID_PRIVATE_KEY=%s\n", privateKey)
		return nil
	},
}
