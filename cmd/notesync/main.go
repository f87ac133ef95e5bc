// Package main - notesync client and server CLI
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alwitt/notesync/config"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/spf13/cobra"
)

var (
	envFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "notesync",
	Short: "Offline-first notes with background sync",
	Long: `Capture notes locally and sync them to the notes server once it can be reached.

Configuration is read from NOTESYNC_* environment variables, and from a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		parsed, err := config.Parse(envFile)
		if err != nil {
			return err
		}
		cfg = parsed
		setupLogging(cfg.App)
		return nil
	},
}

func setupLogging(app config.AppConfig) {
	if app.LogJSON {
		log.SetHandler(apexJSON.New(os.Stderr))
	} else {
		log.SetHandler(cli.New(os.Stderr))
	}
	level, err := log.ParseLevel(app.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file to load")
	rootCmd.AddCommand(serveCmd, runCmd, addCmd, listCmd, syncCmd, vapidKeysCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
