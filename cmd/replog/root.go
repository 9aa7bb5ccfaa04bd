package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/config"
	"github.com/replog/replog/internal/remote"
	"github.com/replog/replog/internal/store"
	syncengine "github.com/replog/replog/internal/sync"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "replog",
	Short: "Offline-first workout log",
	Long: `replog records workout sessions and sets into a local database and
keeps them synchronized with your hosted account.

Everything works offline; changes are uploaded the next time a sync
runs and new data from other devices is pulled down.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.replog/config.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "record", Title: "Recording workouts:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
	)

	rootCmd.AddCommand(logCmd, listCmd, syncCmd, statusCmd, daemonCmd)
}

// loadConfig resolves configuration for a command invocation.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStore opens the local database and ensures the schema exists.
func openStore(ctx context.Context, cfg *config.Config) *store.DB {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}

	return db
}

// newEngine wires a sync engine from config. Sync settings must be valid.
func newEngine(cfg *config.Config, db *store.DB, logger *log.Logger) *syncengine.Engine {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client := remote.New(cfg.Remote.URL, cfg.Remote.Token, nil)

	return syncengine.NewWithOptions(db, client, syncengine.Options{
		UploadConcurrency: cfg.Sync.Concurrency,
		Logger:            logger,
	})
}
