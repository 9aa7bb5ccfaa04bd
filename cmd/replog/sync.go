package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/record"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one full sync pass",
	Long: `Upload pending local changes and download new records from the backend.

Each entity type runs upload before download. Records the backend rejects
stay pending and are retried on the next pass; only losing connectivity
entirely aborts the pass.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := cmd.Context()

		db := openStore(ctx, cfg)
		defer db.Close()

		engine := newEngine(cfg, db, nil)

		start := time.Now()
		summaries, err := engine.SyncAll(ctx, cfg.UserID)

		for _, s := range summaries {
			fmt.Printf("%-18s %-12s uploaded=%d/%d downloaded=%d\n",
				s.EntityType, s.State, s.Upload.Succeeded, s.Upload.Attempted, s.Download.Applied)
			for _, id := range s.Upload.FailedIDs {
				fmt.Printf("  failed: %s\n", id)
			}
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Sync aborted: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local store and sync status",
	Long: `Display the local database location, per-type record counts, pending
uploads, and the download watermark for each entity type.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := cmd.Context()

		info, err := os.Stat(cfg.DBPath)
		if os.IsNotExist(err) {
			fmt.Println("Local database not initialized; log a workout to create it")
			return
		}

		db := openStore(ctx, cfg)
		defer db.Close()

		fmt.Printf("Database: %s (%d KB)\n\n", cfg.DBPath, info.Size()/1024)

		for _, entityType := range record.TrackedTypes() {
			total, err := db.Count(ctx, entityType)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error counting %s: %v\n", entityType, err)
				os.Exit(1)
			}
			dirty, err := db.DirtyCount(ctx, entityType)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error counting dirty %s: %v\n", entityType, err)
				os.Exit(1)
			}
			watermark, err := db.Watermark(ctx, entityType)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading watermark for %s: %v\n", entityType, err)
				os.Exit(1)
			}

			wm := "never synced"
			if !watermark.IsZero() {
				wm = watermark.Local().Format(time.RFC3339)
			}
			fmt.Printf("%-18s records=%-5d pending=%-5d watermark=%s\n",
				entityType, total, dirty, wm)
		}
	},
}
