package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/replog/replog/internal/daemon"
)

var daemonForeground bool

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the sync scheduler in the foreground.

The daemon performs a pass on startup, on a periodic interval, and shortly
after local write activity (a workout logged while it runs). Stop it with
Ctrl-C or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db := openStore(ctx, cfg)
		defer db.Close()

		logger := log.New(os.Stderr, "[replog] ", log.LstdFlags)
		if !daemonForeground {
			logger = log.New(&lumberjack.Logger{
				Filename:   cfg.Log.File,
				MaxSize:    cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
			}, "[replog] ", log.LstdFlags)
		}

		engine := newEngine(cfg, db, logger)

		d, err := daemon.NewWithConfig(engine, cfg.UserID, cfg.DBPath, &daemon.Config{
			Interval:         cfg.Sync.Interval,
			DebounceInterval: cfg.Sync.Debounce,
			Logger:           logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync daemon running (interval %v); logs: %s\n", cfg.Sync.Interval, cfg.Log.File)

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonForeground, "foreground-logs", false,
		"log to stderr instead of the rotating log file")
}
