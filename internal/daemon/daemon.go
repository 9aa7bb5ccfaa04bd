// Package daemon hosts the sync scheduler for replog.
//
// The engine itself never self-schedules; it only exposes callable entry
// points. This daemon is the composition root that decides when to invoke
// them:
//  1. An initial full pass on startup.
//  2. A periodic full pass on a ticker interval.
//  3. An early debounced pass when the local database sees write activity
//     (a new set logged while the daemon runs), detected by watching the
//     database directory for WAL changes.
//
// Retry after a fatal pass is simply the next trigger; the daemon keeps no
// retry state of its own.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	syncengine "github.com/replog/replog/internal/sync"
)

// Runner is the slice of the sync engine the daemon drives.
type Runner interface {
	SyncAll(ctx context.Context, userID string) ([]syncengine.Summary, error)
}

// Config holds daemon configuration.
type Config struct {
	// Interval between periodic sync passes.
	Interval time.Duration

	// DebounceInterval is how long to wait after local write activity
	// before triggering an early pass. This batches rapid updates.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         5 * time.Minute,
		DebounceInterval: 2 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates periodic and write-triggered sync passes.
type Daemon struct {
	engine Runner
	userID string
	dbPath string
	config *Config

	watcher *fsnotify.Watcher

	mu          sync.Mutex
	lastWrite   time.Time
	pending     bool
	suppressTo  time.Time
	syncRunning bool

	wg sync.WaitGroup
}

// New creates a daemon with default configuration.
func New(engine Runner, userID, dbPath string) (*Daemon, error) {
	return NewWithConfig(engine, userID, dbPath, DefaultConfig())
}

// NewWithConfig creates a daemon with explicit configuration.
func NewWithConfig(engine Runner, userID, dbPath string, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if userID == "" {
		return nil, fmt.Errorf("userID cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	var watcher *fsnotify.Watcher
	if dbPath != "" {
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
	}

	return &Daemon{
		engine:  engine,
		userID:  userID,
		dbPath:  dbPath,
		config:  config,
		watcher: watcher,
	}, nil
}

// Start begins the daemon's operation: an initial pass, then periodic and
// write-triggered passes. Blocks until ctx is cancelled. The initial pass
// is allowed to fail (the device may be offline at startup); later
// triggers retry naturally.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting sync daemon")

	d.runSync(ctx, "startup")

	if d.watcher != nil {
		// Watch the directory, not the file: SQLite writes land in the
		// -wal sidecar and rename/recreate during checkpoints.
		dir := filepath.Dir(d.dbPath)
		if err := d.watcher.Add(dir); err != nil {
			if cerr := d.watcher.Close(); cerr != nil {
				d.config.Logger.Printf("Error closing watcher: %v", cerr)
			}
			return fmt.Errorf("failed to watch database directory: %w", err)
		}
		d.config.Logger.Printf("Watching %s for local writes", dir)

		d.wg.Add(1)
		go d.watchWrites(ctx)
	}

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	debounce := time.NewTicker(d.config.DebounceInterval)
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.stop()

		case <-ticker.C:
			d.runSync(ctx, "interval")

		case <-debounce.C:
			if d.takePendingWrite() {
				d.runSync(ctx, "local write")
			}
		}
	}
}

// stop shuts the daemon down after the context is cancelled.
func (d *Daemon) stop() error {
	d.config.Logger.Println("Stopping sync daemon")

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()
	d.config.Logger.Println("Sync daemon stopped")
	return nil
}

// watchWrites monitors filesystem events on the database directory and
// queues a debounced sync trigger.
func (d *Daemon) watchWrites(ctx context.Context) {
	defer d.wg.Done()

	base := filepath.Base(d.dbPath)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// Only the database file and its WAL/SHM sidecars matter.
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}

			d.queueWrite()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueWrite records local write activity unless it was produced by a
// sync pass itself (the pass writes synced flags and downloaded rows into
// the same database, which must not re-trigger the daemon).
func (d *Daemon) queueWrite() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if d.syncRunning || now.Before(d.suppressTo) {
		return
	}

	d.lastWrite = now
	d.pending = true
}

// takePendingWrite reports whether a debounced write trigger is due and
// consumes it.
func (d *Daemon) takePendingWrite() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.pending {
		return false
	}
	if time.Since(d.lastWrite) < d.config.DebounceInterval {
		return false
	}

	d.pending = false
	return true
}

// runSync executes one full pass and logs the outcome. Failures are not
// fatal to the daemon; the next trigger retries.
func (d *Daemon) runSync(ctx context.Context, reason string) {
	d.mu.Lock()
	d.syncRunning = true
	d.mu.Unlock()

	start := time.Now()
	summaries, err := d.engine.SyncAll(ctx, d.userID)

	d.mu.Lock()
	d.syncRunning = false
	// Ignore the burst of watcher events caused by the pass's own writes.
	d.suppressTo = time.Now().Add(d.config.DebounceInterval)
	d.mu.Unlock()

	if err != nil {
		d.config.Logger.Printf("Sync (%s) failed after %v: %v",
			reason, time.Since(start).Round(time.Millisecond), err)
		return
	}

	var uploaded, downloaded int
	for _, s := range summaries {
		uploaded += s.Upload.Succeeded
		downloaded += s.Download.Applied
	}
	d.config.Logger.Printf("Sync (%s) complete in %v: uploaded=%d downloaded=%d",
		reason, time.Since(start).Round(time.Millisecond), uploaded, downloaded)
}
