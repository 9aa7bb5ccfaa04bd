package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/replog/replog/internal/record"
	"github.com/replog/replog/internal/remote"
)

// defaultUploadConcurrency bounds how many record uploads are in flight at
// once. Each record is an independent unit of work, so fan-out is safe as
// long as every mark-synced transition stays per-record.
const defaultUploadConcurrency = 4

// Options configures an Engine.
type Options struct {
	// EntityTypes lists the types SyncAll processes, in order.
	// Defaults to record.TrackedTypes().
	EntityTypes []string

	// UploadConcurrency bounds parallel record uploads within one phase.
	// Defaults to 4. A value of 1 gives a sequential loop.
	UploadConcurrency int

	// Logger for engine activity. Defaults to stderr with a [sync] prefix.
	Logger *log.Logger
}

// Engine drives idempotent-on-retry synchronization passes. It is
// constructed with its store and client dependencies injected and holds no
// global state; lifecycle belongs to whoever composes the scheduler.
type Engine struct {
	store       LocalStore
	remote      RemoteClient
	types       []string
	concurrency int
	logger      *log.Logger
}

// New creates an Engine with default options.
func New(store LocalStore, client RemoteClient) *Engine {
	return NewWithOptions(store, client, Options{})
}

// NewWithOptions creates an Engine with explicit options.
func NewWithOptions(store LocalStore, client RemoteClient, opts Options) *Engine {
	if opts.EntityTypes == nil {
		opts.EntityTypes = record.TrackedTypes()
	}
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = defaultUploadConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		store:       store,
		remote:      client,
		types:       opts.EntityTypes,
		concurrency: opts.UploadConcurrency,
		logger:      opts.Logger,
	}
}

// UploadPending pushes the Dirty Set for an entity type to the backend.
//
// Records are uploaded independently with bounded fan-out; no ordering
// across records is guaranteed or required. After the backend accepts a
// record, that record and only that record is marked synced in its own
// local transaction, so a crash between remote accept and local mark can
// never double-mark unrelated records.
//
// A rejection leaves its record dirty, shows up in the report, and the
// batch continues. The returned error is non-nil only for a transport or
// local store failure; in that case the report still reflects every record
// whose outcome was decided before the failure, because in-flight records
// are allowed to finish. Records not yet dispatched when the failure was
// observed are not sent; they stay dirty and are reported as failed.
func (e *Engine) UploadPending(ctx context.Context, entityType string) (UploadReport, error) {
	dirty, err := e.store.DirtyRecords(ctx, entityType)
	if err != nil {
		return UploadReport{}, &FatalError{Phase: PhaseUpload, EntityType: entityType, Err: err}
	}

	report := UploadReport{Attempted: len(dirty)}
	if len(dirty) == 0 {
		return report, nil
	}

	// Outcomes are written per-index so workers never share a mutable
	// accumulator.
	succeeded := make([]bool, len(dirty))

	// Set on the first transport failure. In-flight uploads finish, but no
	// further records are dispatched; the untouched remainder stays dirty.
	var aborted atomic.Bool

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	for i, rec := range dirty {
		if aborted.Load() {
			break
		}
		g.Go(func() error {
			// Re-check after acquiring a worker slot: the failure may have
			// landed while this dispatch was blocked on the limit.
			if aborted.Load() {
				return nil
			}
			if err := e.remote.Insert(ctx, rec); err != nil {
				var rejected *remote.RejectedError
				if errors.As(err, &rejected) {
					e.logger.Printf("WARNING: record %s/%s rejected, will retry next pass: %v",
						rec.Type, rec.ID, rejected)
					return nil
				}
				aborted.Store(true)
				return fmt.Errorf("uploading record %s/%s: %w", rec.Type, rec.ID, err)
			}

			marked, err := e.store.MarkSynced(ctx, rec.Type, rec.ID, rec.UpdatedAt)
			if err != nil {
				return fmt.Errorf("marking record %s/%s synced: %w", rec.Type, rec.ID, err)
			}
			if !marked {
				// The user edited the record while its upload was in
				// flight. The newer state stays dirty; the snapshot the
				// backend accepted is still a valid upload.
				e.logger.Printf("record %s/%s changed during upload, left dirty", rec.Type, rec.ID)
			}

			succeeded[i] = true
			return nil
		})
	}

	fatal := g.Wait()

	for i, ok := range succeeded {
		if ok {
			report.Succeeded++
		} else {
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, dirty[i].ID)
		}
	}

	e.logger.Printf("upload %s: attempted=%d succeeded=%d failed=%d",
		entityType, report.Attempted, report.Succeeded, report.Failed)

	if fatal != nil {
		return report, &FatalError{Phase: PhaseUpload, EntityType: entityType, Err: fatal}
	}
	return report, nil
}

// DownloadUpdates pulls records of an entity type updated on the backend
// since the local watermark and materializes them locally.
//
// Re-running against unchanged remote state is a no-op: the watermark has
// already advanced past those rows. A crash mid-loop re-downloads the same
// overlapping rows next pass, which is safe because the per-record
// overwrite is idempotent.
func (e *Engine) DownloadUpdates(ctx context.Context, entityType, userID string) (DownloadReport, error) {
	watermark, err := e.store.Watermark(ctx, entityType)
	if err != nil {
		return DownloadReport{}, &FatalError{Phase: PhaseDownload, EntityType: entityType, Err: err}
	}

	incoming, err := e.remote.Select(ctx, entityType, userID, watermark)
	if err != nil {
		return DownloadReport{}, &FatalError{Phase: PhaseDownload, EntityType: entityType, Err: err}
	}

	var report DownloadReport
	for _, rec := range incoming {
		if rec.Type == "" {
			rec.Type = entityType
		}
		if err := rec.Validate(); err != nil {
			e.logger.Printf("WARNING: skipping malformed remote record %s/%s: %v",
				entityType, rec.ID, err)
			continue
		}

		if err := e.store.ApplyRemote(ctx, rec); err != nil {
			return report, &FatalError{Phase: PhaseDownload, EntityType: entityType, Err: err}
		}
		report.Applied++
	}

	e.logger.Printf("download %s: watermark=%s fetched=%d applied=%d",
		entityType, watermark.UTC().Format(time.RFC3339Nano),
		len(incoming), report.Applied)

	return report, nil
}

// Sync runs one complete pass for a single entity type: upload strictly
// before download. Per-record failures inside a report never stop the
// pass; only a fatal error does, and it is surfaced to the caller for
// rescheduling.
func (e *Engine) Sync(ctx context.Context, entityType, userID string) (Summary, error) {
	summary := Summary{EntityType: entityType, State: StateIdle}

	summary.State = StateUploading
	upload, err := e.UploadPending(ctx, entityType)
	summary.Upload = upload
	if err != nil {
		summary.State = StateFailed
		return summary, err
	}

	summary.State = StateDownloading
	download, err := e.DownloadUpdates(ctx, entityType, userID)
	summary.Download = download
	if err != nil {
		summary.State = StateFailed
		return summary, err
	}

	summary.State = StateComplete
	return summary, nil
}

// SyncAll runs Sync for every tracked entity type in order, stopping at
// the first fatal error. Summaries for completed types, plus the partial
// summary of the failing type, are always returned.
func (e *Engine) SyncAll(ctx context.Context, userID string) ([]Summary, error) {
	summaries := make([]Summary, 0, len(e.types))

	for _, entityType := range e.types {
		summary, err := e.Sync(ctx, entityType, userID)
		summaries = append(summaries, summary)
		if err != nil {
			return summaries, err
		}
	}

	return summaries, nil
}
