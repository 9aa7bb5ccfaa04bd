package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/replog/replog/internal/record"
)

// LocalStore is the contract the engine consumes from the device-local
// record store. Every method is a narrow operation that commits or rolls
// back on its own; the engine never holds a store transaction open across
// a network call.
type LocalStore interface {
	// DirtyRecords returns the Dirty Set for an entity type: records
	// with local changes not yet confirmed by the backend.
	DirtyRecords(ctx context.Context, entityType string) ([]record.Record, error)

	// Watermark returns the download cursor: the maximum updated_at among
	// locally synced records of the type, or the zero time when none
	// exist (first sync downloads the full remote set).
	Watermark(ctx context.Context, entityType string) (time.Time, error)

	// MarkSynced transitions exactly one record to synced, conditional on
	// updated_at still matching the uploaded snapshot (asOf). Returns
	// false without error when the record changed during upload.
	MarkSynced(ctx context.Context, entityType, id string, asOf time.Time) (bool, error)

	// ApplyRemote materializes a downloaded record: insert as synced if
	// absent, full-record overwrite marked synced if present. Idempotent.
	ApplyRemote(ctx context.Context, rec record.Record) error
}

// RemoteClient is the contract the engine consumes from the backend record
// API. Insert must be an upsert keyed by the record's client-assigned ID;
// Select must apply a strict greater-than comparison on updated_at.
type RemoteClient interface {
	Insert(ctx context.Context, rec record.Record) error
	Select(ctx context.Context, entityType, userID string, updatedAfter time.Time) ([]record.Record, error)
}

// State identifies where a sync pass is in its lifecycle. A pass moves
// Idle -> Uploading -> Downloading -> Complete; the only other exits are
// Uploading -> Failed and Downloading -> Failed on a fatal error.
type State string

const (
	StateIdle        State = "idle"
	StateUploading   State = "uploading"
	StateDownloading State = "downloading"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
)

// Phase names the half of a pass an error belongs to.
type Phase string

const (
	PhaseUpload   Phase = "upload"
	PhaseDownload Phase = "download"
)

// UploadReport summarizes one upload pass. Failed records stay dirty and
// are retried on a later pass; their presence here is informational and
// does not constitute an error.
type UploadReport struct {
	Attempted int
	Succeeded int
	Failed    int
	FailedIDs []string
}

// DownloadReport summarizes one download pass.
type DownloadReport struct {
	// Applied counts records materialized or overwritten locally.
	Applied int
}

// Summary describes one upload+download pass for a single entity type.
type Summary struct {
	EntityType string
	State      State
	Upload     UploadReport
	Download   DownloadReport
}

// FatalError is the only error kind the engine surfaces: total inability
// to reach the backend, or a local store failure. Per-record rejections
// are never wrapped in it.
type FatalError struct {
	Phase      Phase
	EntityType string
	Err        error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("sync %s failed for %s: %v", e.Phase, e.EntityType, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
