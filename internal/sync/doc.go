// Package sync implements the offline-first synchronization engine that
// reconciles the device's embedded record store with the backend record API.
//
// # Model
//
// The local store is the source of truth for not-yet-uploaded changes: any
// record with synced=false is a member of the Dirty Set and will be pushed
// on the next upload pass. The backend is the source of truth for everything
// the device has not yet observed: the download pass pulls every record
// updated strictly after the local watermark (the newest updated_at among
// locally synced records) and materializes it with last-writer-wins
// overwrite semantics.
//
// One sync pass per entity type runs upload strictly before download. The
// device's own pending change is pushed first; if the backend already holds
// a newer version of the same record, the download overwrite wins. This is
// a deliberate full-record last-writer-wins policy, not a field-level merge.
//
// # Failure handling
//
//   - A per-record rejection (validation, conflict) leaves that record dirty,
//     is reported in the batch summary, and never stops the other records in
//     the batch.
//   - A transport failure is fatal to the current pass. Per-record state
//     transitions that already committed stay committed; the caller simply
//     reschedules the pass. Records whose upload never completed remain
//     dirty, so nothing is lost.
//   - A local store failure is fatal and surfaced immediately.
//
// Upload is at-least-once per record until success is observed; the backend
// upsert keyed by the client-assigned record ID makes it at-most-once
// effective. Download is idempotent: re-running against unchanged remote
// state is a no-op because the watermark has advanced past those rows.
//
// # Scheduling
//
// The engine exposes callable entry points only and never self-schedules.
// It has no internal retry state: retrying is done by invoking the pass
// again later. There is no cancellation primitive mid-pass; a pass runs to
// completion or fails fatally, and any record that already reached the
// backend is allowed to finish its local mark-synced transition.
package sync
