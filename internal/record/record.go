// Package record defines the syncable data model for replog.
//
// Every entity the app persists locally and uploads to the backend is a
// Record: a client-assigned identifier, a bag of domain fields, a synced
// flag, and creation/update timestamps. The flat field layout with
// last-write-wins timestamps keeps conflict resolution simple: whichever
// full record was written last wins, with no field-level merging.
package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entity types tracked by the sync engine.
const (
	TypeWorkoutSession = "workout_session"
	TypeWorkoutSet     = "workout_set"
)

// TrackedTypes returns all entity types the sync engine processes,
// in the order they are synchronized. Sessions come before sets so a
// downloaded set never references a session the device hasn't seen.
func TrackedTypes() []string {
	return []string{TypeWorkoutSession, TypeWorkoutSet}
}

// Record is one syncable entity instance.
//
// The ID is assigned on the client before first persistence and never
// changes, so an upload and a later download of the same logical record
// are recognized as one entity rather than a duplicate.
//
// Synced is true only when the local copy is known, at the time the flag
// was last written, to match what the backend accepted. It is maintained
// exclusively by the local store and the sync engine.
type Record struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    string         `json:"user_id"`
	Fields    map[string]any `json:"fields"`
	Synced    bool           `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// New creates a Record with a freshly assigned UUID and current UTC
// timestamps. The record starts dirty (Synced=false); it becomes synced
// only after the backend accepts it.
func New(entityType, userID string, fields map[string]any) Record {
	now := time.Now().UTC()
	return Record{
		ID:        uuid.NewString(),
		Type:      entityType,
		UserID:    userID,
		Fields:    fields,
		Synced:    false,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks that the Record carries everything required for
// persistence and sync.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Type == "" {
		return fmt.Errorf("type is required")
	}
	if !isTracked(r.Type) {
		return fmt.Errorf("unknown entity type %q", r.Type)
	}
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if r.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

func isTracked(entityType string) bool {
	for _, t := range TrackedTypes() {
		if t == entityType {
			return true
		}
	}
	return false
}

// SessionFields builds the domain fields for a workout session record.
func SessionFields(title string, startedAt time.Time, durationMin int, notes string) map[string]any {
	fields := map[string]any{
		"title":        title,
		"started_at":   startedAt.UTC().Format(time.RFC3339),
		"duration_min": durationMin,
	}
	if notes != "" {
		fields["notes"] = notes
	}
	return fields
}

// SetFields builds the domain fields for a single set within a session.
// WeightKg of 0 is valid (bodyweight movements).
func SetFields(sessionID, exercise string, setNumber, reps int, weightKg float64) map[string]any {
	return map[string]any{
		"session_id": sessionID,
		"exercise":   exercise,
		"set_number": setNumber,
		"reps":       reps,
		"weight_kg":  weightKg,
	}
}
