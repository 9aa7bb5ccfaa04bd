package record

import (
	"testing"
	"time"
)

func TestNewAssignsIdentityBeforePersistence(t *testing.T) {
	rec := New(TypeWorkoutSession, "user-1", SessionFields("Push day", time.Now(), 45, ""))

	if rec.ID == "" {
		t.Fatal("expected client-assigned ID")
	}
	if rec.Synced {
		t.Error("new records must start dirty")
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("timestamps must be set on creation")
	}
	if rec.CreatedAt.Location() != time.UTC {
		t.Error("timestamps must be UTC")
	}

	other := New(TypeWorkoutSession, "user-1", nil)
	if other.ID == rec.ID {
		t.Error("IDs must be unique per record")
	}
}

func TestValidate(t *testing.T) {
	valid := New(TypeWorkoutSet, "user-1", SetFields("sess-1", "squat", 1, 5, 100))
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid record failed validation: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing id", func(r *Record) { r.ID = "" }},
		{"missing type", func(r *Record) { r.Type = "" }},
		{"unknown type", func(r *Record) { r.Type = "heart_rate" }},
		{"missing user", func(r *Record) { r.UserID = "" }},
		{"zero created_at", func(r *Record) { r.CreatedAt = time.Time{} }},
		{"zero updated_at", func(r *Record) { r.UpdatedAt = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid
			tt.mutate(&rec)
			if err := rec.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestTrackedTypesOrder(t *testing.T) {
	types := TrackedTypes()
	if len(types) != 2 {
		t.Fatalf("expected 2 tracked types, got %d", len(types))
	}
	// Sessions sync before sets so downloaded sets always have a parent.
	if types[0] != TypeWorkoutSession || types[1] != TypeWorkoutSet {
		t.Errorf("unexpected type order: %v", types)
	}
}

func TestSessionFieldsOmitsEmptyNotes(t *testing.T) {
	fields := SessionFields("Leg day", time.Now(), 60, "")
	if _, ok := fields["notes"]; ok {
		t.Error("empty notes should be omitted")
	}

	fields = SessionFields("Leg day", time.Now(), 60, "felt strong")
	if fields["notes"] != "felt strong" {
		t.Errorf("notes = %v, want %q", fields["notes"], "felt strong")
	}
}
