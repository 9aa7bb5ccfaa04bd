package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/replog/replog/internal/record"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return db
}

// newTestRecord creates a dirty session record for user u.
func newTestRecord(t *testing.T, u string) record.Record {
	t.Helper()
	return record.New(record.TypeWorkoutSession, u,
		record.SessionFields("Test session", time.Now(), 30, ""))
}

func TestCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := newTestRecord(t, "user-1")
	if err := db.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := db.Get(ctx, record.TypeWorkoutSession, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.Synced {
		t.Error("created record must be dirty")
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", got.UserID)
	}
	if got.Fields["title"] != "Test session" {
		t.Errorf("title = %v, want Test session", got.Fields["title"])
	}
	if !got.UpdatedAt.Equal(rec.UpdatedAt) {
		t.Errorf("updated_at changed across roundtrip: %v != %v", got.UpdatedAt, rec.UpdatedAt)
	}
}

func TestGetMissingRecord(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Get(context.Background(), record.TypeWorkoutSession, "nope")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAlwaysRedirties(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := newTestRecord(t, "user-1")
	if err := db.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	marked, err := db.MarkSynced(ctx, rec.Type, rec.ID, rec.UpdatedAt)
	if err != nil || !marked {
		t.Fatalf("MarkSynced failed: marked=%v err=%v", marked, err)
	}

	if err := db.Update(ctx, rec.Type, rec.ID, map[string]any{"title": "Renamed"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := db.Get(ctx, rec.Type, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Synced {
		t.Error("Update must reset synced to false")
	}
	if !got.UpdatedAt.After(rec.UpdatedAt) {
		t.Errorf("Update must advance updated_at: %v <= %v", got.UpdatedAt, rec.UpdatedAt)
	}
	if got.Fields["title"] != "Renamed" {
		t.Errorf("title = %v, want Renamed", got.Fields["title"])
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	db := setupTestDB(t)

	err := db.Update(context.Background(), record.TypeWorkoutSession, "nope", map[string]any{"title": "x"})
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDirtyRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := newTestRecord(t, "user-1")
	b := newTestRecord(t, "user-1")
	for _, rec := range []record.Record{a, b} {
		if err := db.Create(ctx, rec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	if _, err := db.MarkSynced(ctx, a.Type, a.ID, a.UpdatedAt); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	dirty, err := db.DirtyRecords(ctx, record.TypeWorkoutSession)
	if err != nil {
		t.Fatalf("DirtyRecords failed: %v", err)
	}
	if len(dirty) != 1 || dirty[0].ID != b.ID {
		t.Errorf("dirty set = %v, want just %s", dirty, b.ID)
	}

	n, err := db.DirtyCount(ctx, record.TypeWorkoutSession)
	if err != nil {
		t.Fatalf("DirtyCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("DirtyCount = %d, want 1", n)
	}
}

func TestMarkSyncedIsConditionalOnSnapshot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := newTestRecord(t, "user-1")
	if err := db.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A stale snapshot timestamp (the record was edited while its upload
	// was in flight) must not clear the dirty flag.
	stale := rec.UpdatedAt.Add(-time.Second)
	marked, err := db.MarkSynced(ctx, rec.Type, rec.ID, stale)
	if err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	if marked {
		t.Error("MarkSynced with stale timestamp must not match")
	}

	got, err := db.Get(ctx, rec.Type, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Synced {
		t.Error("record must stay dirty after stale mark attempt")
	}

	marked, err = db.MarkSynced(ctx, rec.Type, rec.ID, rec.UpdatedAt)
	if err != nil || !marked {
		t.Fatalf("MarkSynced with matching timestamp failed: marked=%v err=%v", marked, err)
	}
}

func TestApplyRemoteInsertsAsSynced(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := newTestRecord(t, "user-1")
	if err := db.ApplyRemote(ctx, rec); err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}

	got, err := db.Get(ctx, rec.Type, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Synced {
		t.Error("downloaded record must materialize as already-synced")
	}
}

func TestApplyRemoteOverwritesExisting(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	local := newTestRecord(t, "user-1")
	if err := db.Create(ctx, local); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	incoming := local
	incoming.Fields = record.SessionFields("Server version", time.Now(), 50, "")
	incoming.UpdatedAt = local.UpdatedAt.Add(time.Minute)

	if err := db.ApplyRemote(ctx, incoming); err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}
	// Idempotent: re-applying the same row is a no-op.
	if err := db.ApplyRemote(ctx, incoming); err != nil {
		t.Fatalf("second ApplyRemote failed: %v", err)
	}

	got, err := db.Get(ctx, local.Type, local.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Fields["title"] != "Server version" {
		t.Errorf("title = %v, want the incoming full field set", got.Fields["title"])
	}
	if !got.Synced {
		t.Error("overwritten record must be marked synced")
	}
	if !got.UpdatedAt.Equal(incoming.UpdatedAt) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, incoming.UpdatedAt)
	}

	n, err := db.Count(ctx, record.TypeWorkoutSession)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 record (upserted, not duplicated), got %d", n)
	}
}

func TestWatermark(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	wm, err := db.Watermark(ctx, record.TypeWorkoutSession)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if !wm.IsZero() {
		t.Errorf("empty store watermark = %v, want zero time (epoch)", wm)
	}

	synced := newTestRecord(t, "user-1")
	if err := db.ApplyRemote(ctx, synced); err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}

	wm, err = db.Watermark(ctx, record.TypeWorkoutSession)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if !wm.Equal(synced.UpdatedAt) {
		t.Errorf("watermark = %v, want %v", wm, synced.UpdatedAt)
	}

	// A dirty record with a newer local stamp must not advance the
	// download cursor.
	dirty := newTestRecord(t, "user-1")
	dirty.UpdatedAt = synced.UpdatedAt.Add(time.Hour)
	if err := db.Create(ctx, dirty); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	wm, err = db.Watermark(ctx, record.TypeWorkoutSession)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if !wm.Equal(synced.UpdatedAt) {
		t.Errorf("dirty record advanced the watermark: %v, want %v", wm, synced.UpdatedAt)
	}
}

func TestWatermarkMixedPrecisionStamps(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Two synced records inside the same second: one with a sub-second
	// stamp, one on the whole second. The whole-second row is older and
	// must not win the MAX, even though trimmed-zero encodings would sort
	// "...05Z" after "...05.4Z" as text.
	subSecond := newTestRecord(t, "user-1")
	subSecond.UpdatedAt = time.Date(2026, 8, 23, 12, 0, 5, 400000000, time.UTC)
	subSecond.CreatedAt = subSecond.UpdatedAt

	whole := newTestRecord(t, "user-1")
	whole.UpdatedAt = time.Date(2026, 8, 23, 12, 0, 5, 0, time.UTC)
	whole.CreatedAt = whole.UpdatedAt

	if err := db.ApplyRemote(ctx, subSecond); err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}

	wm, err := db.Watermark(ctx, record.TypeWorkoutSession)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if !wm.Equal(subSecond.UpdatedAt) {
		t.Fatalf("watermark = %v, want %v", wm, subSecond.UpdatedAt)
	}

	if err := db.ApplyRemote(ctx, whole); err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}

	wm, err = db.Watermark(ctx, record.TypeWorkoutSession)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if !wm.Equal(subSecond.UpdatedAt) {
		t.Errorf("older whole-second stamp moved the watermark: %v, want %v",
			wm, subSecond.UpdatedAt)
	}
}

func TestListSeparatesUsersAndTypes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	mine := newTestRecord(t, "user-1")
	theirs := newTestRecord(t, "user-2")
	set := record.New(record.TypeWorkoutSet, "user-1",
		record.SetFields(mine.ID, "bench", 1, 8, 60))

	for _, rec := range []record.Record{mine, theirs, set} {
		if err := db.Create(ctx, rec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	sessions, err := db.List(ctx, record.TypeWorkoutSession, "user-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != mine.ID {
		t.Errorf("List returned %v, want just %s", sessions, mine.ID)
	}
}
