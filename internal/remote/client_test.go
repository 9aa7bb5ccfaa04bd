package remote

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/replog/replog/internal/record"
)

func testRecord() record.Record {
	return record.New(record.TypeWorkoutSession, "user-1",
		record.SessionFields("Push day", time.Now(), 45, ""))
}

func TestInsertUpsertsByClientID(t *testing.T) {
	rec := testRecord()

	var gotPath, gotAuth, gotMethod string
	var gotBody record.Record

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(srv.URL, "tok-123", nil)
	if err := client.Insert(t.Context(), rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT (idempotent upsert)", gotMethod)
	}
	wantPath := "/v1/records/workout_session/" + rec.ID
	if gotPath != wantPath {
		t.Errorf("path = %s, want %s", gotPath, wantPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth header = %q, want bearer token", gotAuth)
	}
	if gotBody.ID != rec.ID || gotBody.UserID != rec.UserID {
		t.Errorf("body record = %+v, want uploaded record", gotBody)
	}
}

func TestInsertRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error": "duration_min must be positive"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, "", nil)
	err := client.Insert(t.Context(), testRecord())

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d, want 422", rejected.StatusCode)
	}
	if rejected.Message != "duration_min must be positive" {
		t.Errorf("Message = %q, want backend detail", rejected.Message)
	}
}

func TestInsertServerErrorIsNotARejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(srv.URL, "", nil)
	err := client.Insert(t.Context(), testRecord())
	if err == nil {
		t.Fatal("expected error for 503")
	}

	var rejected *RejectedError
	if errors.As(err, &rejected) {
		t.Error("5xx must surface as a transport failure, not a per-record rejection")
	}
}

func TestInsertConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := New(srv.URL, "", nil)
	if err := client.Insert(t.Context(), testRecord()); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestSelectFiltersByUserAndWatermark(t *testing.T) {
	watermark := time.Date(2026, 8, 20, 10, 30, 0, 123456789, time.UTC)
	serverRec := testRecord()

	var gotUser, gotAfter string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/records/workout_session" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotUser = r.URL.Query().Get("user_id")
		gotAfter = r.URL.Query().Get("updated_after")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"records": []record.Record{serverRec},
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "", nil)
	records, err := client.Select(t.Context(), record.TypeWorkoutSession, "user-1", watermark)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if gotUser != "user-1" {
		t.Errorf("user_id = %q, want user-1", gotUser)
	}
	// The cursor must be sent at the same precision the store keeps
	// updated_at, or the strict comparison breaks at the boundary.
	if gotAfter != watermark.Format(time.RFC3339Nano) {
		t.Errorf("updated_after = %q, want %q", gotAfter, watermark.Format(time.RFC3339Nano))
	}

	if len(records) != 1 || records[0].ID != serverRec.ID {
		t.Errorf("records = %v, want the server record", records)
	}
}

func TestSelectServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(srv.URL, "", nil)
	if _, err := client.Select(t.Context(), record.TypeWorkoutSession, "user-1", time.Time{}); err == nil {
		t.Fatal("expected error for 500")
	}
}
