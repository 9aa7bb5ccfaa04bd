// Package remote provides the HTTP client for the backend record API.
//
// The client is a thin, stateless wrapper over two endpoints: an upsert
// keyed by the client-chosen record ID (which is what makes at-least-once
// upload at-most-once-effective) and a filtered select bounded by the
// download watermark. It holds no engine-owned mutable state and a single
// instance is safe to share across concurrent sync passes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/replog/replog/internal/record"
)

// RejectedError reports that the backend refused one specific record
// (validation failure, conflict). A rejection is recoverable: the record
// stays dirty and is retried on a later pass. It never aborts the batch.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("record rejected by backend (status %d): %s", e.StatusCode, e.Message)
}

// Client talks to the backend record API. The credential is supplied by
// the caller; session management is not this package's concern.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the record API at baseURL.
//
// If httpClient is nil a default with a 30 second timeout is used.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Insert uploads a record's full current field set.
//
// The endpoint is an upsert keyed by the record's client-assigned ID, so
// re-sending a record that was already accepted is a no-op on the backend.
//
// A 4xx response is returned as *RejectedError (per-record, recoverable).
// Any other failure, a connection error or a 5xx, is a transport failure
// and fatal to the current sync pass.
func (c *Client) Insert(ctx context.Context, rec record.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
	}

	endpoint := fmt.Sprintf("%s/v1/records/%s/%s",
		c.baseURL, url.PathEscape(rec.Type), url.PathEscape(rec.ID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build insert request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("insert request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &RejectedError{
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
		}
	default:
		return fmt.Errorf("backend returned status %d for record %s", resp.StatusCode, rec.ID)
	}
}

// Select fetches every record of entityType owned by userID whose
// updated_at is strictly greater than updatedAfter.
//
// The comparison is strict and the cursor is sent at nanosecond precision,
// matching how the local store encodes updated_at; anything coarser would
// re-download or miss rows at the boundary.
func (c *Client) Select(ctx context.Context, entityType, userID string, updatedAfter time.Time) ([]record.Record, error) {
	endpoint := fmt.Sprintf("%s/v1/records/%s", c.baseURL, url.PathEscape(entityType))

	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("updated_after", updatedAfter.UTC().Format(time.RFC3339Nano))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build select request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("select request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned status %d for %s select", resp.StatusCode, entityType)
	}

	var payload struct {
		Records []record.Record `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode select response: %w", err)
	}

	return payload.Records, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// readErrorMessage extracts a short error message from a response body.
// Bodies are capped; the backend's error detail is advisory only.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no detail"
	}

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}

	return strings.TrimSpace(string(data))
}
