package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/r0xsh/spotizerr/types"
)

// Client talks to the Spotizerr backend's progress API. One progress
// handle maps to one server-side download job.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client for the given base URL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PollResult is the interpreted outcome of one status poll
type PollResult struct {
	Status    types.JobStatus
	RawStatus string
	Snapshot  types.ProgressSnapshot
	ErrorMsg  string
}

// progressDocument mirrors the payload served at /api/prgs/{handle}.
// Unknown fields are ignored so newer backends keep working.
type progressDocument struct {
	Type            string    `json:"type"`
	Name            string    `json:"name"`
	Artist          string    `json:"artist"`
	Event           string    `json:"event"`
	TaskID          string    `json:"task_id"`
	CurrentTrack    string    `json:"current_track"`
	TrackNumber     int       `json:"track_number"`
	TotalTracks     int       `json:"total_tracks"`
	ProgressPercent float64   `json:"progress_percent"`
	ProgressMessage string    `json:"progress_message"`
	LastLine        *lastLine `json:"last_line"`
}

type lastLine struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// GetProgress fetches and interprets the status of one progress handle.
// Any non-2xx response or unparsable body is reported as an error and
// counts as a poll failure for the caller.
func (c *Client) GetProgress(ctx context.Context, handle string) (*PollResult, error) {
	endpoint := fmt.Sprintf("%s/api/prgs/%s", c.baseURL, url.PathEscape(handle))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build progress request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch progress for %s: %w", handle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("progress endpoint returned %d for %s", resp.StatusCode, handle)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read progress body for %s: %w", handle, err)
	}

	var doc progressDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse progress body for %s: %w", handle, err)
	}

	return interpret(&doc), nil
}

// interpret maps the backend's status vocabulary onto record states.
// Everything non-terminal (initializing, processing, progress,
// real_time, track_complete, ...) means the job is still progressing.
func interpret(doc *progressDocument) *PollResult {
	raw := ""
	message := doc.ProgressMessage
	if doc.LastLine != nil {
		raw = doc.LastLine.Status
		if message == "" {
			message = doc.LastLine.Message
		}
	}

	result := &PollResult{
		RawStatus: raw,
		Snapshot: types.ProgressSnapshot{
			CurrentTrack: doc.CurrentTrack,
			TrackNumber:  doc.TrackNumber,
			TotalTracks:  doc.TotalTracks,
			Percent:      doc.ProgressPercent,
			Message:      message,
			Timestamp:    time.Now(),
		},
	}

	switch raw {
	case "complete", "done":
		result.Status = types.JobStatusComplete
		result.Snapshot.Percent = 100
	case "error":
		result.Status = types.JobStatusError
		result.ErrorMsg = message
		if result.ErrorMsg == "" {
			result.ErrorMsg = "download failed"
		}
	case "cancelled", "cancel":
		result.Status = types.JobStatusCancelled
	default:
		result.Status = types.JobStatusProgressing
	}

	return result
}

// Cancel asks the backend to stop the job behind a progress handle
func (c *Client) Cancel(ctx context.Context, handle string) error {
	endpoint := fmt.Sprintf("%s/api/prgs/cancel/%s", c.baseURL, url.PathEscape(handle))
	return c.post(ctx, endpoint, handle, nil)
}

// Retry asks the backend to retry a failed job. The backend may issue
// a fresh progress handle; when it does, the new handle is returned,
// otherwise the original one.
func (c *Client) Retry(ctx context.Context, handle string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/prgs/retry/%s", c.baseURL, url.PathEscape(handle))

	var payload struct {
		TaskID string `json:"task_id"`
	}
	if err := c.post(ctx, endpoint, handle, &payload); err != nil {
		return "", err
	}
	if payload.TaskID != "" {
		return payload.TaskID, nil
	}
	return handle, nil
}

func (c *Client) post(ctx context.Context, endpoint, handle string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request for %s: %w", handle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned %d for %s", resp.StatusCode, handle)
	}

	if out != nil {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read response for %s: %w", handle, err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("parse response for %s: %w", handle, err)
			}
		}
	}
	return nil
}
