package types

import "time"

// JobKind represents the kind of download a record tracks
type JobKind string

const (
	JobKindTrack    JobKind = "track"
	JobKindAlbum    JobKind = "album"
	JobKindPlaylist JobKind = "playlist"
	JobKindArtist   JobKind = "artist"
)

// KnownKind reports whether k is one of the four download kinds
func KnownKind(k JobKind) bool {
	switch k {
	case JobKindTrack, JobKindAlbum, JobKindPlaylist, JobKindArtist:
		return true
	}
	return false
}

// JobStatus represents the current state of a download record
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusMonitoring  JobStatus = "monitoring"
	JobStatusProgressing JobStatus = "progressing"
	JobStatusComplete    JobStatus = "complete"
	JobStatusError       JobStatus = "error"
	JobStatusCancelled   JobStatus = "cancelled"
)

// IsTerminal returns true if no further transition can occur from s
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusError || s == JobStatusCancelled
}

// KnownStatus reports whether s is a valid record state
func KnownStatus(s JobStatus) bool {
	switch s {
	case JobStatusPending, JobStatusMonitoring, JobStatusProgressing,
		JobStatusComplete, JobStatusError, JobStatusCancelled:
		return true
	}
	return false
}

// DisplayMetadata holds the UI-facing name and artist for a record.
// Both fields are optional; defaults are applied at creation time.
type DisplayMetadata struct {
	Name   string `json:"name"`
	Artist string `json:"artist,omitempty"`
}

// RequestDescriptor is the exact request used to create the server-side
// job. It is retained for manual retry and debugging and is never
// re-sent automatically.
type RequestDescriptor struct {
	Service         string `json:"service,omitempty"`
	Quality         string `json:"quality,omitempty"`
	Fallback        string `json:"fallback,omitempty"`
	FallbackQuality string `json:"fallbackQuality,omitempty"`
}

// ProgressSnapshot is the structured result of the last successful
// poll. Snapshots are replaced wholesale, never merged field by field.
type ProgressSnapshot struct {
	CurrentTrack string    `json:"currentTrack,omitempty"`
	TrackNumber  int       `json:"trackNumber"`
	TotalTracks  int       `json:"totalTracks"`
	Percent      float64   `json:"percent"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// JobRecord represents one tracked download in the queue
type JobRecord struct {
	ID             string             `json:"id"`
	ProgressHandle string             `json:"progressHandle"`
	Kind           JobKind            `json:"kind"`
	Name           string             `json:"name"`
	Artist         string             `json:"artist,omitempty"`
	Request        *RequestDescriptor `json:"request,omitempty"`
	Status         JobStatus          `json:"status"`
	Progress       *ProgressSnapshot  `json:"progress,omitempty"`
	Error          string             `json:"error,omitempty"`
	RetryCount     int                `json:"retryCount"`
	Visible        bool               `json:"visible"`
	CreatedAt      time.Time          `json:"createdAt"`
	CompletedAt    *time.Time         `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so callers can read a record without
// racing the queue's own mutations
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Request != nil {
		req := *r.Request
		out.Request = &req
	}
	if r.Progress != nil {
		p := *r.Progress
		out.Progress = &p
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
