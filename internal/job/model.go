package job

import (
	"math"
	"time"
)

// Type is the kind of processing a job performs.
type Type string

const (
	TypeOCR           Type = "OCR"
	TypeTranscription Type = "TRANSCRIPTION"
	TypeUnknown       Type = ""
)

func (t Type) Valid() bool {
	return t == TypeOCR || t == TypeTranscription
}

func (t Type) String() string {
	return string(t)
}

// Status is the server reported lifecycle status of a job.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusUnknown    Status = ""
)

var knownStatuses = map[Status]struct{}{
	StatusQueued:     {},
	StatusProcessing: {},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

func (s Status) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// Terminal returns true for COMPLETED, FAILED and CANCELLED.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) String() string {
	return string(s)
}

// Job is the canonical shape of a server job snapshot.
type Job struct {
	ID     string `json:"id"`
	Type   Type   `json:"type"`
	Status Status `json:"status"`
	// Progress is the raw reported value. It is NaN when the server did not report one.
	Progress       float64   `json:"-"`
	Stage          string    `json:"stage,omitempty"`
	OutputLocation string    `json:"outputLocation,omitempty"`
	Filename       string    `json:"filename"`
	QueuePosition  *int      `json:"queuePosition,omitempty"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
	// DurationSeconds is the media duration for transcription jobs, NaN when unknown.
	DurationSeconds float64 `json:"-"`
}

// HasProgress reports whether the snapshot carried a usable progress value.
func (j Job) HasProgress() bool {
	return !math.IsNaN(j.Progress)
}

// QueueWait is the time spent between enqueue and the last server update.
// It returns zero when either timestamp is missing.
func (j Job) QueueWait() time.Duration {
	if j.CreatedAt.IsZero() || j.UpdatedAt.IsZero() || j.UpdatedAt.Before(j.CreatedAt) {
		return 0
	}
	return j.UpdatedAt.Sub(j.CreatedAt)
}

// Page is one page of a job listing.
type Page struct {
	Jobs       []Job
	NextOffset int
	HasMore    bool
}
