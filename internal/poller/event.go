package poller

import (
	"time"

	"github.com/kubev2v/doctrack/internal/progress"
)

type EventKind string

const (
	EventProgress        EventKind = "progress"
	EventFinalizing      EventKind = "finalizing"
	EventRetrying        EventKind = "retrying"
	EventApprovalPending EventKind = "approval-pending"
	EventError           EventKind = "error"
	EventTerminated      EventKind = "terminated"
)

// Reason tells why a session was terminated.
type Reason string

const (
	ReasonCompleted Reason = "completed"
	ReasonFailed    Reason = "failed"
	ReasonCancelled Reason = "cancelled"
	ReasonSignedOut Reason = "signed-out"
	ReasonMissing   Reason = "missing"
	// ReasonStopped is used when the process stops tracking a job that is still running.
	ReasonStopped Reason = "stopped"
)

type Event struct {
	Kind      EventKind        `json:"kind"`
	SessionID uint64           `json:"sessionId"`
	JobID     string           `json:"jobId"`
	Time      time.Time        `json:"time"`
	Update    *progress.Update `json:"update,omitempty"`
	Reason    Reason           `json:"reason,omitempty"`
	Message   string           `json:"message,omitempty"`
	// Delay is the wait before the next attempt for retrying events.
	Delay time.Duration `json:"delay,omitempty"`
}

// Listener receives scheduler events in the order they were produced, one at a
// time. A listener must not call back into the Scheduler.
type Listener func(Event)
