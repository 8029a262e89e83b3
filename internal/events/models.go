package events

import (
	"time"

	"github.com/kubev2v/doctrack/internal/poller"
)

// JobEvent is the payload of every job lifecycle event.
type JobEvent struct {
	JobID          string    `json:"job_id"`
	SessionID      uint64    `json:"session_id"`
	Kind           string    `json:"kind"`
	Time           time.Time `json:"time"`
	Status         string    `json:"status,omitempty"`
	Progress       *int      `json:"progress,omitempty"`
	Stage          string    `json:"stage,omitempty"`
	OutputLocation string    `json:"output_location,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Message        string    `json:"message,omitempty"`
}

func newJobEvent(e poller.Event) JobEvent {
	je := JobEvent{
		JobID:     e.JobID,
		SessionID: e.SessionID,
		Kind:      string(e.Kind),
		Time:      e.Time.UTC(),
		Reason:    string(e.Reason),
		Message:   e.Message,
	}
	if u := e.Update; u != nil {
		p := u.Progress
		je.Progress = &p
		je.Status = string(u.Status)
		je.Stage = u.Stage
		je.OutputLocation = u.OutputLocation
	}
	return je
}

// MessageKind maps a scheduler event kind to the cloudevent type.
func MessageKind(kind poller.EventKind) string {
	switch kind {
	case poller.EventProgress:
		return ProgressMessageKind
	case poller.EventFinalizing:
		return FinalizingMessageKind
	case poller.EventRetrying:
		return RetryingMessageKind
	case poller.EventApprovalPending:
		return ApprovalMessageKind
	case poller.EventTerminated:
		return TerminatedMessageKind
	default:
		return ErrorMessageKind
	}
}
