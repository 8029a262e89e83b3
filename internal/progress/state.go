package progress

import (
	"math"
	"time"

	"github.com/kubev2v/doctrack/internal/job"
)

const (
	// DefaultDwellThreshold is the high-water mark from which a completed job
	// gets a short finalizing beat before the terminal transition.
	DefaultDwellThreshold = 90
	DefaultDwell          = 800 * time.Millisecond

	genericFailureMessage = "Processing failed. Please try again."
	cancelledMessage      = "Cancelled"
)

// Outcome classifies a snapshot. Only the server reported status decides it.
type Outcome int

const (
	OutcomeRunning Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) Terminal() bool {
	return o != OutcomeRunning
}

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "running"
	}
}

func classify(s job.Status) Outcome {
	switch s {
	case job.StatusCompleted:
		return OutcomeCompleted
	case job.StatusFailed:
		return OutcomeFailed
	case job.StatusCancelled:
		return OutcomeCancelled
	default:
		return OutcomeRunning
	}
}

// State is the client side progress of the tracked job.
type State struct {
	// LastProgress never decreases within one job lifecycle.
	LastProgress int        `json:"lastProgress"`
	LastStatus   job.Status `json:"lastStatus"`
	LastStage    string     `json:"lastStage"`
}

// Next merges snap into prev. Reported regressions are absorbed. A FAILED or
// CANCELLED snapshot discards the high-water mark. A COMPLETED snapshot without
// progress shows 100.
func Next(prev State, snap job.Job) (State, Outcome) {
	outcome := classify(snap.Status)

	next := State{
		LastProgress: prev.LastProgress,
		LastStatus:   snap.Status,
		LastStage:    snap.Stage,
	}
	if snap.HasProgress() {
		next.LastProgress = max(prev.LastProgress, clamp(snap.Progress))
	}
	if next.LastStage == "" && snap.Status == prev.LastStatus {
		next.LastStage = prev.LastStage
	}

	switch outcome {
	case OutcomeCompleted:
		if !snap.HasProgress() {
			next.LastProgress = 100
		}
	case OutcomeFailed, OutcomeCancelled:
		next = State{LastStatus: snap.Status}
	}
	return next, outcome
}

func clamp(p float64) int {
	return int(math.Round(math.Max(0, math.Min(100, p))))
}
