package progress

import (
	"time"

	"github.com/kubev2v/doctrack/internal/job"
)

// Update is what renderers display for one applied snapshot.
type Update struct {
	JobID          string        `json:"jobId"`
	Type           job.Type      `json:"type,omitempty"`
	Status         job.Status    `json:"status"`
	Outcome        Outcome       `json:"-"`
	Progress       int           `json:"progress"`
	Stage          string        `json:"stage,omitempty"`
	RawStage       string        `json:"rawStage,omitempty"`
	OutputLocation string        `json:"outputLocation,omitempty"`
	Message        string        `json:"message,omitempty"`
	Filename       string        `json:"filename,omitempty"`
	QueuePosition  *int          `json:"queuePosition,omitempty"`
	QueueWait      time.Duration `json:"queueWait,omitempty"`
	// Dwell is how long renderers should show the finalizing state before the
	// completed transition. Zero for anything but a completed job.
	Dwell time.Duration `json:"-"`
}

type Option func(m *Machine)

func WithHumanizer(h *Humanizer) Option {
	return func(m *Machine) {
		m.humanizer = h
	}
}

// WithDwell configures the finalizing beat: completed jobs whose high-water
// mark was already at or above threshold dwell for d.
func WithDwell(threshold int, d time.Duration) Option {
	return func(m *Machine) {
		m.dwellThreshold = threshold
		m.dwell = d
	}
}

// Machine holds the progress state of the current job. It is not safe for
// concurrent use; the poller owns it.
type Machine struct {
	state          State
	humanizer      *Humanizer
	dwellThreshold int
	dwell          time.Duration
}

func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		humanizer:      NewHumanizer(DefaultLanguage),
		dwellThreshold: DefaultDwellThreshold,
		dwell:          DefaultDwell,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Machine) State() State {
	return m.state
}

// Reset starts a new job lifecycle.
func (m *Machine) Reset() {
	m.state = State{}
}

// Apply merges snap and returns the update to display.
func (m *Machine) Apply(snap job.Job) Update {
	prev := m.state
	next, outcome := Next(prev, snap)
	m.state = next

	u := Update{
		JobID:          snap.ID,
		Type:           snap.Type,
		Status:         snap.Status,
		Outcome:        outcome,
		Progress:       next.LastProgress,
		RawStage:       next.LastStage,
		Stage:          m.humanizer.Humanize(next.LastStage),
		OutputLocation: snap.OutputLocation,
		Filename:       snap.Filename,
		QueuePosition:  snap.QueuePosition,
		QueueWait:      snap.QueueWait(),
	}

	switch outcome {
	case OutcomeCompleted:
		if m.dwell > 0 && prev.LastProgress >= m.dwellThreshold {
			u.Dwell = m.dwell
		}
	case OutcomeFailed:
		// keep the last displayed value on screen, the state itself is gone
		u.Progress = prev.LastProgress
		u.Message = snap.ErrorMessage
		if u.Message == "" {
			u.Message = m.humanizer.Sprintf(genericFailureMessage)
		}
	case OutcomeCancelled:
		u.Progress = prev.LastProgress
		u.Message = m.humanizer.Sprintf(cancelledMessage)
	}
	return u
}
