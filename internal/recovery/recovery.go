package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kubev2v/doctrack/internal/auth"
	"github.com/kubev2v/doctrack/internal/poller"
	"github.com/kubev2v/doctrack/internal/store"
	"go.uber.org/zap"
)

// ActiveJobKey is the store key of the persisted recovery record.
const ActiveJobKey = "doctrack.activeJobId"

// Tracker is the part of the scheduler recovery drives.
type Tracker interface {
	Start(ctx context.Context, jobID string) uint64
	AddListener(l poller.Listener)
}

// Identity tells whether the credential has been restored.
type Identity interface {
	OnRestored(ctx context.Context, fn func(ctx context.Context, u auth.User))
	OnSignOut(hook auth.SignOutHook)
}

// Manager persists the id of the job being tracked so it can be resumed after
// a restart. The record is cleared exactly when its session terminates.
type Manager struct {
	records store.Record
	tracker Tracker

	lock    sync.Mutex
	resumed bool
}

func New(records store.Record, tracker Tracker) *Manager {
	m := &Manager{records: records, tracker: tracker}
	tracker.AddListener(m.onEvent)
	return m
}

// Remember makes jobID the active job, replacing any previous one.
func (m *Manager) Remember(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.New("job id cannot be empty")
	}
	if _, err := m.records.Put(ctx, ActiveJobKey, jobID); err != nil {
		return fmt.Errorf("failed to persist active job %s: %w", jobID, err)
	}
	return nil
}

func (m *Manager) Forget(ctx context.Context) error {
	if err := m.records.Delete(ctx, ActiveJobKey); err != nil {
		return fmt.Errorf("failed to clear active job: %w", err)
	}
	return nil
}

// Active returns the persisted job id, or "" when there is none.
func (m *Manager) Active(ctx context.Context) (string, error) {
	r, err := m.records.Get(ctx, ActiveJobKey)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return r.Value, nil
}

// Track remembers jobID and starts polling it.
func (m *Manager) Track(ctx context.Context, jobID string) (uint64, error) {
	if err := m.Remember(ctx, jobID); err != nil {
		return 0, err
	}
	return m.tracker.Start(ctx, jobID), nil
}

// Resume starts polling the persisted job once an identity is available. It
// is deferred until then and runs at most once per Manager.
func (m *Manager) Resume(ctx context.Context, identity Identity) {
	identity.OnSignOut(m.Forget)
	identity.OnRestored(ctx, func(_ context.Context, u auth.User) {
		m.resume(ctx, u)
	})
}

func (m *Manager) resume(ctx context.Context, u auth.User) {
	m.lock.Lock()
	if m.resumed {
		m.lock.Unlock()
		return
	}
	m.resumed = true
	m.lock.Unlock()

	jobID, err := m.Active(ctx)
	if err != nil {
		zap.S().Named("recovery").Errorw("failed to read recovery record", "error", err)
		return
	}
	if jobID == "" {
		return
	}
	zap.S().Named("recovery").Infof("resuming job %s for %s", jobID, u.DisplayName())
	m.tracker.Start(ctx, jobID)
}

func (m *Manager) onEvent(e poller.Event) {
	if e.Kind != poller.EventTerminated || e.Reason == poller.ReasonStopped {
		return
	}

	ctx := context.Background()
	active, err := m.Active(ctx)
	if err != nil {
		zap.S().Named("recovery").Errorw("failed to read recovery record", "error", err)
		return
	}
	// a newer upload may already own the record
	if active != "" && active != e.JobID {
		return
	}
	if err := m.Forget(ctx); err != nil {
		zap.S().Named("recovery").Errorw("failed to clear recovery record", "job", e.JobID, "error", err)
	}
}
