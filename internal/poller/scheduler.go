package poller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/kubev2v/doctrack/internal/client"
	"github.com/kubev2v/doctrack/internal/job"
	"github.com/kubev2v/doctrack/internal/progress"
	"go.uber.org/zap"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
)

// ErrUnauthorized is returned by Cancel and Retry when the service rejected the credential.
var ErrUnauthorized = errors.New("unauthorized")

// JobAPI is the part of the job service the scheduler talks to.
type JobAPI interface {
	GetStatus(ctx context.Context, jobID string) (*client.Response, error)
	CancelJob(ctx context.Context, jobID string) (*client.Response, error)
	RetryJob(ctx context.Context, jobID string) (*client.Response, error)
}

type State int

const (
	StateIdle State = iota
	StateActive
	// StateSuspended is an active session while the renderer is hidden.
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a read-only view of the scheduler.
type Status struct {
	SessionID uint64           `json:"sessionId"`
	JobID     string           `json:"jobId,omitempty"`
	State     State            `json:"state"`
	Visible   bool             `json:"visible"`
	Progress  progress.State   `json:"progress"`
	Last      *progress.Update `json:"last,omitempty"`
}

type session struct {
	id         uint64
	jobID      string
	ctx        context.Context
	inFlight   bool
	finalizing bool
	timer      Timer
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

type Option func(s *Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

func WithListener(l Listener) Option {
	return func(s *Scheduler) {
		s.listeners = append(s.listeners, l)
	}
}

func WithHumanizer(h *progress.Humanizer) Option {
	return func(s *Scheduler) {
		s.humanizer = h
	}
}

// Scheduler owns the single polling session. Every timer callback and every
// response carries the id of the session that created it and is ignored once
// that session is no longer current.
type Scheduler struct {
	lock sync.Mutex
	// emitLock is held from building a batch of events until the listeners
	// saw it, so listeners observe events in the order they were produced.
	emitLock  sync.Mutex
	api       JobAPI
	cfg       Config
	clock     Clock
	jitter    jitterer
	humanizer *progress.Humanizer
	machine   *progress.Machine
	listeners []Listener

	visible bool
	counter uint64
	session *session
	last    *progress.Update
}

func New(api JobAPI, cfg Config, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		api:     api,
		cfg:     cfg,
		clock:   realClock{},
		jitter:  newJitterer(cfg.Jitter),
		visible: true,
	}
	for _, o := range opts {
		o(s)
	}

	machineOpts := []progress.Option{progress.WithDwell(cfg.DwellThreshold, cfg.Dwell)}
	if s.humanizer != nil {
		machineOpts = append(machineOpts, progress.WithHumanizer(s.humanizer))
	}
	s.machine = progress.NewMachine(machineOpts...)
	return s
}

// AddListener registers l for all subsequent events.
func (s *Scheduler) AddListener(l Listener) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Scheduler) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state()
}

func (s *Scheduler) state() State {
	switch {
	case s.session == nil:
		return StateIdle
	case !s.visible:
		return StateSuspended
	default:
		return StateActive
	}
}

func (s *Scheduler) Status() Status {
	s.lock.Lock()
	defer s.lock.Unlock()

	st := Status{
		State:    s.state(),
		Visible:  s.visible,
		Progress: s.machine.State(),
	}
	if s.session != nil {
		st.SessionID = s.session.id
		st.JobID = s.session.jobID
	}
	if s.last != nil {
		u := *s.last
		st.Last = &u
	}
	return st
}

// Start begins tracking jobID and polls immediately. Starting the job that is
// already being tracked is a no-op. It returns the id of the current session.
func (s *Scheduler) Start(ctx context.Context, jobID string) uint64 {
	s.lock.Lock()
	if s.session != nil && s.session.jobID == jobID {
		id := s.session.id
		s.lock.Unlock()
		return id
	}

	if old := s.session; old != nil {
		old.stopTimer()
		zap.S().Named("poller").Debugw("session superseded", "session", old.id, "job", old.jobID)
	}

	s.counter++
	sess := &session{id: s.counter, jobID: jobID, ctx: ctx}
	s.session = sess
	s.machine.Reset()
	s.last = nil
	s.lock.Unlock()

	zap.S().Named("poller").Infof("tracking job %s (session %d)", jobID, sess.id)
	s.tick(sess.id)
	return sess.id
}

// Stop ends the current session without touching the job on the server.
func (s *Scheduler) Stop() {
	s.emitLock.Lock()
	defer s.emitLock.Unlock()

	s.lock.Lock()
	var events []Event
	if s.session != nil {
		events = append(events, s.terminate(s.session, ReasonStopped, nil, ""))
	}
	s.lock.Unlock()
	s.emit(events)
}

// SetVisible switches between the visible and hidden polling cadence. When the
// renderer becomes visible and no request is in flight the next poll is pulled in.
func (s *Scheduler) SetVisible(visible bool) {
	s.lock.Lock()
	changed := s.visible != visible
	s.visible = visible
	sess := s.session
	if visible && changed && sess != nil && !sess.inFlight && !sess.finalizing {
		sess.stopTimer()
		s.schedule(sess, s.cfg.ResumeDelay)
	}
	s.lock.Unlock()
}

// Cancel asks the service to cancel jobID. On success the matching session is
// terminated right away; a response still in flight for it is discarded.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	resp, err := s.api.CancelJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, client.ErrNoCredentials) {
			s.signOut(jobID)
		}
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		s.signOut(jobID)
		return ErrUnauthorized
	}
	if !resp.OK() {
		return fmt.Errorf("failed to cancel job %s: %s", jobID, resp.Message())
	}

	s.emitLock.Lock()
	defer s.emitLock.Unlock()

	s.lock.Lock()
	var events []Event
	if sess := s.session; sess != nil && sess.jobID == jobID {
		u := s.machine.Apply(job.Job{ID: jobID, Status: job.StatusCancelled, Progress: math.NaN(), DurationSeconds: math.NaN()})
		events = append(events, s.terminate(sess, ReasonCancelled, &u, ""))
	}
	s.lock.Unlock()
	s.emit(events)
	return nil
}

// Retry re-enqueues a failed job and starts a fresh session for it. The before
// hooks run once the service accepted the retry and ahead of the first poll; a
// failing hook leaves the scheduler untouched.
func (s *Scheduler) Retry(ctx context.Context, jobID string, before ...func() error) (uint64, error) {
	resp, err := s.api.RetryJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, client.ErrNoCredentials) {
			s.signOut(jobID)
		}
		return 0, fmt.Errorf("failed to retry job %s: %w", jobID, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		s.signOut(jobID)
		return 0, ErrUnauthorized
	}
	if !resp.OK() {
		return 0, fmt.Errorf("failed to retry job %s: %s", jobID, resp.Message())
	}
	for _, fn := range before {
		if err := fn(); err != nil {
			return 0, err
		}
	}
	return s.Start(ctx, jobID), nil
}

func (s *Scheduler) signOut(jobID string) {
	s.emitLock.Lock()
	defer s.emitLock.Unlock()

	s.lock.Lock()
	var events []Event
	if sess := s.session; sess != nil && sess.jobID == jobID {
		events = append(events, s.terminate(sess, ReasonSignedOut, nil, ""))
	}
	s.lock.Unlock()
	s.emit(events)
}

// tick issues one poll for session id unless a request is already in flight.
func (s *Scheduler) tick(id uint64) {
	s.lock.Lock()
	sess := s.current(id)
	if sess == nil {
		s.lock.Unlock()
		return
	}
	if sess.inFlight {
		s.lock.Unlock()
		zap.S().Named("poller").Debugw("poll skipped, request in flight", "session", id)
		return
	}
	sess.inFlight = true
	sess.timer = nil
	ctx, jobID := sess.ctx, sess.jobID
	s.lock.Unlock()

	go s.fetch(ctx, id, jobID)
}

func (s *Scheduler) fetch(ctx context.Context, id uint64, jobID string) {
	defer utilruntime.HandleCrash()

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	resp, err := s.api.GetStatus(reqCtx, jobID)
	cancel()

	s.handle(id, jobID, resp, err)
}

func (s *Scheduler) handle(id uint64, jobID string, resp *client.Response, err error) {
	s.emitLock.Lock()
	defer s.emitLock.Unlock()

	s.lock.Lock()
	sess := s.current(id)
	if sess == nil {
		s.lock.Unlock()
		zap.S().Named("poller").Debugw("discarding stale response", "session", id, "job", jobID)
		return
	}
	sess.inFlight = false

	var events []Event
	switch {
	case err != nil && errors.Is(err, client.ErrNoCredentials):
		events = append(events, s.terminate(sess, ReasonSignedOut, nil, ""))
	case err != nil && sess.ctx.Err() != nil:
		events = append(events, s.terminate(sess, ReasonStopped, nil, ""))
	case err != nil:
		zap.S().Named("poller").Debugw("poll failed", "job", jobID, "error", err)
		events = append(events, s.retry(sess, err.Error()))
	case resp.StatusCode == http.StatusUnauthorized:
		events = append(events, s.terminate(sess, ReasonSignedOut, nil, resp.Message()))
	case resp.StatusCode == http.StatusNotFound:
		events = append(events, s.terminate(sess, ReasonMissing, nil, resp.Message()))
	case resp.StatusCode == http.StatusForbidden:
		events = append(events, s.event(sess, EventApprovalPending, nil, resp.Message()))
		s.schedule(sess, s.nextDelay())
	case resp.Retryable():
		events = append(events, s.retry(sess, resp.Message()))
	case !resp.OK():
		s.schedule(sess, s.cfg.RetryBackoff)
		e := s.event(sess, EventError, nil, resp.Message())
		e.Delay = s.cfg.RetryBackoff
		events = append(events, e)
	case resp.Malformed:
		events = append(events, s.retry(sess, client.ErrMalformedBody.Error()))
	case job.ResolveStatus(resp.Body) == job.StatusUnknown:
		// a success body without a recognised status is treated as malformed
		events = append(events, s.retry(sess, client.ErrMalformedBody.Error()))
	default:
		events = append(events, s.apply(sess, resp.Body)...)
	}
	s.lock.Unlock()

	s.emit(events)
}

func (s *Scheduler) apply(sess *session, body job.Record) []Event {
	snap := job.Resolve(body)
	if snap.ID == "" {
		snap.ID = sess.jobID
	}

	u := s.machine.Apply(snap)
	s.last = &u

	switch u.Outcome {
	case progress.OutcomeCompleted:
		if u.Dwell > 0 {
			sess.finalizing = true
			id := sess.id
			sess.timer = s.clock.AfterFunc(u.Dwell, func() { s.finish(id) })
			return []Event{s.event(sess, EventFinalizing, &u, "")}
		}
		return []Event{s.terminate(sess, ReasonCompleted, &u, "")}
	case progress.OutcomeFailed:
		return []Event{s.terminate(sess, ReasonFailed, &u, u.Message)}
	case progress.OutcomeCancelled:
		return []Event{s.terminate(sess, ReasonCancelled, &u, u.Message)}
	}

	s.schedule(sess, s.nextDelay())
	return []Event{s.event(sess, EventProgress, &u, "")}
}

// finish ends a completed session once the finalizing dwell elapsed.
func (s *Scheduler) finish(id uint64) {
	s.emitLock.Lock()
	defer s.emitLock.Unlock()

	s.lock.Lock()
	sess := s.current(id)
	if sess == nil {
		s.lock.Unlock()
		return
	}
	sess.timer = nil
	var u *progress.Update
	if s.last != nil {
		cp := *s.last
		u = &cp
	}
	events := []Event{s.terminate(sess, ReasonCompleted, u, "")}
	s.lock.Unlock()
	s.emit(events)
}

func (s *Scheduler) retry(sess *session, msg string) Event {
	s.schedule(sess, s.cfg.RetryBackoff)
	e := s.event(sess, EventRetrying, nil, msg)
	e.Delay = s.cfg.RetryBackoff
	return e
}

// terminate must be called with the lock held.
func (s *Scheduler) terminate(sess *session, reason Reason, u *progress.Update, msg string) Event {
	sess.stopTimer()
	if s.session == sess {
		s.session = nil
	}
	if u != nil {
		s.last = u
	}
	s.machine.Reset()

	zap.S().Named("poller").Infof("session %d for job %s terminated: %s", sess.id, sess.jobID, reason)
	e := s.event(sess, EventTerminated, u, msg)
	e.Reason = reason
	return e
}

func (s *Scheduler) event(sess *session, kind EventKind, u *progress.Update, msg string) Event {
	return Event{
		Kind:      kind,
		SessionID: sess.id,
		JobID:     sess.jobID,
		Time:      s.clock.Now(),
		Update:    u,
		Message:   msg,
	}
}

// schedule must be called with the lock held.
func (s *Scheduler) schedule(sess *session, d time.Duration) {
	sess.stopTimer()
	id := sess.id
	sess.timer = s.clock.AfterFunc(d, func() { s.tick(id) })
}

// nextDelay picks the cadence at schedule time so visibility changes apply to the next tick.
func (s *Scheduler) nextDelay() time.Duration {
	base := s.cfg.Interval
	if !s.visible {
		base = s.cfg.HiddenInterval
	}
	d := s.jitter.Jitter(base)
	if d <= 0 {
		return base
	}
	return d
}

func (s *Scheduler) current(id uint64) *session {
	if s.session == nil || s.session.id != id {
		return nil
	}
	return s.session
}

// emit must be called with emitLock held. Non terminal events of a session
// that was superseded while the batch waited are dropped.
func (s *Scheduler) emit(events []Event) {
	for _, e := range events {
		s.lock.Lock()
		live := e.Kind == EventTerminated || s.current(e.SessionID) != nil
		listeners := make([]Listener, len(s.listeners))
		copy(listeners, s.listeners)
		s.lock.Unlock()

		if !live {
			zap.S().Named("poller").Debugw("dropping stale event", "session", e.SessionID, "kind", e.Kind)
			continue
		}
		for _, l := range listeners {
			l(e)
		}
	}
}
