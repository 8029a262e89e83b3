package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"github.com/kubev2v/doctrack/internal/artifact"
	"github.com/kubev2v/doctrack/internal/auth"
	"github.com/kubev2v/doctrack/internal/client"
	"github.com/kubev2v/doctrack/internal/config"
	"github.com/kubev2v/doctrack/internal/events"
	"github.com/kubev2v/doctrack/internal/poller"
	"github.com/kubev2v/doctrack/internal/progress"
	"github.com/kubev2v/doctrack/internal/recovery"
	"github.com/kubev2v/doctrack/internal/store"
	"github.com/kubev2v/doctrack/pkg/metrics"
	"go.uber.org/zap"
)

// ErrNotSignedIn is returned when tracking is requested without a cached identity.
var ErrNotSignedIn = errors.New("not signed in")

// Service wires the job client, the scheduler, recovery and the cached
// identity together. It is shared by the agent daemon and the CLI.
type Service struct {
	store     store.Store
	session   *auth.Session
	client    *client.Client
	scheduler *poller.Scheduler
	recovery  *recovery.Manager
	producer  *events.EventProducer
	artifacts *artifact.Manager
	humanizer *progress.Humanizer

	lock   sync.Mutex
	runCtx context.Context
}

// NewService opens the store and builds every component. Extra scheduler
// options, like listeners, are applied after the defaults.
func NewService(cfg *Config, env *config.Config, opts ...poller.Option) (*Service, error) {
	dbCfg := *env
	db := *env.Database
	if db.Type != "pgsql" && db.Name == "" {
		db.Name = cfg.DatabasePath()
	}
	dbCfg.Database = &db

	gormdb, err := store.InitDB(&dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open the store: %w", err)
	}
	st := store.NewStore(gormdb)
	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to migrate the store: %w", err)
	}

	session := auth.NewSession(st)

	c, err := client.New(&cfg.JobService.Config,
		client.WithCredentials(session),
		client.WithUnauthorizedHandler(func(ctx context.Context) {
			if err := session.SignOut(ctx); err != nil {
				zap.S().Named("agent").Errorw("failed to sign out", "error", err)
			}
		}),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	writer, err := newEventWriter(env)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	producer := events.NewEventProducer(writer, events.WithOutputTopic(env.Service.Kafka.Topic))

	language := cfg.Language
	if language == "" {
		language = env.Service.Language
	}
	humanizer := progress.NewHumanizer(progress.ParseLanguage(language))

	schedulerOpts := []poller.Option{
		poller.WithHumanizer(humanizer),
		poller.WithListener(logListener),
		poller.WithListener(metrics.Listener()),
		poller.WithListener(producer.Listener()),
	}
	scheduler := poller.New(c, cfg.Poll.SchedulerConfig(), append(schedulerOpts, opts...)...)

	artifacts, err := newArtifactManager(env)
	if err != nil {
		_ = producer.Close()
		_ = st.Close()
		return nil, err
	}

	return &Service{
		store:     st,
		session:   session,
		client:    c,
		scheduler: scheduler,
		recovery:  recovery.New(st.Record(), scheduler),
		producer:  producer,
		artifacts: artifacts,
		humanizer: humanizer,
		runCtx:    context.Background(),
	}, nil
}

func newEventWriter(env *config.Config) (events.Writer, error) {
	if !env.KafkaEnabled() {
		return &events.StdoutWriter{}, nil
	}

	kafka := env.Service.Kafka
	saramaCfg := kafka.SaramaConfig
	if saramaCfg == nil {
		saramaCfg = sarama.NewConfig()
	}
	if kafka.ClientID != "" {
		saramaCfg.ClientID = kafka.ClientID
	}
	if kafka.Version != (sarama.KafkaVersion{}) {
		saramaCfg.Version = kafka.Version
	}

	w, err := events.NewKafkaWriter(kafka.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}
	zap.S().Named("agent").Infow("sending job events to kafka", "brokers", strings.Join(kafka.Brokers, ","), "topic", kafka.Topic)
	return w, nil
}

func newArtifactManager(env *config.Config) (*artifact.Manager, error) {
	m := artifact.NewManager().Register(artifact.NewHttpDownloader(http.DefaultClient))

	s3 := env.Service.S3
	if s3.Endpoint == "" {
		return m, nil
	}
	d, err := artifact.NewMinioDownloader(
		artifact.WithEndpoint(s3.Endpoint),
		artifact.WithAccessKey(s3.AccessKey),
		artifact.WithSecretKey(s3.SecretKey),
		artifact.WithRegion(s3.Region),
		artifact.WithSSL(!s3.Insecure),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 downloader: %w", err)
	}
	return m.Register(d), nil
}

// Start restores the cached identity and resumes the persisted job once it is
// available. Sessions started later by Track live as long as ctx.
func (s *Service) Start(ctx context.Context) {
	s.setContext(ctx)

	s.recovery.Resume(ctx, s.session)
	u, err := s.session.Restore(ctx)
	switch {
	case err == nil:
		zap.S().Named("agent").Infof("signed in as %s", u.DisplayName())
	case errors.Is(err, auth.ErrNoIdentity), errors.Is(err, auth.ErrExpired):
		zap.S().Named("agent").Infow("no usable credential, waiting for sign in", "reason", err)
	default:
		zap.S().Named("agent").Errorw("failed to restore the cached credential", "error", err)
	}
}

// Attach restores the cached identity without resuming the persisted job.
// It is used by one-shot commands that decide themselves what to track.
func (s *Service) Attach(ctx context.Context) (auth.User, error) {
	s.setContext(ctx)
	s.session.OnSignOut(s.recovery.Forget)
	return s.session.Restore(ctx)
}

func (s *Service) setContext(ctx context.Context) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.runCtx = ctx
}

func (s *Service) context() context.Context {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.runCtx
}

func (s *Service) Client() *client.Client {
	return s.client
}

func (s *Service) Scheduler() *poller.Scheduler {
	return s.scheduler
}

func (s *Service) Session() *auth.Session {
	return s.session
}

func (s *Service) Recovery() *recovery.Manager {
	return s.recovery
}

func (s *Service) Artifacts() *artifact.Manager {
	return s.artifacts
}

func (s *Service) Humanizer() *progress.Humanizer {
	return s.humanizer
}

func (s *Service) Store() store.Store {
	return s.store
}

func (s *Service) Status() poller.Status {
	return s.scheduler.Status()
}

func (s *Service) Identity() (auth.User, bool) {
	return s.session.Identity()
}

// SignIn caches credential as the current identity. The first identity of a
// signed out agent resumes the persisted job.
func (s *Service) SignIn(ctx context.Context, credential string) (auth.User, error) {
	return s.session.SignIn(ctx, credential)
}

func (s *Service) SetVisible(visible bool) {
	s.scheduler.SetVisible(visible)
}

// Track persists jobID as the active job and polls it until it terminates.
func (s *Service) Track(ctx context.Context, jobID string) (uint64, error) {
	if _, ok := s.session.Identity(); !ok {
		return 0, ErrNotSignedIn
	}
	if err := s.recovery.Remember(ctx, jobID); err != nil {
		return 0, err
	}
	return s.scheduler.Start(s.context(), jobID), nil
}

// Retry re-enqueues a failed job and tracks it again. The job is persisted as
// the active job before its first poll.
func (s *Service) Retry(ctx context.Context, jobID string) (uint64, error) {
	if _, ok := s.session.Identity(); !ok {
		return 0, ErrNotSignedIn
	}
	return s.scheduler.Retry(s.context(), jobID, func() error {
		return s.recovery.Remember(ctx, jobID)
	})
}

func (s *Service) Cancel(ctx context.Context, jobID string) error {
	return s.scheduler.Cancel(ctx, jobID)
}

// Close stops polling without clearing the recovery record, flushes pending
// events and closes the store.
func (s *Service) Close() error {
	s.scheduler.Stop()
	errs := []error{}
	if err := s.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close event producer: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	return errors.Join(errs...)
}

func logListener(e poller.Event) {
	l := zap.S().Named("tracker")
	switch e.Kind {
	case poller.EventProgress, poller.EventFinalizing:
		if e.Update != nil {
			l.Debugw("progress", "job", e.JobID, "progress", e.Update.Progress, "stage", e.Update.Stage, "status", e.Update.Status)
		}
	case poller.EventRetrying, poller.EventError:
		l.Warnw("poll failed", "job", e.JobID, "kind", e.Kind, "message", e.Message, "retry_in", e.Delay)
	case poller.EventApprovalPending:
		l.Infow("waiting for approval", "job", e.JobID)
	case poller.EventTerminated:
		l.Infow("tracking finished", "job", e.JobID, "reason", e.Reason, "message", e.Message)
	}
}
