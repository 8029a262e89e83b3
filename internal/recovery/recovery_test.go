package recovery_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/kubev2v/doctrack/internal/auth"
	"github.com/kubev2v/doctrack/internal/config"
	"github.com/kubev2v/doctrack/internal/poller"
	"github.com/kubev2v/doctrack/internal/recovery"
	"github.com/kubev2v/doctrack/internal/store"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeTracker struct {
	mu       sync.Mutex
	started  []string
	listener poller.Listener
}

func (f *fakeTracker) Start(_ context.Context, jobID string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, jobID)
	return uint64(len(f.started))
}

func (f *fakeTracker) AddListener(l poller.Listener) {
	f.listener = l
}

func (f *fakeTracker) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func (f *fakeTracker) terminate(jobID string, reason poller.Reason) {
	f.listener(poller.Event{Kind: poller.EventTerminated, JobID: jobID, Reason: reason})
}

type fakeIdentity struct {
	callbacks []func(ctx context.Context, u auth.User)
	hooks     []auth.SignOutHook
}

func (f *fakeIdentity) OnRestored(_ context.Context, fn func(ctx context.Context, u auth.User)) {
	f.callbacks = append(f.callbacks, fn)
}

func (f *fakeIdentity) OnSignOut(hook auth.SignOutHook) {
	f.hooks = append(f.hooks, hook)
}

func (f *fakeIdentity) restore() {
	for _, fn := range f.callbacks {
		fn(context.TODO(), auth.User{Username: "batman"})
	}
}

var _ = Describe("recovery", func() {
	var (
		st      store.Store
		tracker *fakeTracker
		m       *recovery.Manager
	)

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "doctrack-recovery")
		Expect(err).To(BeNil())
		DeferCleanup(os.RemoveAll, dir)

		cfg, err := config.New()
		Expect(err).To(BeNil())
		cfg.Database.Type = "sqlite"
		cfg.Database.Name = filepath.Join(dir, "recovery.db")
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())
		st = store.NewStore(db)
		Expect(st.Migrate()).To(Succeed())
		DeferCleanup(st.Close)

		tracker = &fakeTracker{}
		m = recovery.New(st.Record(), tracker)
	})

	active := func() string {
		id, err := m.Active(context.TODO())
		Expect(err).To(BeNil())
		return id
	}

	It("keeps the record while the job runs and clears it on completion", func() {
		_, err := m.Track(context.TODO(), "J1")
		Expect(err).To(BeNil())
		Expect(tracker.Started()).To(Equal([]string{"J1"}))
		Expect(active()).To(Equal("J1"))

		// a restart before the terminal status finds the record again
		restarted := recovery.New(st.Record(), &fakeTracker{})
		id, err := restarted.Active(context.TODO())
		Expect(err).To(BeNil())
		Expect(id).To(Equal("J1"))

		tracker.terminate("J1", poller.ReasonCompleted)
		Expect(active()).To(BeEmpty())
	})

	DescribeTable("clears the record on termination",
		func(reason poller.Reason, cleared bool) {
			Expect(m.Remember(context.TODO(), "J1")).To(Succeed())
			tracker.terminate("J1", reason)
			if cleared {
				Expect(active()).To(BeEmpty())
			} else {
				Expect(active()).To(Equal("J1"))
			}
		},
		Entry("failed", poller.ReasonFailed, true),
		Entry("cancelled", poller.ReasonCancelled, true),
		Entry("signed out", poller.ReasonSignedOut, true),
		Entry("missing", poller.ReasonMissing, true),
		Entry("stopped", poller.ReasonStopped, false),
	)

	It("ignores terminations of a job that no longer owns the record", func() {
		Expect(m.Remember(context.TODO(), "J1")).To(Succeed())
		Expect(m.Remember(context.TODO(), "J2")).To(Succeed())
		tracker.terminate("J1", poller.ReasonCompleted)
		Expect(active()).To(Equal("J2"))
	})

	It("defers resuming until the identity is restored and resumes once", func() {
		Expect(m.Remember(context.TODO(), "J7")).To(Succeed())
		identity := &fakeIdentity{}

		m.Resume(context.TODO(), identity)
		Expect(tracker.Started()).To(BeEmpty())

		identity.restore()
		identity.restore()
		Expect(tracker.Started()).To(Equal([]string{"J7"}))
	})

	It("does nothing to resume without a record", func() {
		identity := &fakeIdentity{}
		m.Resume(context.TODO(), identity)
		identity.restore()
		Expect(tracker.Started()).To(BeEmpty())
	})

	It("clears the record on sign out", func() {
		Expect(m.Remember(context.TODO(), "J1")).To(Succeed())
		identity := &fakeIdentity{}
		m.Resume(context.TODO(), identity)

		Expect(identity.hooks).To(HaveLen(1))
		Expect(identity.hooks[0](context.TODO())).To(Succeed())
		Expect(active()).To(BeEmpty())
	})

	It("rejects an empty job id", func() {
		Expect(m.Remember(context.TODO(), "  ")).NotTo(Succeed())
	})
})
