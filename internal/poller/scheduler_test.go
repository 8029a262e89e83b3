package poller_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kubev2v/doctrack/internal/client"
	"github.com/kubev2v/doctrack/internal/job"
	"github.com/kubev2v/doctrack/internal/poller"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("scheduler", func() {
	var (
		api   *fakeAPI
		clock *fakeClock
		rec   *recorder
		s     *poller.Scheduler
		ctx   context.Context
		cfg   poller.Config
	)

	next := func() call {
		var c call
		Eventually(api.calls).Should(Receive(&c))
		return c
	}

	answer := func(code int, body string) {
		c := next()
		Expect(c.op).To(Equal("status"))
		c.reply <- reply{resp: respond(code, body)}
	}

	BeforeEach(func() {
		ctx = context.TODO()
		api = newFakeAPI()
		clock = &fakeClock{}
		rec = &recorder{}
		cfg = poller.Config{
			Interval:       2 * time.Second,
			HiddenInterval: 15 * time.Second,
			RetryBackoff:   3 * time.Second,
			ResumeDelay:    250 * time.Millisecond,
			RequestTimeout: time.Minute,
			DwellThreshold: 90,
			Dwell:          800 * time.Millisecond,
		}
		s = poller.New(api, cfg, poller.WithClock(clock), poller.WithListener(rec.Listen))
	})

	Context("a full job lifecycle", func() {
		It("absorbs regressions and stops polling after completion", func() {
			s.Start(ctx, "J1")
			Expect(s.State()).To(Equal(poller.StateActive))

			answer(200, `{"jobId":"J1","status":"QUEUED","progress":0}`)
			Eventually(clock.Pending).Should(Equal([]time.Duration{2 * time.Second}))
			Expect(clock.Fire()).To(Equal(1))

			answer(200, `{"jobId":"J1","status":"PROCESSING","progress":40}`)
			Eventually(clock.Pending).Should(HaveLen(1))
			clock.Fire()

			answer(200, `{"jobId":"J1","status":"PROCESSING","progress":25}`)
			Eventually(clock.Pending).Should(HaveLen(1))
			clock.Fire()

			answer(200, `{"jobId":"J1","status":"COMPLETED","progress":100,"outputLocation":"https://x/out.txt"}`)
			Eventually(rec.Kinds).Should(Equal([]poller.EventKind{
				poller.EventProgress, poller.EventProgress, poller.EventProgress, poller.EventTerminated,
			}))
			Expect(rec.Progress()).To(Equal([]int{0, 40, 40, 100}))

			last := rec.Last()
			Expect(last.Reason).To(Equal(poller.ReasonCompleted))
			Expect(last.Update.OutputLocation).To(Equal("https://x/out.txt"))

			Expect(s.State()).To(Equal(poller.StateIdle))
			Expect(s.Status().Last.OutputLocation).To(Equal("https://x/out.txt"))
			Expect(clock.Pending()).To(BeEmpty())
			Expect(clock.FireStale()).To(BeZero())
			Consistently(api.calls, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("shows a finalizing beat when completion follows a high progress", func() {
			s.Start(ctx, "J1")
			answer(200, `{"status":"PROCESSING","progress":95}`)
			Eventually(clock.Pending).Should(HaveLen(1))
			clock.Fire()

			answer(200, `{"status":"COMPLETED","progress":100}`)
			Eventually(rec.Kinds).Should(ContainElement(poller.EventFinalizing))
			Expect(clock.Pending()).To(Equal([]time.Duration{800 * time.Millisecond}))
			Expect(s.State()).To(Equal(poller.StateActive))

			clock.Fire()
			Expect(rec.Last().Kind).To(Equal(poller.EventTerminated))
			Expect(rec.Last().Reason).To(Equal(poller.ReasonCompleted))
			Expect(rec.Last().Update.Progress).To(Equal(100))
			Consistently(api.calls, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("reports the failure reason and discards progress", func() {
			s.Start(ctx, "J1")
			answer(200, `{"status":"FAILED","errorMessage":"unsupported codec"}`)
			Eventually(rec.Kinds).Should(Equal([]poller.EventKind{poller.EventTerminated}))
			Expect(rec.Last().Reason).To(Equal(poller.ReasonFailed))
			Expect(rec.Last().Message).To(Equal("unsupported codec"))
			Expect(s.Status().Progress.LastProgress).To(BeZero())
		})
	})

	Context("sessions", func() {
		It("does not duplicate requests when the same job is started twice", func() {
			id := s.Start(ctx, "J1")
			next()
			Expect(s.Start(ctx, "J1")).To(Equal(id))
			Consistently(api.calls, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("discards responses from a superseded session", func() {
			first := s.Start(ctx, "A")
			stale := next()

			second := s.Start(ctx, "B")
			Expect(second).To(BeNumerically(">", first))
			fresh := next()
			Expect(fresh.jobID).To(Equal("B"))

			stale.reply <- reply{resp: respond(200, `{"jobId":"A","status":"COMPLETED","progress":100}`)}
			Consistently(rec.Events, 100*time.Millisecond).Should(BeEmpty())

			fresh.reply <- reply{resp: respond(200, `{"jobId":"B","status":"PROCESSING","progress":10}`)}
			Eventually(rec.Events).Should(HaveLen(1))
			e := rec.Last()
			Expect(e.SessionID).To(Equal(second))
			Expect(e.JobID).To(Equal("B"))
			Expect(e.Update.Progress).To(Equal(10))
			Expect(s.Status().JobID).To(Equal("B"))
		})

		It("turns orphaned timers into no-ops", func() {
			s.Start(ctx, "A")
			answer(200, `{"status":"PROCESSING","progress":5}`)
			Eventually(clock.Pending).Should(HaveLen(1))

			s.Start(ctx, "B")
			c := next()
			Expect(c.jobID).To(Equal("B"))

			clock.FireStale()
			Consistently(api.calls, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("does not pull a poll in while a request is in flight", func() {
			s.Start(ctx, "A")
			c := next()
			s.SetVisible(false)
			s.SetVisible(true)
			Expect(clock.Pending()).To(BeEmpty())
			c.reply <- reply{resp: respond(200, `{"status":"QUEUED"}`)}
			Eventually(clock.Pending).Should(Equal([]time.Duration{2 * time.Second}))
		})

		It("stops without touching the job", func() {
			s.Start(ctx, "J1")
			answer(200, `{"status":"PROCESSING","progress":30}`)
			Eventually(clock.Pending).Should(HaveLen(1))

			s.Stop()
			Expect(rec.Last().Reason).To(Equal(poller.ReasonStopped))
			Expect(clock.Pending()).To(BeEmpty())
			Expect(s.State()).To(Equal(poller.StateIdle))
		})

		It("stops when the caller context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			s.Start(cctx, "J1")
			next()
			cancel()
			Eventually(rec.Kinds).Should(Equal([]poller.EventKind{poller.EventTerminated}))
			Expect(rec.Last().Reason).To(Equal(poller.ReasonStopped))
		})
	})

	Context("failures", func() {
		It("retries transport failures without resetting the high-water mark", func() {
			s.Start(ctx, "J1")
			answer(200, `{"status":"PROCESSING","progress":60}`)
			Eventually(clock.Pending).Should(HaveLen(1))
			clock.Fire()

			c := next()
			c.reply <- reply{err: &client.TransportError{Op: "status", Err: errors.New("connection refused")}}
			Eventually(clock.Pending).Should(Equal([]time.Duration{3 * time.Second}))
			Expect(rec.Last().Kind).To(Equal(poller.EventRetrying))
			Expect(rec.Last().Delay).To(Equal(3 * time.Second))
			Expect(s.State()).To(Equal(poller.StateActive))
			Expect(s.Status().Progress.LastProgress).To(Equal(60))

			clock.Fire()
			answer(200, `{"status":"PROCESSING","progress":30}`)
			Eventually(rec.Progress).Should(Equal([]int{60, 60}))
		})

		DescribeTable("classifies non 2xx statuses",
			func(code int, body string, kind poller.EventKind, pending []time.Duration) {
				s.Start(ctx, "J1")
				answer(code, body)
				Eventually(rec.Kinds).Should(Equal([]poller.EventKind{kind}))
				Expect(clock.Pending()).To(Equal(pending))
			},
			Entry("service unavailable", 503, `{"detail":"maintenance"}`, poller.EventRetrying, []time.Duration{3 * time.Second}),
			Entry("rate limited", 429, ``, poller.EventRetrying, []time.Duration{3 * time.Second}),
			Entry("malformed success", 200, `<html>`, poller.EventRetrying, []time.Duration{3 * time.Second}),
			Entry("missing status", 200, `{}`, poller.EventRetrying, []time.Duration{3 * time.Second}),
			Entry("unrecognised status", 200, `{"status":"PAUSED","progress":10}`, poller.EventRetrying, []time.Duration{3 * time.Second}),
			Entry("approval pending", 403, `{"detail":"awaiting approval"}`, poller.EventApprovalPending, []time.Duration{2 * time.Second}),
			Entry("bad request", 400, `{"error":"bad id"}`, poller.EventError, []time.Duration{3 * time.Second}),
			Entry("missing job", 404, `{"detail":"not found"}`, poller.EventTerminated, []time.Duration(nil)),
		)

		It("reports the backoff with client errors", func() {
			s.Start(ctx, "J1")
			answer(400, `{"error":"bad id"}`)
			Eventually(rec.Kinds).Should(Equal([]poller.EventKind{poller.EventError}))
			Expect(rec.Last().Message).To(Equal("bad id"))
			Expect(rec.Last().Delay).To(Equal(3 * time.Second))
		})

		It("keeps the high-water mark across a success without status", func() {
			s.Start(ctx, "J1")
			answer(200, `{"status":"PROCESSING","progress":45}`)
			Eventually(clock.Pending).Should(HaveLen(1))
			clock.Fire()

			answer(200, `{"progress":10}`)
			Eventually(rec.Kinds).Should(Equal([]poller.EventKind{poller.EventProgress, poller.EventRetrying}))
			Expect(rec.Last().Message).To(Equal(client.ErrMalformedBody.Error()))
			Expect(s.Status().Progress.LastProgress).To(Equal(45))
		})

		It("signs out on 401 and never polls again", func() {
			s.Start(ctx, "J1")
			answer(200, `{"status":"PROCESSING","progress":10}`)
			Eventually(clock.Pending).Should(HaveLen(1))
			clock.Fire()

			answer(401, `{"detail":"token expired"}`)
			Eventually(rec.Last).Should(HaveField("Reason", poller.ReasonSignedOut))
			Expect(s.State()).To(Equal(poller.StateIdle))
			Expect(clock.Pending()).To(BeEmpty())
			clock.FireStale()
			Consistently(api.calls, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("signs out when no credential is available", func() {
			s.Start(ctx, "J1")
			c := next()
			c.reply <- reply{err: client.ErrNoCredentials}
			Eventually(rec.Last).Should(HaveField("Reason", poller.ReasonSignedOut))
		})
	})

	Context("visibility", func() {
		It("uses the hidden interval and pulls the next poll in when visible again", func() {
			s.SetVisible(false)
			s.Start(ctx, "J1")
			answer(200, `{"status":"PROCESSING","progress":10}`)
			Eventually(clock.Pending).Should(Equal([]time.Duration{15 * time.Second}))
			Expect(s.State()).To(Equal(poller.StateSuspended))

			s.SetVisible(true)
			Expect(clock.Pending()).To(Equal([]time.Duration{250 * time.Millisecond}))
			Expect(s.State()).To(Equal(poller.StateActive))
			Expect(s.Status().SessionID).To(Equal(uint64(1)))

			clock.Fire()
			c := next()
			Expect(c.jobID).To(Equal("J1"))
		})
	})

	Context("cancellation", func() {
		It("terminates locally and ignores the in-flight poll", func() {
			s.Start(ctx, "J1")
			inFlight := next()

			errCh := make(chan error, 1)
			go func() {
				errCh <- s.Cancel(ctx, "J1")
			}()
			c := next()
			Expect(c.op).To(Equal("cancel"))
			c.reply <- reply{resp: respond(202, ``)}
			Eventually(errCh).Should(Receive(BeNil()))

			Expect(rec.Last().Reason).To(Equal(poller.ReasonCancelled))
			Expect(rec.Last().Update.Status).To(Equal(job.StatusCancelled))
			Expect(s.State()).To(Equal(poller.StateIdle))

			inFlight.reply <- reply{resp: respond(200, `{"status":"PROCESSING","progress":50}`)}
			Consistently(rec.Events, 100*time.Millisecond).Should(HaveLen(1))
			Expect(clock.Pending()).To(BeEmpty())
		})

		It("delivers the cancellation after a progress event still being delivered", func() {
			blocked := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			ordered := &recorder{}
			s = poller.New(api, cfg, poller.WithClock(clock),
				poller.WithListener(func(e poller.Event) {
					if e.Kind != poller.EventProgress {
						return
					}
					once.Do(func() {
						close(blocked)
						<-release
					})
				}),
				poller.WithListener(ordered.Listen))

			s.Start(ctx, "J1")
			answer(200, `{"status":"PROCESSING","progress":20}`)
			Eventually(blocked).Should(BeClosed())

			errCh := make(chan error, 1)
			go func() {
				errCh <- s.Cancel(ctx, "J1")
			}()
			c := next()
			Expect(c.op).To(Equal("cancel"))
			c.reply <- reply{resp: respond(200, `{"status":"CANCELLED"}`)}
			Consistently(errCh, 100*time.Millisecond).ShouldNot(Receive())

			close(release)
			Eventually(errCh).Should(Receive(BeNil()))
			Expect(ordered.Kinds()).To(Equal([]poller.EventKind{poller.EventProgress, poller.EventTerminated}))
			Expect(ordered.Last().Reason).To(Equal(poller.ReasonCancelled))
			Expect(s.State()).To(Equal(poller.StateIdle))
			Expect(clock.Pending()).To(BeEmpty())
		})

		It("keeps the session when the service refuses", func() {
			s.Start(ctx, "J1")
			next()

			errCh := make(chan error, 1)
			go func() {
				errCh <- s.Cancel(ctx, "J1")
			}()
			c := next()
			c.reply <- reply{resp: respond(409, `{"detail":"already completed"}`)}
			var err error
			Eventually(errCh).Should(Receive(&err))
			Expect(err).To(MatchError(ContainSubstring("already completed")))
			Expect(s.State()).To(Equal(poller.StateActive))
		})
	})

	Context("retry", func() {
		It("starts a fresh session once the job is re-enqueued", func() {
			first := s.Start(ctx, "J1")
			answer(200, `{"status":"FAILED"}`)
			Eventually(rec.Last).Should(HaveField("Reason", poller.ReasonFailed))
			Expect(rec.Last().Message).To(Equal("Processing failed. Please try again."))

			idCh := make(chan uint64, 1)
			go func() {
				defer GinkgoRecover()
				id, err := s.Retry(ctx, "J1")
				Expect(err).NotTo(HaveOccurred())
				idCh <- id
			}()
			c := next()
			Expect(c.op).To(Equal("retry"))
			c.reply <- reply{resp: respond(202, `{"jobId":"J1","status":"QUEUED"}`)}

			var id uint64
			Eventually(idCh).Should(Receive(&id))
			Expect(id).To(BeNumerically(">", first))
			Expect(next().op).To(Equal("status"))
		})

		It("runs the before hooks ahead of the first poll", func() {
			s.Start(ctx, "J1")
			answer(200, `{"status":"FAILED"}`)
			Eventually(rec.Last).Should(HaveField("Reason", poller.ReasonFailed))

			states := make(chan poller.State, 1)
			errCh := make(chan error, 1)
			go func() {
				_, err := s.Retry(ctx, "J1", func() error {
					states <- s.State()
					return nil
				})
				errCh <- err
			}()
			c := next()
			Expect(c.op).To(Equal("retry"))
			c.reply <- reply{resp: respond(202, `{"jobId":"J1","status":"QUEUED"}`)}

			Eventually(errCh).Should(Receive(BeNil()))
			Expect(states).To(Receive(Equal(poller.StateIdle)))
			Expect(next().op).To(Equal("status"))
		})

		It("does not start polling when a before hook fails", func() {
			errCh := make(chan error, 1)
			go func() {
				_, err := s.Retry(ctx, "J1", func() error {
					return errors.New("disk full")
				})
				errCh <- err
			}()
			c := next()
			c.reply <- reply{resp: respond(202, ``)}

			var err error
			Eventually(errCh).Should(Receive(&err))
			Expect(err).To(MatchError("disk full"))
			Expect(s.State()).To(Equal(poller.StateIdle))
			Consistently(api.calls, 100*time.Millisecond).ShouldNot(Receive())
		})
	})
})
