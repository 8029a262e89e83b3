package client_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"

	"github.com/kubev2v/doctrack/internal/client"
	"github.com/kubev2v/doctrack/internal/job"
	"github.com/kubev2v/doctrack/pkg/requestid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type staticToken string

func (s staticToken) Token(_ context.Context) (string, error) {
	return string(s), nil
}

func newClient(server string, opts ...client.Option) *client.Client {
	cfg := client.NewDefault()
	cfg.Service.Server = server
	c, err := client.New(cfg, opts...)
	Expect(err).To(BeNil())
	return c
}

var _ = Describe("job client", func() {
	var (
		ctx     context.Context
		server  *httptest.Server
		handler http.HandlerFunc
	)

	BeforeEach(func() {
		ctx = context.Background()
		handler = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	Context("GetStatus", func() {
		It("attaches credentials and a generated request id", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodGet))
				Expect(r.URL.Path).To(Equal("/status/J1"))
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer secret"))
				Expect(r.Header.Get("X-Request-Id")).NotTo(BeEmpty())
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"jobId":"J1","status":"processing","progress":40}`))
			}

			resp, err := newClient(server.URL, client.WithCredentials(staticToken("secret"))).GetStatus(ctx, "J1")
			Expect(err).To(BeNil())
			Expect(resp.OK()).To(BeTrue())
			Expect(resp.Malformed).To(BeFalse())
			Expect(resp.RequestID).NotTo(BeEmpty())
			Expect(job.Resolve(resp.Body).Status).To(Equal(job.StatusProcessing))
		})

		It("keeps the caller supplied request id", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Header.Get("X-Request-Id")).To(Equal("req-42"))
				_, _ = w.Write([]byte(`{}`))
			}

			resp, err := newClient(server.URL, client.WithCredentials(staticToken("t"))).
				GetStatus(requestid.ToContext(ctx, "req-42"), "J1")
			Expect(err).To(BeNil())
			Expect(resp.RequestID).To(Equal("req-42"))
		})

		It("distinguishes an empty object from a non JSON body", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "/empty") {
					_, _ = w.Write([]byte(`{}`))
					return
				}
				_, _ = w.Write([]byte(`<html>gateway</html>`))
			}
			c := newClient(server.URL, client.WithCredentials(staticToken("t")))

			empty, err := c.GetStatus(ctx, "empty")
			Expect(err).To(BeNil())
			Expect(empty.Malformed).To(BeFalse())
			Expect(empty.Body).NotTo(BeNil())
			Expect(empty.Body).To(BeEmpty())

			html, err := c.GetStatus(ctx, "html")
			Expect(err).To(BeNil())
			Expect(html.Malformed).To(BeTrue())
			_, err = html.Record()
			Expect(errors.Is(err, client.ErrMalformedBody)).To(BeTrue())
		})

		It("does not fail on non 2xx statuses", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"detail":"maintenance"}`))
			}

			resp, err := newClient(server.URL, client.WithCredentials(staticToken("t"))).GetStatus(ctx, "J1")
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(resp.Retryable()).To(BeTrue())
			Expect(resp.Message()).To(Equal("maintenance"))
		})

		It("calls the unauthorized handler on 401", func() {
			var calls int32
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			}

			resp, err := newClient(server.URL,
				client.WithCredentials(staticToken("t")),
				client.WithUnauthorizedHandler(func(context.Context) { atomic.AddInt32(&calls, 1) }),
			).GetStatus(ctx, "J1")
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		})

		It("refuses to send without credentials", func() {
			var hits, signouts int32
			handler = func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
			}

			_, err := newClient(server.URL,
				client.WithCredentials(staticToken("")),
				client.WithUnauthorizedHandler(func(context.Context) { atomic.AddInt32(&signouts, 1) }),
			).GetStatus(ctx, "J1")
			Expect(errors.Is(err, client.ErrNoCredentials)).To(BeTrue())
			Expect(atomic.LoadInt32(&hits)).To(BeZero())
			Expect(atomic.LoadInt32(&signouts)).To(Equal(int32(1)))
		})

		It("reports transport failures as a distinct error class", func() {
			c := newClient("http://127.0.0.1:1", client.WithCredentials(staticToken("t")))
			_, err := c.GetStatus(ctx, "J1")
			Expect(err).NotTo(BeNil())
			Expect(client.IsTransport(err)).To(BeTrue())
		})

		It("escapes job ids", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.EscapedPath()).To(Equal("/status/a%2Fb"))
				_, _ = w.Write([]byte(`{}`))
			}
			_, err := newClient(server.URL, client.WithCredentials(staticToken("t"))).GetStatus(ctx, "a/b")
			Expect(err).To(BeNil())
		})
	})

	Context("cancel and retry", func() {
		It("posts to the job endpoints", func() {
			var paths []string
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodPost))
				paths = append(paths, r.URL.Path)
				w.WriteHeader(http.StatusAccepted)
			}
			c := newClient(server.URL, client.WithCredentials(staticToken("t")))

			resp, err := c.CancelJob(ctx, "J1")
			Expect(err).To(BeNil())
			Expect(resp.OK()).To(BeTrue())
			Expect(resp.Malformed).To(BeTrue())

			_, err = c.RetryJob(ctx, "J1")
			Expect(err).To(BeNil())
			Expect(paths).To(Equal([]string{"/jobs/J1/cancel", "/jobs/J1/retry"}))
		})
	})

	Context("ListJobs", func() {
		It("sends filters and resolves the page", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/jobs"))
				Expect(r.URL.Query().Get("jobType")).To(Equal("OCR"))
				Expect(r.URL.Query().Get("status")).To(Equal("FAILED"))
				Expect(r.URL.Query().Get("limit")).To(Equal("10"))
				Expect(r.URL.Query().Get("offset")).To(Equal("20"))
				_, _ = w.Write([]byte(`{"jobs":[{"jobId":"a","status":"failed"}],"nextOffset":21,"hasMore":false}`))
			}

			result, err := newClient(server.URL, client.WithCredentials(staticToken("t"))).ListJobs(ctx, client.ListParams{
				JobType: job.TypeOCR,
				Status:  job.StatusFailed,
				Limit:   10,
				Offset:  20,
			})
			Expect(err).To(BeNil())
			Expect(result.Page.Jobs).To(HaveLen(1))
			Expect(result.Page.NextOffset).To(Equal(21))
			Expect(result.Page.HasMore).To(BeFalse())
		})

		It("rejects invalid filters before sending", func() {
			_, err := newClient(server.URL, client.WithCredentials(staticToken("t"))).ListJobs(ctx, client.ListParams{Limit: 500})
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring("invalid list parameters"))
		})
	})

	Context("Upload", func() {
		It("sends a multipart body and returns the job id", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/upload"))
				Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
				Expect(r.FormValue("jobType")).To(Equal("TRANSCRIPTION"))
				f, header, err := r.FormFile("file")
				Expect(err).To(BeNil())
				defer f.Close()
				content, _ := io.ReadAll(f)
				Expect(string(content)).To(Equal("audio-bytes"))
				Expect(header.Filename).To(Equal("talk.mp3"))
				_, _ = w.Write([]byte(`{"jobId":"J9"}`))
			}

			result, err := newClient(server.URL, client.WithCredentials(staticToken("t"))).Upload(ctx, client.UploadRequest{
				Filename: "talk.mp3",
				Content:  strings.NewReader("audio-bytes"),
				Type:     job.TypeTranscription,
			})
			Expect(err).To(BeNil())
			Expect(result.JobID).To(Equal("J9"))
		})

		It("surfaces the structured error payload", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write([]byte(`{"error":"file too large"}`))
			}

			result, err := newClient(server.URL, client.WithCredentials(staticToken("t"))).Upload(ctx, client.UploadRequest{
				Filename: "big.pdf",
				Content:  strings.NewReader("x"),
				Type:     job.TypeOCR,
			})
			Expect(err).To(BeNil())
			Expect(result.JobID).To(BeEmpty())
			Expect(result.Response.Message()).To(Equal("file too large"))
		})
	})

	Context("Capabilities", func() {
		It("does not require credentials", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Header.Get("Authorization")).To(BeEmpty())
				_, _ = w.Write([]byte(`{"capabilities":["Cancel"],"features":{"retry":true,"listing":false}}`))
			}

			caps := newClient(server.URL).Capabilities(ctx)
			Expect(caps.Has("cancel")).To(BeTrue())
			Expect(caps.Has("retry")).To(BeTrue())
			Expect(caps.Has("listing")).To(BeFalse())
			Expect(caps.Names()).To(Equal([]string{"cancel", "retry"}))
		})

		It("degrades silently when the probe fails", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}
			Expect(newClient(server.URL).Capabilities(ctx).Names()).To(BeEmpty())
			Expect(newClient("http://127.0.0.1:1").Capabilities(ctx).Names()).To(BeEmpty())
		})
	})
})
