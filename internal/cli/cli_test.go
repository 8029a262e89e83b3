package cli_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kubev2v/doctrack/internal/cli"
	"github.com/kubev2v/doctrack/internal/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
)

// fakeJobService is an in-memory job service keyed by job id.
type fakeJobService struct {
	mu        sync.Mutex
	statuses  map[string]string
	uploadFn  func(w http.ResponseWriter, r *http.Request)
	cancelled []string
	uploads   []string
}

func (f *fakeJobService) setStatus(id, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = body
}

func (f *fakeJobService) router(base func() string) http.Handler {
	r := chi.NewRouter()
	r.Post("/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		Expect(err).To(BeNil())
		defer file.Close()
		f.mu.Lock()
		f.uploads = append(f.uploads, header.Filename+":"+r.FormValue("jobType"))
		fn := f.uploadFn
		f.mu.Unlock()
		fn(w, r)
	})
	r.Get("/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		body, ok := f.statuses[chi.URLParam(r, "id")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"job not found"}`))
			return
		}
		_, _ = w.Write([]byte(strings.ReplaceAll(body, "{base}", base())))
	})
	r.Post("/jobs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cancelled = append(f.cancelled, chi.URLParam(r, "id"))
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"status":"CANCELLED"}`))
	})
	r.Get("/jobs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jobs":[
			{"jobId":"J1","jobType":"OCR","status":"PROCESSING","progress":40,"stage":"ocr page 2/5","filename":"scan.pdf"},
			{"jobId":"J2","jobType":"TRANSCRIPTION","status":"FAILED","errorMessage":"unsupported codec","filename":"talk.mp3"}
		],"nextOffset":2,"hasMore":true}`))
	})
	r.Get("/contract/job-status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"capabilities":["cancel","retry"]}`))
	})
	r.Get("/files/{name}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("recognized text"))
	})
	return r
}

func signedToken() string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"preferred_username": "alice",
		"email":              "alice@example.com",
	})
	s, err := token.SignedString([]byte("secret"))
	Expect(err).To(BeNil())
	return s
}

var _ = Describe("cli", func() {
	var (
		service    *fakeJobService
		server     *httptest.Server
		dir        string
		configPath string
	)

	run := func(cmd *cobra.Command, args ...string) (string, error) {
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(append(args, "--config", configPath))
		err := cmd.ExecuteContext(context.TODO())
		return out.String(), err
	}

	BeforeEach(func() {
		service = &fakeJobService{
			statuses: map[string]string{},
			uploadFn: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"jobId":"J1"}`))
			},
		}
		server = httptest.NewServer(service.router(func() string { return server.URL }))

		var err error
		dir, err = os.MkdirTemp("", "doctrack-cli")
		Expect(err).To(BeNil())
		configPath = filepath.Join(dir, "client.yaml")

		env, err := config.New()
		Expect(err).To(BeNil())
		env.Database.Type = "sqlite"
		env.Database.Name = ""
		env.Service.Kafka.Brokers = nil
		env.Service.S3.Endpoint = ""
	})

	AfterEach(func() {
		server.Close()
		os.RemoveAll(dir)
	})

	login := func() {
		out, err := run(cli.NewCmdLogin(), "--server-url", server.URL, signedToken())
		Expect(err).To(BeNil())
		Expect(out).To(Equal("Signed in as alice (example.com)\n"))
	}

	Context("login", func() {
		It("persists the server and the credential", func() {
			login()
			Expect(configPath).To(BeAnExistingFile())
			Expect(filepath.Join(dir, "doctrack.db")).To(BeAnExistingFile())
		})

		It("requires a server the first time", func() {
			_, err := run(cli.NewCmdLogin(), "token")
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("--server-url"))
		})
	})

	Context("without credential", func() {
		It("asks to log in", func() {
			Expect(os.WriteFile(configPath, []byte("service:\n  server: "+server.URL+"\n"), 0600)).To(Succeed())
			_, err := run(cli.NewCmdStatus(), "J1")
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("run login first"))
		})
	})

	Context("signed in", func() {
		BeforeEach(func() {
			login()
		})

		It("uploads and follows the job until it completes", func() {
			service.setStatus("J1", `{"jobId":"J1","status":"COMPLETED","progress":100,"outputLocation":"{base}/files/J1.txt"}`)

			filePath := filepath.Join(dir, "scan.pdf")
			Expect(os.WriteFile(filePath, []byte("%PDF"), 0600)).To(Succeed())

			out, err := run(cli.NewCmdUpload(), filePath)
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring("Job J1 enqueued"))
			Expect(out).To(ContainSubstring(fmt.Sprintf("J1  completed: %s/files/J1.txt", server.URL)))
			Expect(service.uploads).To(Equal([]string{"scan.pdf:OCR"}))
		})

		It("guesses the transcription type from the extension", func() {
			service.setStatus("J1", `{"jobId":"J1","status":"COMPLETED"}`)
			filePath := filepath.Join(dir, "talk.mp3")
			Expect(os.WriteFile(filePath, []byte("ID3"), 0600)).To(Succeed())

			_, err := run(cli.NewCmdUpload(), filePath)
			Expect(err).To(BeNil())
			Expect(service.uploads).To(Equal([]string{"talk.mp3:TRANSCRIPTION"}))
		})

		It("refuses the submission while the account awaits approval", func() {
			service.uploadFn = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"detail":"pending approval"}`))
			}
			filePath := filepath.Join(dir, "scan.pdf")
			Expect(os.WriteFile(filePath, []byte("%PDF"), 0600)).To(Succeed())

			out, err := run(cli.NewCmdUpload(), filePath)
			Expect(errors.Is(err, cli.ErrApprovalPending)).To(BeTrue())
			Expect(out).To(ContainSubstring("awaiting approval"))
		})

		It("shows the upload error message of the service", func() {
			service.uploadFn = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write([]byte(`{"detail":"file too large"}`))
			}
			filePath := filepath.Join(dir, "scan.pdf")
			Expect(os.WriteFile(filePath, []byte("%PDF"), 0600)).To(Succeed())

			_, err := run(cli.NewCmdUpload(), filePath)
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("file too large"))
		})

		It("detaches and resumes the job later", func() {
			filePath := filepath.Join(dir, "scan.pdf")
			Expect(os.WriteFile(filePath, []byte("%PDF"), 0600)).To(Succeed())

			out, err := run(cli.NewCmdUpload(), "--detach", filePath)
			Expect(err).To(BeNil())
			Expect(out).To(Equal("Job J1 enqueued\n"))

			service.setStatus("J1", `{"jobId":"J1","status":"FAILED","errorMessage":"unreadable scan"}`)
			out, err = run(cli.NewCmdTrack())
			Expect(err).ToNot(BeNil())
			Expect(out).To(ContainSubstring("J1  failed: unreadable scan"))

			// the record is gone once the job terminated
			_, err = run(cli.NewCmdTrack())
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("no job to resume"))
		})

		It("prints the generic message for a failure without reason", func() {
			service.setStatus("J3", `{"jobId":"J3","status":"FAILED"}`)
			out, err := run(cli.NewCmdTrack(), "J3")
			Expect(err).ToNot(BeNil())
			Expect(out).To(ContainSubstring("J3  failed: Processing failed. Please try again."))
		})

		It("prints the status of a job", func() {
			service.setStatus("J1", `{"jobId":"J1","jobType":"OCR","status":"PROCESSING","progress":39.6,"stage":"ocr page 2/5"}`)

			out, err := run(cli.NewCmdStatus(), "-o", "json", "J1")
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring(`"progress":40`))
			Expect(out).To(ContainSubstring(`"stage":"Reading page 2 of 5"`))

			out, err = run(cli.NewCmdStatus(), "J1")
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring("J1"))
			Expect(out).To(ContainSubstring("40%"))
		})

		It("reports a missing job", func() {
			_, err := run(cli.NewCmdStatus(), "nope")
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("job nope not found"))
		})

		It("rejects unknown output formats", func() {
			_, err := run(cli.NewCmdStatus(), "-o", "xml", "J1")
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("output format must be one of"))
		})

		It("lists the jobs", func() {
			out, err := run(cli.NewCmdList())
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring("Reading page 2 of 5"))
			Expect(out).To(ContainSubstring("unsupported codec"))
			Expect(out).To(ContainSubstring("--offset 2"))
		})

		It("validates the list filters", func() {
			_, err := run(cli.NewCmdList(), "--limit", "500")
			Expect(err).ToNot(BeNil())
		})

		It("cancels a job", func() {
			out, err := run(cli.NewCmdCancel(), "J1")
			Expect(err).To(BeNil())
			Expect(out).To(Equal("Job J1 cancelled\n"))
			Expect(service.cancelled).To(Equal([]string{"J1"}))
		})

		It("fetches the result of a completed job", func() {
			service.setStatus("J1", `{"jobId":"J1","status":"COMPLETED","outputLocation":"{base}/files/J1.txt"}`)
			target := filepath.Join(dir, "out", "result.txt")

			out, err := run(cli.NewCmdFetch(), "-f", target, "J1")
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring("Wrote 15 bytes"))

			data, err := os.ReadFile(target)
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal("recognized text"))
		})

		It("refuses to fetch an unfinished job", func() {
			service.setStatus("J1", `{"jobId":"J1","status":"PROCESSING"}`)
			_, err := run(cli.NewCmdFetch(), "J1")
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("only completed jobs"))
		})

		It("lists the advertised capabilities", func() {
			out, err := run(cli.NewCmdCapabilities())
			Expect(err).To(BeNil())
			Expect(out).To(Equal("cancel\nretry\n"))
		})

		It("signs out", func() {
			out, err := run(cli.NewCmdLogout())
			Expect(err).To(BeNil())
			Expect(out).To(Equal("Signed out\n"))

			_, err = run(cli.NewCmdStatus(), "J1")
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("run login first"))
		})
	})

	It("prints the version", func() {
		cmd := cli.NewCmdVersion()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetArgs([]string{})
		Expect(cmd.ExecuteContext(context.TODO())).To(Succeed())
		Expect(out.String()).To(HavePrefix("doctrack version: dev"))
	})
})
