package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/kubev2v/doctrack/internal/client"
	"github.com/kubev2v/doctrack/internal/job"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
)

var legalJobTypes = []string{string(job.TypeOCR), string(job.TypeTranscription)}

// ErrApprovalPending is returned when the service refuses submissions until the account is approved.
var ErrApprovalPending = errors.New("account awaiting approval")

type UploadOptions struct {
	GlobalOptions

	JobType string
	Detach  bool
}

func DefaultUploadOptions() *UploadOptions {
	return &UploadOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdUpload() *cobra.Command {
	o := DefaultUploadOptions()
	cmd := &cobra.Command{
		Use:          "upload FILE",
		Short:        "Submit a document or a recording and follow its progress.",
		Example:      "upload scan.pdf\nupload --type TRANSCRIPTION --detach interview.mp3",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *UploadOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.JobType, "type", "t", o.JobType, fmt.Sprintf("Job type. One of: (%s). Guessed from the file extension when empty.", strings.Join(legalJobTypes, ", ")))
	fs.BoolVarP(&o.Detach, "detach", "d", o.Detach, "Return once the job is enqueued instead of following it")
}

func (o *UploadOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	o.JobType = strings.ToUpper(o.JobType)
	if o.JobType == "" {
		o.JobType = string(guessJobType(args[0]))
	}
	return nil
}

func (o *UploadOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if !funk.ContainsString(legalJobTypes, o.JobType) {
		return fmt.Errorf("job type must be one of %s", strings.Join(legalJobTypes, ", "))
	}
	return nil
}

func guessJobType(filename string) job.Type {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3", ".wav", ".m4a", ".ogg", ".flac", ".mp4", ".webm", ".mov":
		return job.TypeTranscription
	default:
		return job.TypeOCR
	}
}

func (o *UploadOptions) Run(ctx context.Context, args []string) error {
	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer file.Close()

	svc, err := o.Service()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := attach(ctx, svc); err != nil {
		return err
	}

	result, err := svc.Client().Upload(ctx, client.UploadRequest{
		Filename: filepath.Base(args[0]),
		Content:  file,
		Type:     job.Type(o.JobType),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", args[0], err)
	}

	switch {
	case result.Response.StatusCode == http.StatusForbidden:
		fmt.Fprintln(o.out, approvalNotice)
		return ErrApprovalPending
	case !result.Response.OK():
		return fmt.Errorf("upload rejected: %s", result.Response.Message())
	case result.JobID == "":
		return errors.New("upload accepted but the service returned no job id")
	}

	fmt.Fprintf(o.out, "Job %s enqueued\n", result.JobID)

	if o.Detach {
		return svc.Recovery().Remember(ctx, result.JobID)
	}
	return follow(ctx, svc, o.out, result.JobID, func(ctx context.Context) error {
		_, err := svc.Track(ctx, result.JobID)
		return err
	})
}
