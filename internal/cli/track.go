package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/kubev2v/doctrack/internal/agent"
	"github.com/kubev2v/doctrack/internal/auth"
	"github.com/kubev2v/doctrack/internal/poller"
	"github.com/spf13/cobra"
)

type TrackOptions struct {
	GlobalOptions
}

func DefaultTrackOptions() *TrackOptions {
	return &TrackOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdTrack() *cobra.Command {
	o := DefaultTrackOptions()
	cmd := &cobra.Command{
		Use:   "track [ID]",
		Short: "Follow the progress of a job. Without ID the last tracked job is resumed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *TrackOptions) Run(ctx context.Context, args []string) error {
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

	var jobID string
	if len(args) == 1 {
		jobID = args[0]
	} else {
		jobID, err = svc.Recovery().Active(ctx)
		if err != nil {
			return err
		}
		if jobID == "" {
			return errors.New("no job to resume, pass a job id")
		}
	}

	return follow(ctx, svc, o.out, jobID, func(ctx context.Context) error {
		_, err := svc.Track(ctx, jobID)
		return err
	})
}

func attach(ctx context.Context, svc *agent.Service) error {
	if _, err := svc.Attach(ctx); err != nil {
		if errors.Is(err, auth.ErrNoIdentity) || errors.Is(err, auth.ErrExpired) {
			return fmt.Errorf("%w, run login first", err)
		}
		return err
	}
	return nil
}

// follow renders the events of jobID after start succeeded and blocks until
// the session terminates. Interrupting stops polling but keeps the job
// recorded so it can be resumed later.
func follow(ctx context.Context, svc *agent.Service, out io.Writer, jobID string, start func(ctx context.Context) error) error {
	r := newConsoleRenderer(out, svc.Humanizer())
	r.Follow(jobID)
	svc.Scheduler().AddListener(r.Listen)

	if err := start(ctx); err != nil {
		return err
	}

	select {
	case e := <-r.Done():
		return terminationError(e)
	case <-ctx.Done():
		svc.Scheduler().Stop()
		return nil
	}
}

func terminationError(e poller.Event) error {
	switch e.Reason {
	case poller.ReasonCompleted, poller.ReasonCancelled, poller.ReasonStopped:
		return nil
	case poller.ReasonSignedOut:
		return errors.New("credential rejected by the job service")
	default:
		return fmt.Errorf("job %s %s", e.JobID, e.Reason)
	}
}
