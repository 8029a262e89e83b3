package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type RetryOptions struct {
	GlobalOptions

	Detach bool
}

func DefaultRetryOptions() *RetryOptions {
	return &RetryOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdRetry() *cobra.Command {
	o := DefaultRetryOptions()
	cmd := &cobra.Command{
		Use:   "retry ID",
		Short: "Re-enqueue a failed job and follow it.",
		Args:  cobra.ExactArgs(1),
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

func (o *RetryOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.BoolVarP(&o.Detach, "detach", "d", o.Detach, "Return once the job is re-enqueued instead of following it")
}

func (o *RetryOptions) Run(ctx context.Context, args []string) error {
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

	jobID := args[0]
	if o.Detach {
		resp, err := svc.Client().RetryJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !resp.OK() {
			return fmt.Errorf("retry rejected: %s", resp.Message())
		}
		fmt.Fprintf(o.out, "Job %s re-enqueued\n", jobID)
		return svc.Recovery().Remember(ctx, jobID)
	}

	return follow(ctx, svc, o.out, jobID, func(ctx context.Context) error {
		_, err := svc.Retry(ctx, jobID)
		return err
	})
}
