package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type CancelOptions struct {
	GlobalOptions
}

func DefaultCancelOptions() *CancelOptions {
	return &CancelOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdCancel() *cobra.Command {
	o := DefaultCancelOptions()
	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a queued or running job.",
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

func (o *CancelOptions) Run(ctx context.Context, args []string) error {
	svc, err := o.Service()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := attach(ctx, svc); err != nil {
		return err
	}

	jobID := args[0]
	if err := svc.Cancel(ctx, jobID); err != nil {
		return err
	}
	if active, err := svc.Recovery().Active(ctx); err == nil && active == jobID {
		if err := svc.Recovery().Forget(ctx); err != nil {
			return err
		}
	}
	fmt.Fprintf(o.out, "Job %s cancelled\n", jobID)
	return nil
}
