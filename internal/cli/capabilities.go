package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type CapabilitiesOptions struct {
	GlobalOptions
}

func DefaultCapabilitiesOptions() *CapabilitiesOptions {
	return &CapabilitiesOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdCapabilities() *cobra.Command {
	o := DefaultCapabilitiesOptions()
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Show the optional features the job service advertises.",
		Args:  cobra.NoArgs,
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

func (o *CapabilitiesOptions) Run(ctx context.Context, args []string) error {
	svc, err := o.Service()
	if err != nil {
		return err
	}
	defer svc.Close()

	names := svc.Client().Capabilities(ctx).Names()
	if len(names) == 0 {
		fmt.Fprintln(o.out, "No optional capabilities advertised")
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(o.out, n)
	}
	return nil
}
