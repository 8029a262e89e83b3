package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type LogoutOptions struct {
	GlobalOptions
}

func DefaultLogoutOptions() *LogoutOptions {
	return &LogoutOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdLogout() *cobra.Command {
	o := DefaultLogoutOptions()
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Drop the cached credential and forget the tracked job.",
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

func (o *LogoutOptions) Run(ctx context.Context, args []string) error {
	svc, err := o.Service()
	if err != nil {
		return err
	}
	defer svc.Close()

	_, _ = svc.Attach(ctx)
	if err := svc.Session().SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(o.out, "Signed out")
	return nil
}
