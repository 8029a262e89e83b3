package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/kubev2v/doctrack/internal/agent"
	"github.com/spf13/cobra"
)

type VersionOptions struct {
	out io.Writer
}

func DefaultVersionOptions() *VersionOptions {
	return &VersionOptions{}
}

func NewCmdVersion() *cobra.Command {
	o := DefaultVersionOptions()
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print doctrack version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.out = cmd.OutOrStdout()
			return o.Run(cmd.Context(), args)
		},
	}
	return cmd
}

func (o *VersionOptions) Run(ctx context.Context, args []string) error {
	fmt.Fprintf(o.out, "doctrack version: %s (%s/%s)\n", agent.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}
