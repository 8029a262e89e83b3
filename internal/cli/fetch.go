package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/kubev2v/doctrack/internal/agent/fileio"
	"github.com/kubev2v/doctrack/internal/artifact"
	"github.com/kubev2v/doctrack/internal/job"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type FetchOptions struct {
	GlobalOptions

	OutputPath string
}

func DefaultFetchOptions() *FetchOptions {
	return &FetchOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdFetch() *cobra.Command {
	o := DefaultFetchOptions()
	cmd := &cobra.Command{
		Use:   "fetch ID",
		Short: "Download the result of a completed job.",
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

func (o *FetchOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.OutputPath, "file", "f", o.OutputPath, "Where to write the result. Defaults to the result name in the current directory")
}

func (o *FetchOptions) Run(ctx context.Context, args []string) error {
	svc, err := o.Service()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := attach(ctx, svc); err != nil {
		return err
	}

	snap, err := getJob(ctx, svc.Client(), args[0])
	if err != nil {
		return err
	}
	if snap.Status != job.StatusCompleted {
		return fmt.Errorf("job %s is %s, only completed jobs have a result", snap.ID, snap.Status)
	}
	if snap.OutputLocation == "" {
		return fmt.Errorf("job %s has no result location", snap.ID)
	}

	target := o.OutputPath
	if target == "" {
		target = artifact.FileName(snap.OutputLocation, resultName(snap))
	}

	n, err := fileio.NewWriter().WriteStream(target, func(dst io.Writer) (int64, error) {
		return svc.Artifacts().Download(ctx, snap.OutputLocation, dst)
	})
	if err != nil {
		return fmt.Errorf("downloading result of job %s: %w", snap.ID, err)
	}
	fmt.Fprintf(o.out, "Wrote %d bytes to %s\n", n, target)
	return nil
}

func resultName(snap job.Job) string {
	base := snap.Filename
	if base == "" {
		base = snap.ID
	}
	return base[:len(base)-len(filepath.Ext(base))] + ".txt"
}
