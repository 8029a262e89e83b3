package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/kubev2v/doctrack/internal/client"
	"github.com/kubev2v/doctrack/internal/job"
	"github.com/kubev2v/doctrack/internal/progress"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ListOptions struct {
	GlobalOptions

	Output  string
	JobType string
	Status  string
	Limit   int
	Offset  int
}

func DefaultListOptions() *ListOptions {
	return &ListOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Limit:         20,
	}
}

func NewCmdList() *cobra.Command {
	o := DefaultListOptions()
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your jobs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *ListOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
	fs.StringVarP(&o.JobType, "type", "t", o.JobType, "Only list jobs of this type")
	fs.StringVarP(&o.Status, "status", "s", o.Status, "Only list jobs in this status")
	fs.IntVar(&o.Limit, "limit", o.Limit, "Maximum number of jobs to list (0-100)")
	fs.IntVar(&o.Offset, "offset", o.Offset, "Number of jobs to skip")
}

func (o *ListOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	return validateOutput(o.Output)
}

func (o *ListOptions) Run(ctx context.Context, args []string) error {
	svc, err := o.Service()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := attach(ctx, svc); err != nil {
		return err
	}

	result, err := svc.Client().ListJobs(ctx, client.ListParams{
		JobType: job.Type(strings.ToUpper(o.JobType)),
		Status:  job.Status(strings.ToUpper(o.Status)),
		Limit:   o.Limit,
		Offset:  o.Offset,
	})
	if err != nil {
		return err
	}
	if !result.Response.OK() {
		return fmt.Errorf("listing jobs: %s", result.Response.Message())
	}

	views := make([]jobView, 0, len(result.Page.Jobs))
	for _, j := range result.Page.Jobs {
		views = append(views, newJobView(j, progress.NewMachine(progress.WithHumanizer(svc.Humanizer()))))
	}
	if err := printJobs(o.out, o.Output, views, false); err != nil {
		return err
	}
	if result.Page.HasMore && o.Output == "" {
		fmt.Fprintf(o.out, "\nMore jobs available, use --offset %d\n", result.Page.NextOffset)
	}
	return nil
}
