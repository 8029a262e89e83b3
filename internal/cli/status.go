package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kubev2v/doctrack/internal/client"
	"github.com/kubev2v/doctrack/internal/job"
	"github.com/kubev2v/doctrack/internal/progress"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"
)

type StatusOptions struct {
	GlobalOptions

	Output string
}

func DefaultStatusOptions() *StatusOptions {
	return &StatusOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdStatus() *cobra.Command {
	o := DefaultStatusOptions()
	cmd := &cobra.Command{
		Use:   "status ID",
		Short: "Display the current state of a job.",
		Args:  cobra.ExactArgs(1),
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

func (o *StatusOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *StatusOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	return validateOutput(o.Output)
}

func (o *StatusOptions) Run(ctx context.Context, args []string) error {
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
	view := newJobView(snap, progress.NewMachine(progress.WithHumanizer(svc.Humanizer())))
	return printJobs(o.out, o.Output, []jobView{view}, true)
}

// getJob fetches one snapshot and turns every non-2xx answer into an error.
func getJob(ctx context.Context, c *client.Client, jobID string) (job.Job, error) {
	resp, err := c.GetStatus(ctx, jobID)
	if err != nil {
		return job.Job{}, fmt.Errorf("reading job %s: %w", jobID, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return job.Job{}, fmt.Errorf("job %s not found", jobID)
	case !resp.OK():
		return job.Job{}, fmt.Errorf("reading job %s: %s", jobID, resp.Message())
	}
	record, err := resp.Record()
	if err != nil {
		return job.Job{}, fmt.Errorf("reading job %s: %w", jobID, err)
	}
	snap := job.Resolve(record)
	if snap.ID == "" {
		snap.ID = jobID
	}
	return snap, nil
}

type jobView struct {
	ID             string     `json:"id"`
	Type           job.Type   `json:"type,omitempty"`
	Status         job.Status `json:"status"`
	Progress       int        `json:"progress"`
	Stage          string     `json:"stage,omitempty"`
	Filename       string     `json:"filename,omitempty"`
	OutputLocation string     `json:"outputLocation,omitempty"`
	Message        string     `json:"message,omitempty"`
	QueuePosition  *int       `json:"queuePosition,omitempty"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// newJobView runs snap through a fresh machine so the displayed values follow
// the same rules as tracking.
func newJobView(snap job.Job, m *progress.Machine) jobView {
	u := m.Apply(snap)
	v := jobView{
		ID:             snap.ID,
		Type:           snap.Type,
		Status:         snap.Status,
		Progress:       u.Progress,
		Stage:          u.Stage,
		Filename:       snap.Filename,
		OutputLocation: snap.OutputLocation,
		Message:        u.Message,
		QueuePosition:  snap.QueuePosition,
	}
	if !snap.UpdatedAt.IsZero() {
		t := snap.UpdatedAt
		v.UpdatedAt = &t
	}
	return v
}

// printJobs writes jobs as a table, or as json/yaml. single prints the first
// job as an object instead of a list.
func printJobs(out io.Writer, output string, jobs []jobView, single bool) error {
	var data any = jobs
	if single && len(jobs) > 0 {
		data = jobs[0]
	}

	switch output {
	case jsonFormat:
		marshalled, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshalling jobs: %w", err)
		}
		fmt.Fprintf(out, "%s\n", string(marshalled))
		return nil
	case yamlFormat:
		marshalled, err := yaml.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshalling jobs: %w", err)
		}
		fmt.Fprintf(out, "%s", string(marshalled))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPROGRESS\tSTAGE\tFILENAME")
	for _, j := range jobs {
		stage := j.Stage
		if j.Message != "" {
			stage = j.Message
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\n", j.ID, j.Type, j.Status, j.Progress, stage, j.Filename)
	}
	return w.Flush()
}
