package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kubev2v/doctrack/internal/poller"
	"github.com/kubev2v/doctrack/internal/progress"
)

const approvalNotice = "Your account is awaiting approval. Jobs can be submitted once an administrator grants access."

// consoleRenderer prints scheduler events for one job as lines of text and
// reports the terminal event on done.
type consoleRenderer struct {
	out       io.Writer
	humanizer *progress.Humanizer

	lock        sync.Mutex
	jobID       string
	lastLine    string
	approvalMsg bool
	done        chan poller.Event
}

func newConsoleRenderer(out io.Writer, humanizer *progress.Humanizer) *consoleRenderer {
	return &consoleRenderer{
		out:       out,
		humanizer: humanizer,
		done:      make(chan poller.Event, 1),
	}
}

// Follow restricts the output to jobID.
func (r *consoleRenderer) Follow(jobID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.jobID = jobID
	r.lastLine = ""
}

func (r *consoleRenderer) Done() <-chan poller.Event {
	return r.done
}

func (r *consoleRenderer) Listen(e poller.Event) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.jobID != "" && e.JobID != r.jobID {
		return
	}

	switch e.Kind {
	case poller.EventProgress:
		r.approvalMsg = false
		if e.Update != nil {
			r.print(progressLine(e.Update))
		}
	case poller.EventFinalizing:
		r.print(fmt.Sprintf("%s  %3d%%  %s", e.JobID, 100, r.humanizer.Sprintf("Finalizing")))
	case poller.EventRetrying:
		r.print(fmt.Sprintf("%s  connection problem, retrying in %s", e.JobID, e.Delay.Round(100*time.Millisecond)))
	case poller.EventError:
		r.print(fmt.Sprintf("%s  %s, retrying in %s", e.JobID, e.Message, e.Delay.Round(100*time.Millisecond)))
	case poller.EventApprovalPending:
		// the notice stays until a regular update arrives
		if !r.approvalMsg {
			r.approvalMsg = true
			r.print(approvalNotice)
		}
	case poller.EventTerminated:
		r.print(terminatedLine(e))
		select {
		case r.done <- e:
		default:
		}
	}
}

func (r *consoleRenderer) print(line string) {
	if line == "" || line == r.lastLine {
		return
	}
	r.lastLine = line
	fmt.Fprintln(r.out, line)
}

func progressLine(u *progress.Update) string {
	parts := []string{fmt.Sprintf("%s  %3d%%", u.JobID, u.Progress)}
	if u.Stage != "" {
		parts = append(parts, u.Stage)
	} else if u.Status != "" {
		parts = append(parts, strings.ToLower(u.Status.String()))
	}
	return strings.Join(parts, "  ")
}

func terminatedLine(e poller.Event) string {
	switch e.Reason {
	case poller.ReasonCompleted:
		if e.Update != nil && e.Update.OutputLocation != "" {
			return fmt.Sprintf("%s  completed: %s", e.JobID, e.Update.OutputLocation)
		}
		return fmt.Sprintf("%s  completed", e.JobID)
	case poller.ReasonFailed:
		msg := e.Message
		if e.Update != nil && e.Update.Message != "" {
			msg = e.Update.Message
		}
		return fmt.Sprintf("%s  failed: %s", e.JobID, msg)
	case poller.ReasonCancelled:
		return fmt.Sprintf("%s  cancelled", e.JobID)
	case poller.ReasonSignedOut:
		return "signed out: the credential was rejected, run login again"
	case poller.ReasonMissing:
		return fmt.Sprintf("%s  no longer exists", e.JobID)
	case poller.ReasonStopped:
		return fmt.Sprintf("%s  stopped tracking, resume with: doctrack track", e.JobID)
	}
	return ""
}
