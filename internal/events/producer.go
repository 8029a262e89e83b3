package events

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/kubev2v/doctrack/internal/poller"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	ProgressMessageKind   string = "doctrack.job.progress"
	FinalizingMessageKind string = "doctrack.job.finalizing"
	RetryingMessageKind   string = "doctrack.job.retrying"
	ApprovalMessageKind   string = "doctrack.job.approval-pending"
	ErrorMessageKind      string = "doctrack.job.error"
	TerminatedMessageKind string = "doctrack.job.terminated"
	defaultTopic          string = "doctrack.jobs"
	defaultSource         string = "doctrack.agent"
)

// Writer is the interface to be implemented by the underlying writer.
type Writer interface {
	Write(ctx context.Context, topic string, e cloudevents.Event) error
	Close(ctx context.Context) error
}

// EventProducer is a wrapper around a Writer with a buffer, so callers are
// never blocked by a slow writer.
type EventProducer struct {
	buffer           *buffer
	startConsumingCh chan any
	doneCh           chan any
	stoppedCh        chan any
	writer           Writer
	topic            string
	source           string
}

func NewEventProducer(w Writer, opts ...ProducerOptions) *EventProducer {
	ep := &EventProducer{
		buffer:           newBuffer(),
		startConsumingCh: make(chan any, 1),
		doneCh:           make(chan any),
		stoppedCh:        make(chan any),
		writer:           w,
		topic:            defaultTopic,
		source:           defaultSource,
	}

	for _, o := range opts {
		o(ep)
	}

	go ep.run()
	return ep
}

func (ep *EventProducer) Write(ctx context.Context, kind string, body io.Reader) error {
	return ep.write(kind, "", body)
}

func (ep *EventProducer) write(kind, subject string, body io.Reader) error {
	d, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	if err := ep.buffer.PushBack(&message{
		Kind:    kind,
		Subject: subject,
		Data:    d,
	}); err != nil {
		return err
	}

	// wake up the consumer if it is idle
	select {
	case ep.startConsumingCh <- struct{}{}:
	default:
	}

	return nil
}

// Listener publishes scheduler events.
func (ep *EventProducer) Listener() poller.Listener {
	return func(e poller.Event) {
		data, err := json.Marshal(newJobEvent(e))
		if err != nil {
			zap.S().Named("event_producer").Errorw("failed to marshal job event", "error", err)
			return
		}
		if err := ep.write(MessageKind(e.Kind), e.JobID, bytes.NewReader(data)); err != nil {
			zap.S().Named("event_producer").Errorw("failed to buffer job event", "error", err)
		}
	}
}

// Close flushes the pending events and closes the writer.
func (ep *EventProducer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		close(ep.doneCh)
		select {
		case <-ep.stoppedCh:
		case <-ctx.Done():
			return ctx.Err()
		}
		return ep.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		zap.S().Named("event_producer").Errorf("event producer closed with error: %s", err)
		return err
	}

	zap.S().Named("event_producer").Info("event producer closed")

	return nil
}

func (ep *EventProducer) run() {
	defer close(ep.stoppedCh)

	for {
		msg := ep.buffer.Pop()
		if msg == nil {
			select {
			case <-ep.startConsumingCh:
				continue
			case <-ep.doneCh:
				ep.flush()
				return
			}
		}
		ep.send(msg)
	}
}

func (ep *EventProducer) flush() {
	for msg := ep.buffer.Pop(); msg != nil; msg = ep.buffer.Pop() {
		ep.send(msg)
	}
}

func (ep *EventProducer) send(msg *message) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(ep.source)
	e.SetType(msg.Kind)
	if msg.Subject != "" {
		e.SetSubject(msg.Subject)
	}
	_ = e.SetData(*cloudevents.StringOfApplicationJSON(), msg.Data)

	if err := ep.writer.Write(context.TODO(), ep.topic, e); err != nil {
		zap.S().Named("event_producer").Errorw("failed to send message", "error", err, "type", msg.Kind)
	}
}
