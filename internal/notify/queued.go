package notify

import (
	"context"
	"errors"
	"fmt"
)

const (
	JobNotice     = "notice"
	JobCompletion = "completion"
)

// Job is the SQS message body consumed by the notification worker.
type Job struct {
	Type       string      `json:"type"`
	Notice     *Notice     `json:"notice,omitempty"`
	Completion *Completion `json:"completion,omitempty"`
}

// Sender is satisfied by *aws.Publisher.
type Sender interface {
	SendJSON(ctx context.Context, v interface{}, attributes map[string]string) error
}

// Queued hands notices and completions to the worker through SQS. Alerts are
// never queued.
type Queued struct {
	sender Sender
	alerts *Direct
}

func NewQueued(sender Sender, alerts *Direct) *Queued {
	return &Queued{sender: sender, alerts: alerts}
}

func (q *Queued) Notify(ctx context.Context, n Notice) error {
	return q.enqueue(ctx, Job{Type: JobNotice, Notice: &n}, n.Order.OrderID)
}

func (q *Queued) Complete(ctx context.Context, c Completion) error {
	return q.enqueue(ctx, Job{Type: JobCompletion, Completion: &c}, c.Order.OrderID)
}

func (q *Queued) Alert(ctx context.Context, a Alert) error {
	return q.alerts.Alert(ctx, a)
}

func (q *Queued) enqueue(ctx context.Context, job Job, orderID string) error {
	err := q.sender.SendJSON(ctx, job, map[string]string{"job_type": job.Type, "order_id": orderID})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Type, err)
	}
	return nil
}

var ErrUnknownJob = errors.New("unknown notification job")

// Deliver runs a queued job against a dispatcher.
func Deliver(ctx context.Context, d Dispatcher, job Job) error {
	switch {
	case job.Type == JobNotice && job.Notice != nil:
		return d.Notify(ctx, *job.Notice)
	case job.Type == JobCompletion && job.Completion != nil:
		return d.Complete(ctx, *job.Completion)
	}
	return fmt.Errorf("%w: %q", ErrUnknownJob, job.Type)
}
