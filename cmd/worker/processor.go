package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/notify"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
)

type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// Processor delivers queued notification jobs.
type Processor struct {
	dispatcher notify.Dispatcher
	orders     OrderReader
	logger     *zap.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(d notify.Dispatcher, orderStore OrderReader, logger *zap.Logger) *Processor {
	return &Processor{dispatcher: d, orders: orderStore, logger: logger.Named("worker")}
}

// Handle processes an SQS batch and reports the messages that should be
// redelivered. Everything else is deleted from the queue.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("notification job will be retried", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

// processMessage returns an error only when a retry can help: the job could
// not be read, or a notice never reached the chat. A partially delivered job
// is not retried since chat posts and emails are not idempotent.
func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var job notify.Job
	if err := json.Unmarshal([]byte(rec.Body), &job); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	orderID := jobOrderID(job)
	log := p.logger.With(zap.String("order_id", orderID), zap.String("job_type", job.Type))

	if job.Type == notify.JobCompletion && job.Completion != nil {
		p.refreshRef(ctx, job.Completion, log)
	}

	err := notify.Deliver(ctx, p.dispatcher, job)
	if err == nil {
		log.Info("notification delivered")
		return nil
	}
	if job.Type == notify.JobNotice && job.Notice != nil && !p.announced(ctx, orderID) {
		return err
	}
	if job.Notice == nil && job.Completion == nil {
		return err
	}
	log.Warn("notification partially delivered", zap.Error(err))
	return nil
}

// refreshRef picks up a chat message posted after the completion was queued.
func (p *Processor) refreshRef(ctx context.Context, c *notify.Completion, log *zap.Logger) {
	if c.Order.NotificationRef != nil || p.orders == nil {
		return
	}
	o, err := p.orders.Get(ctx, c.Order.OrderID)
	if err != nil {
		log.Warn("failed to reload order", zap.Error(err))
		return
	}
	if o != nil {
		c.Order.NotificationRef = o.NotificationRef
	}
}

func (p *Processor) announced(ctx context.Context, orderID string) bool {
	if p.orders == nil {
		return false
	}
	o, err := p.orders.Get(ctx, orderID)
	return err == nil && o != nil && o.NotificationRef != nil
}

func jobOrderID(job notify.Job) string {
	switch {
	case job.Notice != nil:
		return job.Notice.Order.OrderID
	case job.Completion != nil:
		return job.Completion.Order.OrderID
	}
	return ""
}
