package notify

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/orders"
)

// LogChat stands in for the operator chat when no bot is configured. Messages
// go to the log; refs get increasing fake message ids and no chat id.
type LogChat struct {
	logger *zap.Logger
	seq    atomic.Int64
}

func NewLogChat(logger *zap.Logger) *LogChat {
	return &LogChat{logger: logger.Named("chat")}
}

func (l *LogChat) Post(ctx context.Context, m ChatMessage) (orders.NotificationRef, error) {
	id := int(l.seq.Add(1))
	l.logger.Warn("operator chat disabled, message not sent",
		zap.Int("message_id", id),
		zap.String("mark_done_order_id", m.MarkDoneOrderID),
		zap.String("text", m.Text))
	return orders.NotificationRef{MessageID: id, HasControls: m.MarkDoneOrderID != ""}, nil
}

func (l *LogChat) Edit(ctx context.Context, ref orders.NotificationRef, text string) error {
	l.logger.Warn("operator chat disabled, edit not sent", zap.Int("message_id", ref.MessageID), zap.String("text", text))
	return nil
}
