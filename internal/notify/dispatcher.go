package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/orders"
)

// Direct delivers notices inline.
type Direct struct {
	chat    Chat
	mail    Mailer // optional
	refs    RefStore
	siteURL string
	logger  *zap.Logger
}

func NewDirect(chat Chat, mail Mailer, refs RefStore, siteURL string, logger *zap.Logger) *Direct {
	return &Direct{chat: chat, mail: mail, refs: refs, siteURL: siteURL, logger: logger.Named("notify")}
}

// Notify posts the order notice, remembers the message on the order, and
// mails the customer when asked to.
func (d *Direct) Notify(ctx context.Context, n Notice) error {
	var errs []error
	id := n.Order.OrderID

	msg := ChatMessage{Text: NoticeText(n)}
	if n.Controls {
		msg.MarkDoneOrderID = id
	}
	ref, err := d.chat.Post(ctx, msg)
	if err != nil {
		errs = append(errs, err)
	} else if err := d.refs.SetNotificationRef(ctx, id, ref); errors.Is(err, orders.ErrRefAlreadySet) {
		d.logger.Debug("order already has a chat message", zap.String("order_id", id), zap.Int("message_id", ref.MessageID))
	} else if err != nil {
		errs = append(errs, fmt.Errorf("save notification ref: %w", err))
	}

	if n.Email && n.Order.Contact.Email != "" && d.mail != nil {
		e, err := PaymentEmail(n, d.siteURL)
		if err == nil {
			err = d.mail.Send(ctx, e)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Complete edits the original notice in place, or the message the operator
// clicked when the order never recorded one, and mails the invoice. An order
// with neither gets a new message.
func (d *Direct) Complete(ctx context.Context, c Completion) error {
	var errs []error
	text := CompletionText(c)
	id := c.Order.OrderID

	switch {
	case c.Order.NotificationRef != nil:
		ref := c.Order.NotificationRef
		if err := d.chat.Edit(ctx, *ref, text); err != nil {
			errs = append(errs, err)
		} else if ref.HasControls {
			if err := d.refs.ClearNotificationControls(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("clear notification controls: %w", err))
			}
		}
	case c.Clicked != nil:
		ref := *c.Clicked
		if err := d.chat.Edit(ctx, ref, text); err != nil {
			errs = append(errs, err)
			break
		}
		ref.HasControls = false
		if err := d.refs.SetNotificationRef(ctx, id, ref); err != nil && !errors.Is(err, orders.ErrRefAlreadySet) {
			errs = append(errs, fmt.Errorf("save notification ref: %w", err))
		}
	default:
		if _, err := d.chat.Post(ctx, ChatMessage{Text: text}); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Order.Contact.Email != "" && d.mail != nil {
		e, err := InvoiceEmail(c, d.siteURL)
		if err == nil {
			err = d.mail.Send(ctx, e)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Direct) Alert(ctx context.Context, a Alert) error {
	if _, err := d.chat.Post(ctx, ChatMessage{Text: AlertText(a)}); err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	return nil
}
