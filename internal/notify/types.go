// Package notify delivers order notices to the operator chat and customer
// email. Delivery is best-effort: callers log failures and move on.
package notify

import (
	"context"

	"github.com/imrishuroy/go-topup-payflow/internal/money"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
)

// CreditOutcome describes what happened to a wallet top-up's credit.
type CreditOutcome struct {
	AmountUSD       money.Amount  `json:"amount_usd"`
	Balance         *money.Amount `json:"balance,omitempty"`
	Error           string        `json:"error,omitempty"`
	AlreadyCredited bool          `json:"already_credited,omitempty"`
	// FeeInclusive is set when base_amount was missing and final_amount was credited.
	FeeInclusive bool `json:"fee_inclusive,omitempty"`
}

func (c *CreditOutcome) Succeeded() bool { return c != nil && c.Error == "" }

// Notice reports an order's status after reconciliation or checkout.
type Notice struct {
	Order    orders.Order   `json:"order"`
	Credit   *CreditOutcome `json:"credit,omitempty"`
	Controls bool           `json:"controls"` // attach the mark-done button
	Email    bool           `json:"email"`    // also mail the customer
}

// Completion reports an operator's mark-done.
type Completion struct {
	Order    orders.Order   `json:"order"`
	Credit   *CreditOutcome `json:"credit,omitempty"`
	Operator string         `json:"operator,omitempty"`

	// Clicked is the chat message the operator pressed the button on.
	Clicked *orders.NotificationRef `json:"clicked,omitempty"`
}

type AlertKind string

const (
	AlertCreditingFailure   AlertKind = "crediting_failure"
	AlertPersistenceFailure AlertKind = "persistence_failure"
	AlertOperatorFailure    AlertKind = "operator_failure"
)

// Alert is a critical operator-facing message: money or state may be
// inconsistent and needs a human.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	OrderID string    `json:"order_id"`
	Detail  string    `json:"detail"`
}

// Dispatcher is implemented by Direct and Queued.
type Dispatcher interface {
	Notify(ctx context.Context, n Notice) error
	Complete(ctx context.Context, c Completion) error
	Alert(ctx context.Context, a Alert) error
}

// ChatMessage is one operator chat post. A non-empty MarkDoneOrderID attaches
// the mark-done button for that order.
type ChatMessage struct {
	Text            string
	MarkDoneOrderID string
}

// Chat sends and edits operator chat messages.
type Chat interface {
	Post(ctx context.Context, m ChatMessage) (orders.NotificationRef, error)
	// Edit replaces the text of a message and drops its buttons.
	Edit(ctx context.Context, ref orders.NotificationRef, text string) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// RefStore records where an order's chat message lives.
type RefStore interface {
	SetNotificationRef(ctx context.Context, orderID string, ref orders.NotificationRef) error
	ClearNotificationControls(ctx context.Context, orderID string) error
}
