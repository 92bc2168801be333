package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/money"
	"github.com/imrishuroy/go-topup-payflow/internal/notify"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
)

// OrderStore is satisfied by *orders.Store.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Transition(ctx context.Context, orderID string, from []orders.Status, to orders.Status, updates ...orders.Update) (*orders.Order, error)
	Claim(ctx context.Context, orderID string, observed orders.Status, staleAfter time.Duration) (*orders.Order, error)
	Release(ctx context.Context, orderID string, restore orders.Status, note string) (*orders.Order, error)
	MergeProviderDetails(ctx context.Context, orderID string, details map[string]string) error
}

// Ledger is satisfied by *wallet.Ledger.
type Ledger interface {
	Credit(ctx context.Context, userID, orderID string, amount money.Amount) (money.Amount, error)
}

// RateSource is satisfied by *rates.Store.
type RateSource interface {
	GetOrDefault(ctx context.Context) (decimal.Decimal, error)
}

// Journal is satisfied by *idempotency.Store.
type Journal interface {
	Begin(ctx context.Context, key, orderID string) (bool, error)
	MarkDone(ctx context.Context, key, outcome string) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Metrics is satisfied by *aws.Metrics.
type Metrics interface {
	Count(ctx context.Context, metric, dimName, dimValue string) error
}

// Deps wires an Engine. Journal and Metrics are optional.
type Deps struct {
	Orders   OrderStore
	Ledger   Ledger
	Rates    RateSource
	Notifier notify.Dispatcher
	Journal  Journal
	Metrics  Metrics
	Logger   *zap.Logger

	// Secrets maps provider name to its webhook secret.
	Secrets map[string]string
	// Timeout bounds every store, ledger and notification call.
	Timeout time.Duration
	// ClaimTimeout is how long a crediting claim is honoured before another
	// request may take it over.
	ClaimTimeout time.Duration
}
