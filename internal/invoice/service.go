// Package invoice creates orders: provider invoices for crypto payments and
// purchases paid straight from the wallet balance.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/money"
	"github.com/imrishuroy/go-topup-payflow/internal/notify"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
	"github.com/imrishuroy/go-topup-payflow/internal/wallet"
)

var (
	ErrProviderFailed  = errors.New("invoice provider failed")
	ErrMissingUser     = errors.New("user_id is required")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrTopupFromWallet = errors.New("wallet top-ups cannot be paid from the wallet")

	// ErrNotRecorded means the wallet was debited but the order could not be
	// confirmed; an alert has been raised.
	ErrNotRecorded = errors.New("payment taken but order not recorded")
)

// WalletProvider is the provider_details value for balance-paid orders.
const WalletProvider = "wallet"

// Request is what a Provider needs to open an invoice.
type Request struct {
	OrderID     string
	Description string
	Amount      money.Amount
	Currency    string
	Email       string
	CallbackURL string
}

// Invoice is the provider's answer.
type Invoice struct {
	TxnID string
	URL   string
}

// Provider opens a hosted payment page for an order.
type Provider interface {
	Name() string
	CreateInvoice(ctx context.Context, r Request) (*Invoice, error)
}

type OrderStore interface {
	Create(ctx context.Context, o orders.Order) error
	MergeProviderDetails(ctx context.Context, orderID string, details map[string]string) error
	DeletePending(ctx context.Context, orderID string) error
	Transition(ctx context.Context, orderID string, from []orders.Status, to orders.Status, updates ...orders.Update) (*orders.Order, error)
}

type Ledger interface {
	Debit(ctx context.Context, userID, orderID string, amount money.Amount) (money.Amount, error)
	Audit(ctx context.Context, orderID string) (*wallet.Entry, error)
}

// Deps groups the collaborators of a Service. Ledger and Notifier are only
// needed for Checkout, Provider only for Create.
type Deps struct {
	Orders           OrderStore
	Ledger           Ledger
	Provider         Provider
	Notifier         notify.Dispatcher
	Logger           *zap.Logger
	FeePercent       decimal.Decimal
	RechargeCategory string
	SiteURL          string
	Timeout          time.Duration
}

// Input is a validated cart.
type Input struct {
	UserID   string
	Amount   money.Amount // base, before fee
	Currency string
	Email    string
	Phone    string
	Cart     []orders.LineItem
}

type Result struct {
	OrderID     string       `json:"orderId"`
	InvoiceURL  string       `json:"invoiceUrl"`
	FinalAmount money.Amount `json:"finalAmount"`
}

type CheckoutResult struct {
	OrderID string        `json:"orderId"`
	Status  orders.Status `json:"status"`
	Balance money.Amount  `json:"balance"`
}

type Service struct {
	orders           OrderStore
	ledger           Ledger
	provider         Provider
	notifier         notify.Dispatcher
	logger           *zap.Logger
	feePercent       decimal.Decimal
	rechargeCategory string
	siteURL          string
	timeout          time.Duration
	nowFunc          func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		orders:           d.Orders,
		ledger:           d.Ledger,
		provider:         d.Provider,
		notifier:         d.Notifier,
		logger:           d.Logger,
		feePercent:       d.FeePercent,
		rechargeCategory: d.RechargeCategory,
		siteURL:          strings.TrimRight(d.SiteURL, "/"),
		timeout:          d.Timeout,
		nowFunc:          time.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("invoice")
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	return s
}

// NewOrderID returns ORD-<unix millis>-<6 hex>.
func NewOrderID(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("ORD-%d-%x", now.UnixMilli(), u[:3])
}

// Create persists a pending order and opens a provider invoice for it. The
// order is removed again if the provider refuses.
func (s *Service) Create(ctx context.Context, in Input) (*Result, error) {
	if len(in.Cart) == 0 {
		return nil, ErrEmptyCart
	}
	kind := orders.KindForCategory(in.Cart[0].Category, s.rechargeCategory)
	if kind == orders.KindWalletTopup && in.UserID == "" {
		return nil, ErrMissingUser
	}

	o := s.newOrder(in, kind)
	o.FinalAmount = in.Amount.WithFee(s.feePercent)
	o.ProviderDetails = map[string]string{orders.DetailProvider: s.provider.Name()}
	log := s.logger.With(zap.String("order_id", o.OrderID), zap.String("kind", string(kind)))

	if err := s.create(ctx, o); err != nil {
		return nil, err
	}

	c, cancel := s.callCtx(ctx)
	inv, err := s.provider.CreateInvoice(c, Request{
		OrderID:     o.OrderID,
		Description: describe(o.Cart),
		Amount:      o.FinalAmount,
		Currency:    o.Currency,
		Email:       o.Contact.Email,
		CallbackURL: s.siteURL + "/webhooks/" + s.provider.Name(),
	})
	cancel()
	if err != nil {
		log.Error("invoice creation failed", zap.Error(err))
		s.deletePending(ctx, o.OrderID, log)
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	details := map[string]string{orders.DetailTxnID: inv.TxnID, orders.DetailInvoiceURL: inv.URL}
	c, cancel = s.callCtx(ctx)
	err = s.orders.MergeProviderDetails(c, o.OrderID, details)
	cancel()
	if err != nil {
		// the webhook still finds the order by order_number
		log.Warn("failed to store invoice details", zap.Error(err))
	}

	log.Info("invoice created",
		zap.String("txn_id", inv.TxnID),
		zap.String("base_amount", o.BaseAmount.String()),
		zap.String("final_amount", o.FinalAmount.String()))
	return &Result{OrderID: o.OrderID, InvoiceURL: inv.URL, FinalAmount: o.FinalAmount}, nil
}

// Checkout pays a product purchase from the user's balance. The order is
// created pending, debited, then confirmed; the operator gets the mark-done
// control. Insufficient funds removes the order and returns
// wallet.ErrInsufficientFunds. A debit that may have gone through keeps the
// order and raises an alert.
func (s *Service) Checkout(ctx context.Context, in Input) (*CheckoutResult, error) {
	if in.UserID == "" {
		return nil, ErrMissingUser
	}
	if len(in.Cart) == 0 {
		return nil, ErrEmptyCart
	}
	kind := orders.KindForCategory(in.Cart[0].Category, s.rechargeCategory)
	if kind == orders.KindWalletTopup {
		return nil, ErrTopupFromWallet
	}

	o := s.newOrder(in, kind)
	o.Currency = "USD"
	o.FinalAmount = o.BaseAmount
	o.ProviderDetails = map[string]string{orders.DetailProvider: WalletProvider}
	log := s.logger.With(zap.String("order_id", o.OrderID), zap.String("user_id", in.UserID))

	if err := s.create(ctx, o); err != nil {
		return nil, err
	}

	c, cancel := s.callCtx(ctx)
	balance, err := s.ledger.Debit(c, in.UserID, o.OrderID, o.FinalAmount)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, wallet.ErrInsufficientFunds):
		log.Info("wallet checkout refused: insufficient funds")
		s.deletePending(ctx, o.OrderID, log)
		return nil, err
	case errors.Is(err, wallet.ErrInvalidAmount), errors.Is(err, wallet.ErrMissingUser):
		s.deletePending(ctx, o.OrderID, log)
		return nil, fmt.Errorf("debit wallet: %w", err)
	default:
		return nil, s.unsettledDebit(ctx, o, err, log)
	}

	c, cancel = s.callCtx(ctx)
	confirmed, err := s.orders.Transition(c, o.OrderID, []orders.Status{orders.StatusPending}, orders.StatusConfirmed,
		orders.WithNote("paid from wallet balance"))
	cancel()
	if err != nil {
		log.Error("wallet debited but order not confirmed", zap.Error(err))
		s.alert(ctx, o.OrderID, fmt.Sprintf("wallet of %s debited %s USD; order still pending: %v", in.UserID, o.FinalAmount, err), log)
		return nil, fmt.Errorf("%w: %v", ErrNotRecorded, err)
	}

	side, cancel := s.sideCtx(ctx)
	defer cancel()
	if err := s.notifier.Notify(side, notify.Notice{Order: *confirmed, Controls: true, Email: true}); err != nil {
		log.Warn("notification failed", zap.Error(err))
	}

	log.Info("wallet checkout confirmed", zap.String("amount", o.FinalAmount.String()), zap.String("balance", balance.String()))
	return &CheckoutResult{OrderID: o.OrderID, Status: confirmed.Status, Balance: balance}, nil
}

// unsettledDebit handles a debit error that does not say whether the
// transaction committed. The order is only removed when the ledger shows no
// entry for it.
func (s *Service) unsettledDebit(ctx context.Context, o orders.Order, cause error, log *zap.Logger) error {
	c, cancel := s.sideCtx(ctx)
	entry, err := s.ledger.Audit(c, o.OrderID)
	cancel()
	if err == nil && entry == nil {
		log.Error("wallet debit failed", zap.Error(cause))
		s.deletePending(ctx, o.OrderID, log)
		return fmt.Errorf("debit wallet: %w", cause)
	}

	state := "debit recorded in the ledger"
	if err != nil {
		state = "ledger unreadable: " + err.Error()
	}
	log.Error("wallet debit outcome unknown, keeping order", zap.Error(cause), zap.String("ledger", state))
	s.alert(ctx, o.OrderID, fmt.Sprintf("wallet debit of %s USD from %s returned %v (%s); order left pending", o.FinalAmount, o.UserID, cause, state), log)
	return fmt.Errorf("%w: %v", ErrNotRecorded, cause)
}

func (s *Service) create(ctx context.Context, o orders.Order) error {
	c, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.orders.Create(c, o); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (s *Service) deletePending(ctx context.Context, orderID string, log *zap.Logger) {
	c, cancel := s.sideCtx(ctx)
	defer cancel()
	if err := s.orders.DeletePending(c, orderID); err != nil {
		log.Error("failed to delete pending order", zap.Error(err))
	}
}

func (s *Service) alert(ctx context.Context, orderID, detail string, log *zap.Logger) {
	c, cancel := s.sideCtx(ctx)
	defer cancel()
	if err := s.notifier.Alert(c, notify.Alert{Kind: notify.AlertPersistenceFailure, OrderID: orderID, Detail: detail}); err != nil {
		log.Error("failed to send critical alert", zap.Error(err))
	}
}

func (s *Service) newOrder(in Input, kind orders.Kind) orders.Order {
	now := s.nowFunc().UTC()
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = "USD"
	}
	return orders.Order{
		OrderID:    NewOrderID(now),
		Status:     orders.StatusPending,
		Kind:       kind,
		UserID:     in.UserID,
		BaseAmount: in.Amount.Round2(),
		Currency:   currency,
		Cart:       in.Cart,
		Contact:    orders.Contact{Email: in.Email, Phone: in.Phone},
		CreatedAt:  now,
	}
}

func (s *Service) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) sideCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func describe(cart []orders.LineItem) string {
	parts := make([]string, 0, len(cart))
	for _, it := range cart {
		parts = append(parts, fmt.Sprintf("%s %s x%d", it.Game, it.Package, it.Quantity))
	}
	return strings.Join(parts, ", ")
}
