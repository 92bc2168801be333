// Package reconcile turns verified payment events and operator actions into
// order transitions and at-most-once wallet credits.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/idempotency"
	"github.com/imrishuroy/go-topup-payflow/internal/money"
	"github.com/imrishuroy/go-topup-payflow/internal/notify"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
	"github.com/imrishuroy/go-topup-payflow/internal/signature"
	"github.com/imrishuroy/go-topup-payflow/internal/wallet"
	"github.com/imrishuroy/go-topup-payflow/internal/webhook"
)

// Outcome is what a webhook delivery or operator action did to an order.
type Outcome string

const (
	OutcomeRejected     Outcome = "rejected"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomePending      Outcome = "pending_confirmation"
	OutcomeFailed       Outcome = "failed"
	OutcomeConfirmed    Outcome = "confirmed"
	OutcomeDone         Outcome = "done"
	OutcomeErrorBalance Outcome = "confirmed_error_balance"
	OutcomeErrorDB      Outcome = "confirmed_error_db"
	OutcomeError        Outcome = "error"
)

const (
	metricOutcome  = "ReconcileOutcome"
	metricCritical = "CriticalAlert"
)

// Engine reconciles provider webhooks and operator confirmations.
type Engine struct {
	orders       OrderStore
	ledger       Ledger
	rates        RateSource
	notifier     notify.Dispatcher
	journal      Journal
	metrics      Metrics
	logger       *zap.Logger
	secrets      map[string]string
	timeout      time.Duration
	claimTimeout time.Duration
	nowFunc      func() time.Time
}

func NewEngine(d Deps) *Engine {
	e := &Engine{
		orders:       d.Orders,
		ledger:       d.Ledger,
		rates:        d.Rates,
		notifier:     d.Notifier,
		journal:      d.Journal,
		metrics:      d.Metrics,
		logger:       d.Logger,
		secrets:      d.Secrets,
		timeout:      d.Timeout,
		claimTimeout: d.ClaimTimeout,
		nowFunc:      time.Now,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("reconcile")
	if e.timeout <= 0 {
		e.timeout = 5 * time.Second
	}
	if e.claimTimeout <= 0 {
		e.claimTimeout = 2 * time.Minute
	}
	return e
}

// Receive authenticates a raw provider callback and reconciles it. Every
// error except webhook.ErrUnparseable should still be acknowledged to the
// provider; see Acknowledged.
func (e *Engine) Receive(ctx context.Context, provider, contentType string, body []byte, headerSignature string) (Outcome, error) {
	log := e.logger.With(zap.String("provider", provider))

	scheme, err := signature.For(provider)
	if err != nil {
		return OutcomeRejected, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	secret := e.secrets[scheme.Name()]
	if secret == "" {
		return OutcomeRejected, fmt.Errorf("%w: %s", ErrMissingSecret, scheme.Name())
	}

	fields, err := webhook.ParseBody(contentType, body)
	if err != nil {
		return OutcomeRejected, err
	}
	ev := webhook.NewEvent(scheme.Name(), fields, scheme.SignatureField())
	if ev.Signature == "" {
		ev.Signature = headerSignature
	}
	if ev.Signature == "" || ev.OrderID == "" {
		log.Warn("malformed webhook", zap.String("order_id", ev.OrderID), zap.Bool("has_signature", ev.Signature != ""))
		return OutcomeRejected, ErrMalformedWebhook
	}

	ok, err := signature.Verify(scheme, fields, ev.Signature, secret)
	if err != nil || !ok {
		log.Warn("webhook signature rejected",
			zap.String("event", "security"),
			zap.String("order_id", ev.OrderID),
			zap.String("status", ev.Status),
			zap.Error(err),
		)
		e.count(ctx, metricOutcome, "Outcome", string(OutcomeRejected))
		return OutcomeRejected, ErrInvalidSignature
	}

	key := idempotency.Key(ev.Provider, ev.OrderID, ev.TxnID, ev.Status)
	if e.journal != nil {
		jctx, cancel := e.callCtx(ctx)
		claimed, err := e.journal.Begin(jctx, key, ev.OrderID)
		cancel()
		switch {
		case err != nil:
			// the journal is a fast path; order CAS still guards correctness
			log.Warn("delivery journal unavailable", zap.Error(err))
		case !claimed:
			log.Info("duplicate delivery", zap.String("order_id", ev.OrderID), zap.String("key", key))
			e.count(ctx, metricOutcome, "Outcome", string(OutcomeDuplicate))
			return OutcomeDuplicate, nil
		}
	}

	outcome, herr := e.HandleEvent(ctx, ev)

	if e.journal != nil {
		jctx, cancel := e.callCtx(ctx)
		var jerr error
		if Acknowledged(herr) {
			jerr = e.journal.MarkDone(jctx, key, string(outcome))
		} else {
			jerr = e.journal.MarkFailed(jctx, key, herr.Error())
		}
		cancel()
		if jerr != nil {
			log.Warn("delivery journal update failed", zap.String("key", key), zap.Error(jerr))
		}
	}
	return outcome, herr
}

// HandleEvent applies a verified event to its order.
func (e *Engine) HandleEvent(ctx context.Context, ev webhook.Event) (outcome Outcome, err error) {
	if ev.OrderID == "" {
		return OutcomeRejected, ErrMalformedWebhook
	}
	log := e.logger.With(zap.String("order_id", ev.OrderID), zap.String("status", ev.Status), zap.String("provider", ev.Provider))
	defer func() {
		e.count(ctx, metricOutcome, "Outcome", string(outcome))
		switch {
		case err == nil:
			log.Info("webhook reconciled", zap.String("outcome", string(outcome)))
		case errors.Is(err, ErrOrderNotFound):
			log.Warn("webhook for unknown order")
		default:
			log.Error("webhook reconciliation failed", zap.String("outcome", string(outcome)), zap.Error(err))
		}
	}()

	switch ev.Status {
	case "completed", "amount_check":
		return e.confirm(ctx, ev)
	case "pending":
		return e.markPending(ctx, ev)
	case "mismatch", "expired", "error", "cancelled":
		return e.markFailed(ctx, ev)
	}
	return OutcomeIgnored, nil
}

func (e *Engine) markPending(ctx context.Context, ev webhook.Event) (Outcome, error) {
	o, err := e.load(ctx, ev.OrderID)
	if err != nil {
		return outcomeFor(err), err
	}
	if o.Status != orders.StatusPending {
		e.mergeDetails(ctx, ev)
		return OutcomeDuplicate, nil
	}
	c, cancel := e.callCtx(ctx)
	defer cancel()
	_, err = e.orders.Transition(c, o.OrderID, []orders.Status{orders.StatusPending}, orders.StatusPendingConfirmation,
		orders.WithProviderDetails(ev.Details()))
	if errors.Is(err, orders.ErrStatusMismatch) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return OutcomeError, err
	}
	return OutcomePending, nil
}

func (e *Engine) markFailed(ctx context.Context, ev webhook.Event) (Outcome, error) {
	target, err := orders.FailedStatus(ev.Status)
	if err != nil {
		return OutcomeIgnored, nil
	}
	o, err := e.load(ctx, ev.OrderID)
	if err != nil {
		return outcomeFor(err), err
	}
	if o.Status != orders.StatusPending && o.Status != orders.StatusPendingConfirmation {
		// a failure report never overrides an order that already moved on
		e.mergeDetails(ctx, ev)
		return OutcomeDuplicate, nil
	}
	c, cancel := e.callCtx(ctx)
	defer cancel()
	_, err = e.orders.Transition(c, o.OrderID, []orders.Status{o.Status}, target,
		orders.WithProviderDetails(ev.Details()),
		orders.WithNote("provider reported "+ev.Status))
	if errors.Is(err, orders.ErrStatusMismatch) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return OutcomeError, err
	}
	return OutcomeFailed, nil
}

func (e *Engine) confirm(ctx context.Context, ev webhook.Event) (Outcome, error) {
	o, err := e.load(ctx, ev.OrderID)
	if err != nil {
		return outcomeFor(err), err
	}
	details := ev.Details()

	switch o.Status {
	case orders.StatusDone, orders.StatusConfirmed, orders.StatusConfirmedErrorBalance, orders.StatusConfirmedErrorDB:
		e.mergeDetails(ctx, ev)
		return OutcomeDuplicate, nil
	case orders.StatusCrediting:
		if !e.claimStale(o) {
			e.mergeDetails(ctx, ev)
			return OutcomeDuplicate, nil
		}
	}

	if o.Kind != orders.KindWalletTopup {
		c, cancel := e.callCtx(ctx)
		updated, err := e.orders.Transition(c, o.OrderID, []orders.Status{o.Status}, orders.StatusConfirmed,
			orders.WithProviderDetails(details))
		cancel()
		if errors.Is(err, orders.ErrStatusMismatch) || errors.Is(err, orders.ErrInvalidTransition) {
			return OutcomeDuplicate, nil
		}
		if err != nil {
			return OutcomeError, err
		}
		e.notify(ctx, notify.Notice{Order: *updated, Controls: true, Email: true})
		return OutcomeConfirmed, nil
	}

	return e.creditTopup(ctx, o, details)
}

func (e *Engine) creditTopup(ctx context.Context, o *orders.Order, details map[string]string) (Outcome, error) {
	log := e.logger.With(zap.String("order_id", o.OrderID))
	amount, feeInclusive, convErr := e.creditAmount(ctx, o)
	credit := &notify.CreditOutcome{AmountUSD: amount, FeeInclusive: feeInclusive}

	var invalid string
	switch {
	case o.UserID == "":
		invalid = "wallet top-up has no user id"
	case convErr != nil:
		invalid = convErr.Error()
	case !amount.IsPositive():
		invalid = "credit amount is not positive"
	}
	if invalid != "" {
		c, cancel := e.callCtx(ctx)
		updated, err := e.orders.Transition(c, o.OrderID, []orders.Status{o.Status}, orders.StatusConfirmedErrorBalance,
			orders.WithProviderDetails(details), orders.WithNote(invalid))
		cancel()
		if errors.Is(err, orders.ErrStatusMismatch) {
			return OutcomeDuplicate, nil
		}
		if err != nil {
			return OutcomeError, err
		}
		credit.Error = invalid
		e.notify(ctx, notify.Notice{Order: *updated, Credit: credit})
		return OutcomeErrorBalance, nil
	}

	c, cancel := e.callCtx(ctx)
	claimed, err := e.orders.Claim(c, o.OrderID, o.Status, e.claimTimeout)
	cancel()
	if errors.Is(err, orders.ErrStatusMismatch) || errors.Is(err, orders.ErrInvalidTransition) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return OutcomeError, err
	}

	c, cancel = e.callCtx(ctx)
	balance, err := e.ledger.Credit(c, o.UserID, o.OrderID, amount)
	cancel()
	switch {
	case err == nil:
		credit.Balance = &balance
	case errors.Is(err, wallet.ErrAlreadyCredited):
		log.Warn("ledger already holds a credit for this order")
		credit.AlreadyCredited = true
	default:
		credit.Error = err.Error()
		c, cancel := e.callCtx(ctx)
		updated, terr := e.orders.Transition(c, o.OrderID, []orders.Status{orders.StatusCrediting}, orders.StatusConfirmedErrorBalance,
			orders.WithProviderDetails(details), orders.WithNote("wallet credit failed: "+err.Error()))
		cancel()
		if terr != nil {
			log.Error("could not record crediting failure", zap.Error(terr))
			e.saveDetails(ctx, o.OrderID, details)
			updated = claimed
		}
		e.alert(ctx, notify.AlertCreditingFailure, o.OrderID,
			fmt.Sprintf("webhook credit of %s USD to %s failed: %v", amount, o.UserID, err))
		e.notify(ctx, notify.Notice{Order: *updated, Credit: credit})
		return OutcomeErrorBalance, fmt.Errorf("%w: %v", ErrCreditingFailure, err)
	}

	c, cancel = e.callCtx(ctx)
	updated, err := e.orders.Transition(c, o.OrderID, []orders.Status{orders.StatusCrediting}, orders.StatusDone,
		orders.WithCredit(amount, e.nowFunc()), orders.WithProviderDetails(details))
	cancel()
	if err != nil {
		return e.persistenceFailure(ctx, claimed, amount, credit, details, err)
	}
	e.notify(ctx, notify.Notice{Order: *updated, Credit: credit, Email: true})
	return OutcomeDone, nil
}

// persistenceFailure handles a credit that went through while the order could
// not be moved to done.
func (e *Engine) persistenceFailure(ctx context.Context, claimed *orders.Order, amount money.Amount, credit *notify.CreditOutcome, details map[string]string, cause error) (Outcome, error) {
	c, cancel := e.callCtx(ctx)
	updated, err := e.orders.Transition(c, claimed.OrderID, []orders.Status{orders.StatusCrediting}, orders.StatusConfirmedErrorDB,
		orders.WithCredit(amount, e.nowFunc()), orders.WithProviderDetails(details),
		orders.WithNote("credited but status update failed: "+cause.Error()))
	cancel()
	if err != nil {
		e.logger.Error("could not record persistence failure", zap.String("order_id", claimed.OrderID), zap.Error(err))
		e.saveDetails(ctx, claimed.OrderID, details)
		updated = claimed
	}
	e.alert(ctx, notify.AlertPersistenceFailure, claimed.OrderID,
		fmt.Sprintf("credited %s USD to %s but the order was not marked done: %v", amount, claimed.UserID, cause))
	e.notify(ctx, notify.Notice{Order: *updated, Credit: credit})
	return OutcomeErrorDB, fmt.Errorf("%w: %v", ErrPersistenceFailure, cause)
}

// creditAmount is base_amount, or final_amount when base is missing, converted
// to USD at the stored rate for non-USD orders.
func (e *Engine) creditAmount(ctx context.Context, o *orders.Order) (money.Amount, bool, error) {
	amount := o.BaseAmount
	feeInclusive := false
	if !amount.IsPositive() {
		amount = o.FinalAmount
		feeInclusive = true
		e.logger.Warn("base amount missing, crediting fee-inclusive final amount",
			zap.String("order_id", o.OrderID), zap.Stringer("final_amount", o.FinalAmount))
	}
	if o.Currency == "" || strings.EqualFold(o.Currency, "USD") {
		return amount.Round2(), feeInclusive, nil
	}
	c, cancel := e.callCtx(ctx)
	defer cancel()
	rate, err := e.rates.GetOrDefault(c)
	if err != nil {
		e.logger.Warn("exchange rate unavailable, using default",
			zap.String("order_id", o.OrderID), zap.Stringer("rate", rate), zap.Error(err))
	}
	usd, err := amount.DivRate(rate)
	if err != nil {
		return money.Zero, feeInclusive, err
	}
	return usd, feeInclusive, nil
}

func (e *Engine) claimStale(o *orders.Order) bool {
	return o.ClaimedAt == 0 || e.nowFunc().Sub(time.UnixMilli(o.ClaimedAt)) > e.claimTimeout
}

func (e *Engine) load(ctx context.Context, orderID string) (*orders.Order, error) {
	c, cancel := e.callCtx(ctx)
	defer cancel()
	o, err := e.orders.Get(c, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return o, nil
}

func (e *Engine) mergeDetails(ctx context.Context, ev webhook.Event) {
	e.saveDetails(ctx, ev.OrderID, ev.Details())
}

func (e *Engine) saveDetails(ctx context.Context, orderID string, details map[string]string) {
	c, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.orders.MergeProviderDetails(c, orderID, details); err != nil {
		e.logger.Warn("could not store provider details", zap.String("order_id", orderID), zap.Error(err))
	}
}

// callCtx bounds one outbound call.
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// sideCtx outlives the request so notifications still go out after the
// provider has been answered.
func (e *Engine) sideCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
}

func (e *Engine) notify(ctx context.Context, n notify.Notice) {
	c, cancel := e.sideCtx(ctx)
	defer cancel()
	if err := e.notifier.Notify(c, n); err != nil {
		e.logger.Warn("notification failed",
			zap.String("order_id", n.Order.OrderID),
			zap.Error(fmt.Errorf("%w: %v", ErrNotificationFailure, err)))
	}
}

func (e *Engine) alert(ctx context.Context, kind notify.AlertKind, orderID, detail string) {
	c, cancel := e.sideCtx(ctx)
	defer cancel()
	e.logger.Error("critical alert", zap.String("kind", string(kind)), zap.String("order_id", orderID), zap.String("detail", detail))
	e.count(c, metricCritical, "Kind", string(kind))
	if err := e.notifier.Alert(c, notify.Alert{Kind: kind, OrderID: orderID, Detail: detail}); err != nil {
		e.logger.Error("critical alert delivery failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (e *Engine) count(ctx context.Context, metric, dim, value string) {
	if e.metrics == nil {
		return
	}
	c, cancel := e.sideCtx(ctx)
	defer cancel()
	if err := e.metrics.Count(c, metric, dim, value); err != nil {
		e.logger.Debug("metric not published", zap.String("metric", metric), zap.Error(err))
	}
}

func outcomeFor(err error) Outcome {
	if errors.Is(err, ErrOrderNotFound) {
		return OutcomeNotFound
	}
	return OutcomeError
}
