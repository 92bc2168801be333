package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/notify"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
	"github.com/imrishuroy/go-topup-payflow/internal/wallet"
)

// operatorFrom lists the statuses an operator may mark done. A crediting
// order qualifies only once its claim went stale.
var operatorFrom = map[orders.Status]bool{
	orders.StatusPending:               true,
	orders.StatusPendingConfirmation:   true,
	orders.StatusConfirmed:             true,
	orders.StatusConfirmedErrorBalance: true,
	orders.StatusConfirmedErrorDB:      true,
}

// OperatorResult is the outcome of a mark-done action.
type OperatorResult struct {
	Order       *orders.Order
	AlreadyDone bool
	Credit      *notify.CreditOutcome
}

// MarkDone finalizes an order on an operator's request: credits a wallet
// top-up that was not credited yet, moves the order to done and replaces the
// operator chat message. Repeating it on a done order is a no-op.
func (e *Engine) MarkDone(ctx context.Context, orderID, operator string) (OperatorResult, error) {
	return e.markDone(ctx, orderID, operator, nil)
}

// MarkDoneFromMessage is MarkDone for a button press on clicked. The clicked
// message is edited when the order has no stored chat message.
func (e *Engine) MarkDoneFromMessage(ctx context.Context, orderID, operator string, clicked orders.NotificationRef) (OperatorResult, error) {
	return e.markDone(ctx, orderID, operator, &clicked)
}

func (e *Engine) markDone(ctx context.Context, orderID, operator string, clicked *orders.NotificationRef) (res OperatorResult, err error) {
	log := e.logger.With(zap.String("order_id", orderID), zap.String("operator", operator))
	alerted := false
	defer func() {
		switch {
		case err == nil:
			log.Info("operator marked order done", zap.Bool("already_done", res.AlreadyDone))
		case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrNotConfirmable), errors.Is(err, ErrClaimInProgress):
			log.Warn("operator action refused", zap.Error(err))
		default:
			log.Error("operator action failed", zap.Error(err))
			if !alerted {
				e.alert(ctx, notify.AlertOperatorFailure, orderID, err.Error())
			}
		}
	}()

	o, err := e.load(ctx, orderID)
	if err != nil {
		return res, err
	}
	if o.Status == orders.StatusDone {
		return OperatorResult{Order: o, AlreadyDone: true}, nil
	}

	restore := o.Status
	switch {
	case o.Status == orders.StatusCrediting:
		if !e.claimStale(o) {
			return res, ErrClaimInProgress
		}
		restore = o.ClaimedFrom
		if restore == "" {
			restore = orders.StatusConfirmed
		}
	case !operatorFrom[o.Status]:
		return res, fmt.Errorf("%w: %s", ErrNotConfirmable, o.Status)
	}

	c, cancel := e.callCtx(ctx)
	claimed, err := e.orders.Claim(c, orderID, o.Status, e.claimTimeout)
	cancel()
	if errors.Is(err, orders.ErrStatusMismatch) {
		// lost the race; report what the winner did
		if cur, lerr := e.load(ctx, orderID); lerr == nil && cur.Status == orders.StatusDone {
			return OperatorResult{Order: cur, AlreadyDone: true}, nil
		}
		return res, ErrClaimInProgress
	}
	if err != nil {
		return res, fmt.Errorf("claim order: %w", err)
	}

	var updates []orders.Update
	var credit *notify.CreditOutcome
	if o.Kind == orders.KindWalletTopup && !o.Credited() {
		amount, feeInclusive, convErr := e.creditAmount(ctx, o)
		credit = &notify.CreditOutcome{AmountUSD: amount, FeeInclusive: feeInclusive}

		var failure error
		switch {
		case convErr != nil:
			failure = convErr
		case o.UserID == "":
			failure = wallet.ErrMissingUser
		case !amount.IsPositive():
			failure = wallet.ErrInvalidAmount
		default:
			c, cancel := e.callCtx(ctx)
			balance, cerr := e.ledger.Credit(c, o.UserID, orderID, amount)
			cancel()
			switch {
			case cerr == nil:
				credit.Balance = &balance
			case errors.Is(cerr, wallet.ErrAlreadyCredited):
				credit.AlreadyCredited = true
			default:
				failure = cerr
			}
		}
		if failure != nil {
			e.release(ctx, orderID, restore, "operator credit failed: "+failure.Error())
			alerted = true
			e.alert(ctx, notify.AlertCreditingFailure, orderID,
				fmt.Sprintf("operator %s could not credit %s USD: %v; order left at %s", operator, amount, failure, restore))
			return res, fmt.Errorf("%w: %v", ErrCreditingFailure, failure)
		}
		updates = append(updates, orders.WithCredit(amount, e.nowFunc()))
	}

	c, cancel = e.callCtx(ctx)
	updated, err := e.orders.Transition(c, orderID, []orders.Status{orders.StatusCrediting}, orders.StatusDone, updates...)
	cancel()
	if err != nil {
		if credit != nil {
			alerted = true
			_, perr := e.persistenceFailure(ctx, claimed, credit.AmountUSD, credit, nil, err)
			return res, perr
		}
		e.release(ctx, orderID, restore, "mark done failed: "+err.Error())
		return res, fmt.Errorf("mark done: %w", err)
	}

	res = OperatorResult{Order: updated, Credit: credit}
	sc, cancel := e.sideCtx(ctx)
	defer cancel()
	if err := e.notifier.Complete(sc, notify.Completion{Order: *updated, Credit: credit, Operator: operator, Clicked: clicked}); err != nil {
		log.Warn("completion notification failed", zap.Error(fmt.Errorf("%w: %v", ErrNotificationFailure, err)))
	}
	e.count(ctx, metricOutcome, "Outcome", "operator_done")
	return res, nil
}

func (e *Engine) release(ctx context.Context, orderID string, restore orders.Status, note string) {
	c, cancel := e.callCtx(ctx)
	defer cancel()
	if _, err := e.orders.Release(c, orderID, restore, note); err != nil {
		// the claim goes stale and can be retried
		e.logger.Error("could not release claim", zap.String("order_id", orderID), zap.Error(err))
	}
}
