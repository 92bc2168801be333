package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/dynamotest"
	"github.com/imrishuroy/go-topup-payflow/internal/idempotency"
	"github.com/imrishuroy/go-topup-payflow/internal/money"
	"github.com/imrishuroy/go-topup-payflow/internal/notify"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
	"github.com/imrishuroy/go-topup-payflow/internal/rates"
	"github.com/imrishuroy/go-topup-payflow/internal/signature"
	"github.com/imrishuroy/go-topup-payflow/internal/wallet"
	"github.com/imrishuroy/go-topup-payflow/internal/webhook"
)

const (
	plisioSecret   = "plisio-secret"
	coinbaseSecret = "coinbase-secret"
)

type recorder struct {
	mu          sync.Mutex
	notices     []notify.Notice
	completions []notify.Completion
	alerts      []notify.Alert
	err         error
}

func (r *recorder) Notify(ctx context.Context, n notify.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.err
}

func (r *recorder) Complete(ctx context.Context, c notify.Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, c)
	return r.err
}

func (r *recorder) Alert(ctx context.Context, a notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) Count(ctx context.Context, metric, dimName, dimValue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[metric+"/"+dimValue]++
	return nil
}

type harness struct {
	engine  *Engine
	db      *dynamotest.Fake
	orders  *orders.Store
	ledger  *wallet.Ledger
	rates   *rates.Store
	rec     *recorder
	metrics *countingMetrics
}

func newHarness(t *testing.T, withJournal bool) *harness {
	t.Helper()
	db := dynamotest.New()
	db.CreateTable("orders", "order_id")
	db.CreateTable("wallets", "user_id")
	db.CreateTable("ledger", "order_id")
	db.CreateTable("settings", "setting_key")
	db.CreateTable("deliveries", "delivery_key")

	h := &harness{
		db:      db,
		orders:  orders.NewStore(db, "orders"),
		ledger:  wallet.NewLedger(db, "wallets", "ledger"),
		rates:   rates.NewStore(db, "settings"),
		rec:     &recorder{},
		metrics: &countingMetrics{},
	}
	deps := Deps{
		Orders:   h.orders,
		Ledger:   h.ledger,
		Rates:    h.rates,
		Notifier: h.rec,
		Metrics:  h.metrics,
		Logger:   zap.NewNop(),
		Secrets:  map[string]string{"plisio": plisioSecret, "coinbase": coinbaseSecret},
	}
	if withJournal {
		deps.Journal = idempotency.NewStore(db, "deliveries", 48*time.Hour)
	}
	h.engine = NewEngine(deps)
	return h
}

func (h *harness) seed(t *testing.T, o orders.Order) {
	t.Helper()
	if o.Currency == "" {
		o.Currency = "USD"
	}
	require.NoError(t, h.orders.Create(context.Background(), o))
}

func (h *harness) order(t *testing.T, id string) *orders.Order {
	t.Helper()
	o, err := h.orders.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func (h *harness) balance(t *testing.T, user string) string {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), user)
	require.NoError(t, err)
	return b.String()
}

func topup(id, base, final string) orders.Order {
	return orders.Order{
		OrderID:     id,
		Status:      orders.StatusPending,
		Kind:        orders.KindWalletTopup,
		UserID:      "u-1",
		BaseAmount:  money.MustParse(base),
		FinalAmount: money.MustParse(final),
		Cart:        []orders.LineItem{{Game: "Wallet", Package: "Recharge", Category: "balance_recharge", Price: money.MustParse(base), Quantity: 1}},
		Contact:     orders.Contact{Email: "buyer@example.com"},
	}
}

func purchase(id string) orders.Order {
	return orders.Order{
		OrderID:     id,
		Status:      orders.StatusPending,
		Kind:        orders.KindProductPurchase,
		BaseAmount:  money.MustParse("10"),
		FinalAmount: money.MustParse("10.30"),
		Cart:        []orders.LineItem{{Game: "Free Fire", Package: "100 diamonds", Price: money.MustParse("10"), Quantity: 1}},
	}
}

// plisioBody builds a signed JSON callback with fields in the given order.
func plisioBody(t *testing.T, secret string, kv ...string) []byte {
	t.Helper()
	var fields []signature.Field
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, signature.StringField(kv[i], kv[i+1]))
	}
	sig, err := signature.Sign(signature.Plisio{}, fields, secret)
	require.NoError(t, err)
	fields = append(fields, signature.StringField("verify_hash", sig))

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		k, _ := json.Marshal(f.Key)
		parts = append(parts, string(k)+":"+string(f.Value))
	}
	return []byte("{" + strings.Join(parts, ",") + "}")
}

func completed(t *testing.T, orderID string) []byte {
	return plisioBody(t, plisioSecret,
		"txn_id", "tx-"+orderID, "order_number", orderID, "status", "completed",
		"amount", "0.0012", "psys_cid", "BTC")
}

func TestWebhookCreditsTopupExactlyOnce(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, topup("ORD-1", "50.00", "51.50"))
	body := completed(t, "ORD-1")

	var outcomes []Outcome
	for i := 0; i < 5; i++ {
		out, err := h.engine.Receive(context.Background(), "plisio", "application/json", body, "")
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}

	assert.Equal(t, []Outcome{OutcomeDone, OutcomeDuplicate, OutcomeDuplicate, OutcomeDuplicate, OutcomeDuplicate}, outcomes)
	assert.Equal(t, "50.00", h.balance(t, "u-1"))

	o := h.order(t, "ORD-1")
	assert.Equal(t, orders.StatusDone, o.Status)
	require.True(t, o.Credited())
	assert.Equal(t, "50.00", o.CreditedUSD.String())
	assert.Equal(t, "tx-ORD-1", o.ProviderDetails[orders.DetailTxnID])
	assert.Equal(t, "BTC", o.ProviderDetails[orders.DetailPaidCurrency])

	require.Len(t, h.rec.notices, 1)
	n := h.rec.notices[0]
	assert.False(t, n.Controls)
	assert.True(t, n.Email)
	require.NotNil(t, n.Credit)
	assert.Equal(t, "50.00", n.Credit.Balance.String())
	assert.Empty(t, h.rec.alerts)
}

func TestConcurrentDeliveriesCreditOnce(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, topup("ORD-1", "50.00", "51.50"))
	ev := webhook.Event{Provider: "plisio", OrderID: "ORD-1", Status: "completed", TxnID: "tx"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.engine.HandleEvent(context.Background(), ev)
			assert.NoError(t, err)
			if out == OutcomeDone {
				mu.Lock()
				done++
				mu.Unlock()
			}
		}()
	}
	// an operator racing the webhooks must not double-credit either
	_, _ = h.engine.MarkDone(context.Background(), "ORD-1", "@ops")
	wg.Wait()

	assert.LessOrEqual(t, done, 1)
	assert.Equal(t, "50.00", h.balance(t, "u-1"))
	assert.Equal(t, orders.StatusDone, h.order(t, "ORD-1").Status)
}

func TestInvalidSignatureLeavesEverythingUntouched(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, topup("ORD-1", "50.00", "51.50"))
	body := plisioBody(t, "not-the-secret", "order_number", "ORD-1", "status", "completed", "txn_id", "tx")
	updatesBefore := h.db.Calls["UpdateItem"]

	out, err := h.engine.Receive(context.Background(), "plisio", "application/json", body, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.True(t, Acknowledged(err))
	assert.Equal(t, OutcomeRejected, out)

	assert.Equal(t, updatesBefore, h.db.Calls["UpdateItem"])
	assert.Zero(t, h.db.Calls["TransactWriteItems"])
	assert.Equal(t, orders.StatusPending, h.order(t, "ORD-1").Status)
	assert.Equal(t, "0.00", h.balance(t, "u-1"))
	assert.Zero(t, h.db.Len("deliveries"))
}

func TestTamperedPayloadIsRejected(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, topup("ORD-1", "50.00", "51.50"))
	body := string(completed(t, "ORD-1"))
	tampered := strings.Replace(body, `"0.0012"`, `"9.0012"`, 1)

	_, err := h.engine.Receive(context.Background(), "plisio", "application/json", []byte(tampered), "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, "0.00", h.balance(t, "u-1"))
}

func TestMalformedAndUnparseable(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.engine.Receive(context.Background(), "plisio", "application/json", []byte(`{"order_number":"ORD-1","status":"completed"}`), "")
	assert.ErrorIs(t, err, ErrMalformedWebhook)

	_, err = h.engine.Receive(context.Background(), "plisio", "application/json", []byte(`{"status":"completed","verify_hash":"ab"}`), "")
	assert.ErrorIs(t, err, ErrMalformedWebhook)

	_, err = h.engine.Receive(context.Background(), "plisio", "application/json", []byte(`{"status":`), "")
	assert.ErrorIs(t, err, webhook.ErrUnparseable)
	assert.False(t, Acknowledged(err))
}

func TestCoinbaseFormWebhook(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, purchase("ORD-9"))
	fields := []signature.Field{
		signature.StringField("order_id", "ORD-9"),
		signature.StringField("status", "completed"),
		signature.StringField("txn_id", "cb-1"),
	}
	sig, err := signature.Sign(signature.Coinbase{}, fields, coinbaseSecret)
	require.NoError(t, err)
	body := "order_id=ORD-9&status=completed&txn_id=cb-1&signature=" + sig

	out, err := h.engine.Receive(context.Background(), "coinbase", "application/x-www-form-urlencoded", []byte(body), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out)
	assert.Equal(t, "coinbase", h.order(t, "ORD-9").ProviderDetails[orders.DetailProvider])
}

func TestDoneOrderIsNoOp(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, topup("ORD-1", "50.00", "51.50"))
	ev := webhook.Event{Provider: "plisio", OrderID: "ORD-1", Status: "completed", TxnID: "tx"}

	out, err := h.engine.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeDone, out)

	out, err = h.engine.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	res, err := h.engine.MarkDone(context.Background(), "ORD-1", "@ops")
	require.NoError(t, err)
	assert.True(t, res.AlreadyDone)
	assert.Empty(t, h.rec.completions)
	assert.Equal(t, "50.00", h.balance(t, "u-1"))
}

func TestProductPurchaseIsConfirmed(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, purchase("ORD-2"))

	out, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-2", Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out)
	assert.Equal(t, orders.StatusConfirmed, h.order(t, "ORD-2").Status)
	assert.Zero(t, h.db.Calls["TransactWriteItems"])
	assert.Zero(t, h.db.Len("wallets"))

	require.Len(t, h.rec.notices, 1)
	assert.True(t, h.rec.notices[0].Controls)
	assert.Nil(t, h.rec.notices[0].Credit)
}

func TestAmountCheckConfirms(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, purchase("ORD-2"))

	out, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-2", Status: "amount_check"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out)
}

func TestPendingAndFailureStatuses(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.seed(t, purchase("ORD-3"))
	h.seed(t, purchase("ORD-4"))

	out, err := h.engine.HandleEvent(ctx, webhook.Event{Provider: "plisio", OrderID: "ORD-3", Status: "pending", TxnID: "t3"})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, out)
	assert.Equal(t, orders.StatusPendingConfirmation, h.order(t, "ORD-3").Status)

	out, err = h.engine.HandleEvent(ctx, webhook.Event{Provider: "plisio", OrderID: "ORD-3", Status: "expired"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, orders.StatusFailedExpired, h.order(t, "ORD-3").Status)

	out, err = h.engine.HandleEvent(ctx, webhook.Event{Provider: "plisio", OrderID: "ORD-4", Status: "mismatch"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, orders.StatusFailedMismatch, h.order(t, "ORD-4").Status)

	// a late payment after expiry still confirms
	out, err = h.engine.HandleEvent(ctx, webhook.Event{Provider: "plisio", OrderID: "ORD-3", Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out)

	// failure reports never move a confirmed order
	out, err = h.engine.HandleEvent(ctx, webhook.Event{Provider: "plisio", OrderID: "ORD-3", Status: "cancelled"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Equal(t, orders.StatusConfirmed, h.order(t, "ORD-3").Status)

	out, err = h.engine.HandleEvent(ctx, webhook.Event{Provider: "plisio", OrderID: "ORD-3", Status: "new"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Empty(t, h.rec.alerts)
}

func TestUnknownOrderIsAcknowledged(t *testing.T) {
	h := newHarness(t, true)
	out, err := h.engine.Receive(context.Background(), "plisio", "application/json", completed(t, "ORD-404"), "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.True(t, Acknowledged(err))
	assert.Equal(t, OutcomeNotFound, out)
	assert.Equal(t, 1, h.metrics.counts["ReconcileOutcome/not_found"])
}

func TestTopupWithoutUserIsFlagged(t *testing.T) {
	h := newHarness(t, false)
	o := topup("ORD-5", "20", "20.60")
	o.UserID = ""
	h.seed(t, o)

	out, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-5", Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeErrorBalance, out)
	assert.Equal(t, orders.StatusConfirmedErrorBalance, h.order(t, "ORD-5").Status)
	assert.Zero(t, h.db.Calls["TransactWriteItems"])
	require.Len(t, h.rec.notices, 1)
	assert.NotEmpty(t, h.rec.notices[0].Credit.Error)
}

func TestWebhookLedgerFailureMarksErrorBalance(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, topup("ORD-6", "20", "20.60"))
	h.db.FailNext("TransactWriteItems", errors.New("ledger unavailable"))

	out, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-6", Status: "completed"})
	assert.ErrorIs(t, err, ErrCreditingFailure)
	assert.Equal(t, OutcomeErrorBalance, out)

	o := h.order(t, "ORD-6")
	assert.Equal(t, orders.StatusConfirmedErrorBalance, o.Status)
	assert.Empty(t, o.ClaimedFrom)
	assert.Equal(t, "0.00", h.balance(t, "u-1"))
	require.Len(t, h.rec.alerts, 1)
	assert.Equal(t, notify.AlertCreditingFailure, h.rec.alerts[0].Kind)
	require.Len(t, h.rec.notices, 1)
	assert.Contains(t, h.rec.notices[0].Credit.Error, "ledger unavailable")

	// the operator can finish it once the ledger is back
	res, err := h.engine.MarkDone(context.Background(), "ORD-6", "@ops")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDone, res.Order.Status)
	assert.Equal(t, "20.00", h.balance(t, "u-1"))
}

func TestPersistenceFailureAfterCredit(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, topup("ORD-7", "15", "15.45"))
	h.db.FailNext("UpdateItem", nil) // claim goes through
	h.db.FailNext("UpdateItem", errors.New("provisioned throughput exceeded"))

	out, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-7", Status: "completed"})
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.Equal(t, OutcomeErrorDB, out)

	o := h.order(t, "ORD-7")
	assert.Equal(t, orders.StatusConfirmedErrorDB, o.Status)
	assert.True(t, o.Credited())
	assert.Equal(t, "15.00", h.balance(t, "u-1"))
	require.Len(t, h.rec.alerts, 1)
	assert.Equal(t, notify.AlertPersistenceFailure, h.rec.alerts[0].Kind)
	assert.Equal(t, 1, h.metrics.counts["CriticalAlert/persistence_failure"])

	// finishing it does not credit again
	res, err := h.engine.MarkDone(context.Background(), "ORD-7", "@ops")
	require.NoError(t, err)
	assert.Nil(t, res.Credit)
	assert.Equal(t, "15.00", h.balance(t, "u-1"))
}

func TestPersistenceFailureKeepsProviderDetails(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, topup("ORD-14", "15", "15.45"))
	h.db.FailNext("UpdateItem", nil)
	h.db.FailNext("UpdateItem", errors.New("provisioned throughput exceeded"))

	ev := webhook.Event{Provider: "plisio", OrderID: "ORD-14", Status: "completed", TxnID: "tx-P1", PaidCurrency: "BTC"}
	out, err := h.engine.HandleEvent(context.Background(), ev)
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.Equal(t, OutcomeErrorDB, out)

	o := h.order(t, "ORD-14")
	assert.Equal(t, orders.StatusConfirmedErrorDB, o.Status)
	assert.Equal(t, "tx-P1", o.ProviderDetails[orders.DetailTxnID])
	assert.Equal(t, "BTC", o.ProviderDetails[orders.DetailPaidCurrency])
}

func TestCreditFailureKeepsProviderDetailsWhenStatusWriteFails(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, topup("ORD-15", "15", "15.45"))
	h.db.FailNext("TransactWriteItems", errors.New("ledger unavailable"))
	h.db.FailNext("UpdateItem", nil)
	h.db.FailNext("UpdateItem", errors.New("provisioned throughput exceeded"))

	ev := webhook.Event{Provider: "plisio", OrderID: "ORD-15", Status: "completed", TxnID: "tx-P2", PaidCurrency: "LTC"}
	out, err := h.engine.HandleEvent(context.Background(), ev)
	assert.ErrorIs(t, err, ErrCreditingFailure)
	assert.Equal(t, OutcomeErrorBalance, out)

	o := h.order(t, "ORD-15")
	assert.Equal(t, orders.StatusCrediting, o.Status)
	assert.Equal(t, "tx-P2", o.ProviderDetails[orders.DetailTxnID])
	assert.Equal(t, "LTC", o.ProviderDetails[orders.DetailPaidCurrency])
	assert.Equal(t, "0.00", h.balance(t, "u-1"))
	require.Len(t, h.rec.alerts, 1)
	assert.Equal(t, notify.AlertCreditingFailure, h.rec.alerts[0].Kind)
}

func staleClaim(o orders.Order, from orders.Status) orders.Order {
	o.Status = orders.StatusCrediting
	o.ClaimedFrom = from
	o.ClaimedAt = time.Now().Add(-10 * time.Minute).UnixMilli()
	return o
}

func TestWebhookTakesOverStaleClaim(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, staleClaim(topup("ORD-16", "50.00", "51.50"), orders.StatusPending))

	out, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-16", Status: "completed", TxnID: "tx"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out)
	assert.Equal(t, orders.StatusDone, h.order(t, "ORD-16").Status)
	assert.Equal(t, "50.00", h.balance(t, "u-1"))
}

func TestWebhookLeavesLiveClaimAlone(t *testing.T) {
	h := newHarness(t, false)
	o := staleClaim(topup("ORD-17", "50.00", "51.50"), orders.StatusPending)
	o.ClaimedAt = time.Now().UnixMilli()
	h.seed(t, o)

	out, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-17", Status: "completed", TxnID: "tx"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Equal(t, orders.StatusCrediting, h.order(t, "ORD-17").Status)
	assert.Zero(t, h.db.Calls["TransactWriteItems"])
}

func TestWebhookFindsLedgerAlreadyCredited(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, staleClaim(topup("ORD-18", "20.00", "20.60"), orders.StatusPending))
	_, err := h.ledger.Credit(context.Background(), "u-1", "ORD-18", money.MustParse("20.00"))
	require.NoError(t, err)

	out, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-18", Status: "completed", TxnID: "tx"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out)
	assert.Equal(t, orders.StatusDone, h.order(t, "ORD-18").Status)
	assert.Equal(t, "20.00", h.balance(t, "u-1"))
	require.Len(t, h.rec.notices, 1)
	assert.True(t, h.rec.notices[0].Credit.AlreadyCredited)
	assert.Empty(t, h.rec.alerts)
}

func TestFeeInclusiveFallbackIsFlagged(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, topup("ORD-8", "0", "51.50"))

	out, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-8", Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out)
	assert.Equal(t, "51.50", h.balance(t, "u-1"))
	require.Len(t, h.rec.notices, 1)
	assert.True(t, h.rec.notices[0].Credit.FeeInclusive)
}

func TestWebhookConvertsLocalCurrency(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.rates.Set(context.Background(), decimal.RequireFromString("40.0")))
	o := topup("ORD-10", "1000.00", "1030.00")
	o.Currency = "VES"
	h.seed(t, o)

	_, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-10", Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, "25.00", h.balance(t, "u-1"))
}

func TestRateReadFailureFallsBackToOne(t *testing.T) {
	h := newHarness(t, false)
	o := topup("ORD-11", "12.00", "12.36")
	o.Currency = "VES"
	h.seed(t, o)

	_, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-11", Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, "12.00", h.balance(t, "u-1"))
}

func TestNotificationFailureDoesNotAffectState(t *testing.T) {
	h := newHarness(t, false)
	h.rec.err = errors.New("telegram down")
	h.seed(t, topup("ORD-12", "5", "5.15"))

	out, err := h.engine.HandleEvent(context.Background(), webhook.Event{Provider: "plisio", OrderID: "ORD-12", Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out)
	assert.Equal(t, orders.StatusDone, h.order(t, "ORD-12").Status)
	assert.Equal(t, "5.00", h.balance(t, "u-1"))
}

func TestJournalRetriesFailedDelivery(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, purchase("ORD-13"))
	body := completed(t, "ORD-13")
	h.db.FailNext("GetItem", errors.New("timeout"))

	out, err := h.engine.Receive(context.Background(), "plisio", "application/json", body, "")
	require.Error(t, err)
	assert.False(t, Acknowledged(err))
	assert.Equal(t, OutcomeError, out)

	out, err = h.engine.Receive(context.Background(), "plisio", "application/json", body, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out)
}

func TestMissingSecretRejects(t *testing.T) {
	h := newHarness(t, false)
	h.engine.secrets = map[string]string{}
	_, err := h.engine.Receive(context.Background(), "plisio", "application/json", completed(t, "ORD-1"), "")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
