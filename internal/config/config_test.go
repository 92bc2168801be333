package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("RUN_LOCAL", "")
	t.Setenv("ORDERS_TABLE", "orders")
	t.Setenv("WALLETS_TABLE", "wallets")
	t.Setenv("LEDGER_TABLE", "ledger")
	t.Setenv("IDEMPOTENCY_TABLE", "idempotency")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PAYMENT_FEE_PERCENT", "")
	t.Setenv("OUTBOUND_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3", cfg.FeePercent.String())
	assert.Equal(t, 5*time.Second, cfg.OutboundTimeout)
	assert.Equal(t, 48*time.Hour, cfg.JournalTTL)
	assert.Equal(t, "balance_recharge", cfg.BalanceRechargeCategory)
}

func TestLoad_InvalidValuesAreJoined(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PAYMENT_FEE_PERCENT", "abc")
	t.Setenv("TELEGRAM_OPERATOR_CHAT_ID", "not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYMENT_FEE_PERCENT")
	assert.Contains(t, err.Error(), "TELEGRAM_OPERATOR_CHAT_ID")
}

func TestRequireWebhook(t *testing.T) {
	cfg := &Config{OrdersTable: "o", WalletsTable: "w", LedgerTable: "l", IdempotencyTable: "i"}

	err := cfg.RequireWebhook("plisio")
	assert.True(t, errors.Is(err, ErrMissingPlisioSecret))

	cfg.PlisioSecretKey = "secret"
	assert.NoError(t, cfg.RequireWebhook("plisio"))

	assert.True(t, errors.Is(cfg.RequireWebhook("coinbase"), ErrMissingCoinbaseSecret))
	assert.True(t, errors.Is(cfg.RequireWebhook("paypal"), ErrUnknownProvider))
}

func TestRequireOperator(t *testing.T) {
	cfg := &Config{}
	err := cfg.RequireOperator()
	for _, want := range []error{ErrMissingOrdersTable, ErrMissingBotToken, ErrMissingOperatorChat, ErrMissingWebhookSecret} {
		assert.True(t, errors.Is(err, want), "missing %v", want)
	}
}
