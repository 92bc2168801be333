package app

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/aws"
	"github.com/imrishuroy/go-topup-payflow/internal/config"
	"github.com/imrishuroy/go-topup-payflow/internal/dynamotest"
	"github.com/imrishuroy/go-topup-payflow/internal/notify"
)

type nopSQS struct{}

func (nopSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return &sqs.SendMessageOutput{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		OrdersTable:             "orders",
		WalletsTable:            "wallets",
		LedgerTable:             "ledger",
		SettingsTable:           "settings",
		BalanceRechargeCategory: "balance_recharge",
		MetricsNamespace:        "TopupPayflow",
	}
}

func TestNewWithoutTelegramUsesDirectLogChat(t *testing.T) {
	a, err := New(testConfig(), &aws.AWSClients{DynamoDB: dynamotest.New()}, zap.NewNop())
	require.NoError(t, err)

	assert.Nil(t, a.Telegram)
	assert.IsType(t, &notify.Direct{}, a.Notifier)

	hc := a.HandlerConfig()
	assert.Nil(t, hc.Answerer)
	assert.NotNil(t, hc.Validator)
	assert.NotNil(t, hc.Engine)
}

func TestNewWithQueueUsesQueuedDispatcher(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyQueueURL = "https://sqs.local/queue"
	a, err := New(cfg, &aws.AWSClients{DynamoDB: dynamotest.New(), SQS: nopSQS{}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &notify.Queued{}, a.Notifier)
}
