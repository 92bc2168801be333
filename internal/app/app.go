// Package app wires the stores, notifiers and services shared by the API and
// the operator CLI.
package app

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/aws"
	"github.com/imrishuroy/go-topup-payflow/internal/config"
	"github.com/imrishuroy/go-topup-payflow/internal/handlers"
	"github.com/imrishuroy/go-topup-payflow/internal/idempotency"
	"github.com/imrishuroy/go-topup-payflow/internal/invoice"
	"github.com/imrishuroy/go-topup-payflow/internal/logging"
	"github.com/imrishuroy/go-topup-payflow/internal/notify"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
	"github.com/imrishuroy/go-topup-payflow/internal/rates"
	"github.com/imrishuroy/go-topup-payflow/internal/reconcile"
	"github.com/imrishuroy/go-topup-payflow/internal/validation"
	"github.com/imrishuroy/go-topup-payflow/internal/wallet"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Orders   *orders.Store
	Ledger   *wallet.Ledger
	Rates    *rates.Store
	Engine   *reconcile.Engine
	Invoices *invoice.Service
	Notifier notify.Dispatcher
	// nil when no bot token is configured
	Telegram *notify.Telegram
}

// New builds every component from cfg and the AWS clients.
func New(cfg *config.Config, clients *aws.AWSClients, logger *zap.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Orders: orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		Ledger: wallet.NewLedger(clients.DynamoDB, cfg.WalletsTable, cfg.LedgerTable),
		Rates:  rates.NewStore(clients.DynamoDB, cfg.SettingsTable),
	}

	var chat notify.Chat
	if cfg.TelegramBotToken != "" && cfg.TelegramOperatorChat != 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			return nil, fmt.Errorf("init telegram bot: %w", err)
		}
		a.Telegram = notify.NewTelegram(bot, cfg.TelegramOperatorChat, cfg.TelegramSendRPS)
		chat = a.Telegram
	} else {
		logger.Warn("telegram is not configured; operator chat messages are only logged")
		chat = notify.NewLogChat(logger)
	}

	var mailer notify.Mailer
	if cfg.MailFrom != "" {
		mailer = notify.NewSESMailer(clients.SES, cfg.MailFromName, cfg.MailFrom)
	}

	direct := notify.NewDirect(chat, mailer, a.Orders, cfg.SiteBaseURL, logger)
	a.Notifier = direct
	if cfg.NotifyQueueURL != "" {
		a.Notifier = notify.NewQueued(aws.NewPublisher(clients.SQS, cfg.NotifyQueueURL), direct)
	}

	deps := reconcile.Deps{
		Orders:   a.Orders,
		Ledger:   a.Ledger,
		Rates:    a.Rates,
		Notifier: a.Notifier,
		Metrics:  aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace),
		Logger:   logger,
		Secrets: map[string]string{
			"plisio":   cfg.PlisioSecretKey,
			"coinbase": cfg.CoinbaseSecret,
		},
		Timeout: cfg.OutboundTimeout,
	}
	if cfg.IdempotencyTable != "" {
		deps.Journal = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.JournalTTL)
	}
	a.Engine = reconcile.NewEngine(deps)

	a.Invoices = invoice.NewService(invoice.Deps{
		Orders:           a.Orders,
		Ledger:           a.Ledger,
		Provider:         invoice.NewPlisio(cfg.PlisioAPIBase, cfg.PlisioSecretKey, &http.Client{Timeout: cfg.OutboundTimeout}),
		Notifier:         a.Notifier,
		Logger:           logger,
		FeePercent:       cfg.FeePercent,
		RechargeCategory: cfg.BalanceRechargeCategory,
		SiteURL:          cfg.SiteBaseURL,
		Timeout:          cfg.OutboundTimeout,
	})
	return a, nil
}

// HandlerConfig returns the route dependencies.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	hc := handlers.HandlerConfig{
		Config:    a.Config,
		Engine:    a.Engine,
		Invoices:  a.Invoices,
		Wallet:    a.Ledger,
		Validator: validation.New(a.Config.BalanceRechargeCategory),
		Logger:    a.Logger,
	}
	if a.Telegram != nil {
		hc.Answerer = a.Telegram
	}
	return hc
}

// Load reads config, builds the logger and AWS clients, then the App.
func Load(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Must(cfg.LogLevel, cfg.LogFormat)
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}
	return New(cfg, clients, logger)
}
