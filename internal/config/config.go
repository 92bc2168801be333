// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	RunLocal bool
	Addr     string

	LogLevel  string
	LogFormat string

	OrdersTable      string
	WalletsTable     string
	LedgerTable      string
	IdempotencyTable string
	SettingsTable    string
	NotifyQueueURL   string
	MetricsNamespace string

	PlisioSecretKey string
	PlisioAPIBase   string
	CoinbaseSecret  string

	TelegramBotToken      string
	TelegramOperatorChat  int64
	TelegramWebhookSecret string
	TelegramSendRPS       float64

	MailFrom     string
	MailFromName string

	SiteBaseURL             string
	FeePercent              decimal.Decimal
	BalanceRechargeCategory string
	OutboundTimeout         time.Duration
	JournalTTL              time.Duration
}

var (
	ErrMissingOrdersTable      = errors.New("ORDERS_TABLE is not set")
	ErrMissingWalletsTable     = errors.New("WALLETS_TABLE is not set")
	ErrMissingLedgerTable      = errors.New("LEDGER_TABLE is not set")
	ErrMissingIdempotencyTable = errors.New("IDEMPOTENCY_TABLE is not set")
	ErrMissingPlisioSecret     = errors.New("PLISIO_SECRET_KEY is not set")
	ErrMissingCoinbaseSecret   = errors.New("COINBASE_WEBHOOK_SECRET is not set")
	ErrMissingBotToken         = errors.New("TELEGRAM_BOT_TOKEN is not set")
	ErrMissingOperatorChat     = errors.New("TELEGRAM_OPERATOR_CHAT_ID is not set")
	ErrMissingWebhookSecret    = errors.New("TELEGRAM_WEBHOOK_SECRET is not set")
	ErrMissingMailFrom         = errors.New("MAIL_FROM is not set")
	ErrMissingSiteBaseURL      = errors.New("SITE_BASE_URL is not set")
	ErrUnknownProvider         = errors.New("unknown payment provider")
)

// Load reads the environment. With RUN_LOCAL=true a .env file in the working
// directory is loaded first; variables already set win.
func Load() (*Config, error) {
	runLocal := os.Getenv("RUN_LOCAL") == "true"
	if runLocal {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	var errs []error
	cfg := &Config{
		RunLocal:                runLocal,
		Addr:                    getenv("HTTP_ADDR", ":8080"),
		LogLevel:                getenv("LOG_LEVEL", "info"),
		LogFormat:               getenv("LOG_FORMAT", "json"),
		OrdersTable:             os.Getenv("ORDERS_TABLE"),
		WalletsTable:            os.Getenv("WALLETS_TABLE"),
		LedgerTable:             os.Getenv("LEDGER_TABLE"),
		IdempotencyTable:        os.Getenv("IDEMPOTENCY_TABLE"),
		SettingsTable:           os.Getenv("SETTINGS_TABLE"),
		NotifyQueueURL:          os.Getenv("NOTIFY_QUEUE_URL"),
		MetricsNamespace:        getenv("METRICS_NAMESPACE", "TopupPayflow"),
		PlisioSecretKey:         os.Getenv("PLISIO_SECRET_KEY"),
		PlisioAPIBase:           getenv("PLISIO_API_BASE", "https://api.plisio.net/api/v1"),
		CoinbaseSecret:          os.Getenv("COINBASE_WEBHOOK_SECRET"),
		TelegramBotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookSecret:   os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		MailFrom:                os.Getenv("MAIL_FROM"),
		MailFromName:            getenv("MAIL_FROM_NAME", "Top-Up Store"),
		SiteBaseURL:             strings.TrimRight(os.Getenv("SITE_BASE_URL"), "/"),
		BalanceRechargeCategory: getenv("BALANCE_RECHARGE_CATEGORY", "balance_recharge"),
	}

	if v := os.Getenv("TELEGRAM_OPERATOR_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TELEGRAM_OPERATOR_CHAT_ID: %w", err))
		}
		cfg.TelegramOperatorChat = id
	}

	rps, err := strconv.ParseFloat(getenv("TELEGRAM_SEND_RPS", "1"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("TELEGRAM_SEND_RPS: %w", err))
	}
	cfg.TelegramSendRPS = rps

	fee, err := decimal.NewFromString(getenv("PAYMENT_FEE_PERCENT", "3"))
	if err != nil {
		errs = append(errs, fmt.Errorf("PAYMENT_FEE_PERCENT: %w", err))
	} else if fee.IsNegative() {
		errs = append(errs, errors.New("PAYMENT_FEE_PERCENT must not be negative"))
	}
	cfg.FeePercent = fee

	timeout, err := time.ParseDuration(getenv("OUTBOUND_TIMEOUT", "5s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("OUTBOUND_TIMEOUT: %w", err))
	}
	cfg.OutboundTimeout = timeout

	ttl, err := time.ParseDuration(getenv("WEBHOOK_JOURNAL_TTL", "48h"))
	if err != nil {
		errs = append(errs, fmt.Errorf("WEBHOOK_JOURNAL_TTL: %w", err))
	}
	cfg.JournalTTL = ttl

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) requireStores() []error {
	var errs []error
	if c.OrdersTable == "" {
		errs = append(errs, ErrMissingOrdersTable)
	}
	if c.WalletsTable == "" {
		errs = append(errs, ErrMissingWalletsTable)
	}
	if c.LedgerTable == "" {
		errs = append(errs, ErrMissingLedgerTable)
	}
	return errs
}

// RequireWebhook checks what the webhook path for provider needs.
func (c *Config) RequireWebhook(provider string) error {
	errs := c.requireStores()
	if c.IdempotencyTable == "" {
		errs = append(errs, ErrMissingIdempotencyTable)
	}
	switch provider {
	case "plisio":
		if c.PlisioSecretKey == "" {
			errs = append(errs, ErrMissingPlisioSecret)
		}
	case "coinbase":
		if c.CoinbaseSecret == "" {
			errs = append(errs, ErrMissingCoinbaseSecret)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownProvider, provider))
	}
	return errors.Join(errs...)
}

// RequireOperator checks what the chat callback path needs.
func (c *Config) RequireOperator() error {
	errs := c.requireStores()
	if c.TelegramBotToken == "" {
		errs = append(errs, ErrMissingBotToken)
	}
	if c.TelegramOperatorChat == 0 {
		errs = append(errs, ErrMissingOperatorChat)
	}
	if c.TelegramWebhookSecret == "" {
		errs = append(errs, ErrMissingWebhookSecret)
	}
	return errors.Join(errs...)
}

// RequireInvoice checks what invoice creation needs.
func (c *Config) RequireInvoice() error {
	var errs []error
	if c.OrdersTable == "" {
		errs = append(errs, ErrMissingOrdersTable)
	}
	if c.PlisioSecretKey == "" {
		errs = append(errs, ErrMissingPlisioSecret)
	}
	if c.SiteBaseURL == "" {
		errs = append(errs, ErrMissingSiteBaseURL)
	}
	return errors.Join(errs...)
}

// RequireWallet checks what the balance and wallet checkout routes need.
func (c *Config) RequireWallet() error {
	return errors.Join(c.requireStores()...)
}

// RequireWorker checks what the notification worker needs.
func (c *Config) RequireWorker() error {
	var errs []error
	if c.OrdersTable == "" {
		errs = append(errs, ErrMissingOrdersTable)
	}
	if c.TelegramBotToken == "" {
		errs = append(errs, ErrMissingBotToken)
	}
	if c.TelegramOperatorChat == 0 {
		errs = append(errs, ErrMissingOperatorChat)
	}
	if c.MailFrom == "" {
		errs = append(errs, ErrMissingMailFrom)
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
