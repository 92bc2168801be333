// Package handlers exposes the payment, operator and wallet HTTP routes.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/config"
	"github.com/imrishuroy/go-topup-payflow/internal/invoice"
	"github.com/imrishuroy/go-topup-payflow/internal/money"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
	"github.com/imrishuroy/go-topup-payflow/internal/reconcile"
	"github.com/imrishuroy/go-topup-payflow/internal/validation"
)

// Reconciler is implemented by *reconcile.Engine.
type Reconciler interface {
	Receive(ctx context.Context, provider, contentType string, body []byte, headerSignature string) (reconcile.Outcome, error)
	MarkDoneFromMessage(ctx context.Context, orderID, operator string, clicked orders.NotificationRef) (reconcile.OperatorResult, error)
}

// Invoicer is implemented by *invoice.Service.
type Invoicer interface {
	Create(ctx context.Context, in invoice.Input) (*invoice.Result, error)
	Checkout(ctx context.Context, in invoice.Input) (*invoice.CheckoutResult, error)
}

type Balances interface {
	Balance(ctx context.Context, userID string) (money.Amount, error)
}

// CallbackAnswerer shows the operator a toast for a button press.
type CallbackAnswerer interface {
	Answer(ctx context.Context, callbackID, text string) error
}

// HandlerConfig groups dependencies for the routes.
type HandlerConfig struct {
	Config    *config.Config
	Engine    Reconciler
	Invoices  Invoicer
	Wallet    Balances
	Answerer  CallbackAnswerer
	Validator *validatorv10.Validate
	Logger    *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Validator == nil {
		cfg.Validator = validation.New(cfg.Config.BalanceRechargeCategory)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), RequestID(), AccessLog(cfg.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterWebhookRoutes(r, cfg)
	RegisterTelegramRoutes(r, cfg)
	RegisterInvoiceRoutes(r, cfg)
	RegisterWalletRoutes(r, cfg)
	return r
}

func configurationError(c *gin.Context, log *zap.Logger, err error) {
	log.Error("configuration error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "configuration_error"})
}
