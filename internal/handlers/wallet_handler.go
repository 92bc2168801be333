package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/invoice"
	"github.com/imrishuroy/go-topup-payflow/internal/validation"
	"github.com/imrishuroy/go-topup-payflow/internal/wallet"
)

// RegisterWalletRoutes registers the balance read and balance-paid checkout.
func RegisterWalletRoutes(r *gin.Engine, cfg HandlerConfig) {
	log := cfg.Logger.Named("wallet")

	g := r.Group("/wallet", RequireUser())

	g.GET("/balance", func(c *gin.Context) {
		if err := cfg.Config.RequireWallet(); err != nil {
			configurationError(c, log, err)
			return
		}
		uid := c.GetString(ctxUserID)
		bal, err := cfg.Wallet.Balance(c.Request.Context(), uid)
		if err != nil {
			log.Error("balance read failed", zap.String("user_id", uid), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": uid, "balance_usd": bal})
	})

	g.POST("/checkout", func(c *gin.Context) {
		if err := cfg.Config.RequireWallet(); err != nil {
			configurationError(c, log, err)
			return
		}
		var req validation.WalletCheckoutRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}

		res, err := cfg.Invoices.Checkout(c.Request.Context(), invoice.Input{
			UserID: c.GetString(ctxUserID),
			Amount: req.Amount,
			Email:  req.Email,
			Phone:  validation.NormalizePhone(req.Phone),
			Cart:   lineItems(req.Cart),
		})
		if err != nil {
			switch {
			case errors.Is(err, wallet.ErrInsufficientFunds):
				c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_funds"})
			case errors.Is(err, invoice.ErrTopupFromWallet), errors.Is(err, invoice.ErrEmptyCart):
				c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "msg": err.Error()})
			default:
				log.Error("wallet checkout failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			}
			return
		}
		c.JSON(http.StatusCreated, res)
	})
}
