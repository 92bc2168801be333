package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/invoice"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
	"github.com/imrishuroy/go-topup-payflow/internal/validation"
)

// RegisterInvoiceRoutes registers POST /invoices.
func RegisterInvoiceRoutes(r *gin.Engine, cfg HandlerConfig) {
	log := cfg.Logger.Named("invoice")

	r.POST("/invoices", func(c *gin.Context) {
		if err := cfg.Config.RequireInvoice(); err != nil {
			configurationError(c, log, err)
			return
		}

		var req validation.CreateInvoiceRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		res, err := cfg.Invoices.Create(c.Request.Context(), invoice.Input{
			UserID:   req.UserID,
			Amount:   req.Amount,
			Currency: req.Currency,
			Email:    req.Email,
			Phone:    validation.NormalizePhone(req.Phone),
			Cart:     lineItems(req.Cart),
		})
		if err != nil {
			switch {
			case errors.Is(err, invoice.ErrMissingUser), errors.Is(err, invoice.ErrEmptyCart):
				c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "msg": err.Error()})
			case errors.Is(err, invoice.ErrProviderFailed):
				c.JSON(http.StatusBadGateway, gin.H{"error": "invoice_provider_failed"})
			default:
				log.Error("invoice creation failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			}
			return
		}

		c.Header("Location", fmt.Sprintf("/orders/%s", res.OrderID))
		c.JSON(http.StatusCreated, res)
	})
}

func lineItems(items []validation.Item) []orders.LineItem {
	out := make([]orders.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, orders.LineItem{
			Game:        it.Game,
			Package:     it.Package,
			Category:    it.Category,
			Credentials: it.Credentials,
			Price:       it.Price,
			Quantity:    it.Quantity,
		})
	}
	return out
}
