package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/config"
	"github.com/imrishuroy/go-topup-payflow/internal/reconcile"
	"github.com/imrishuroy/go-topup-payflow/internal/webhook"
)

const maxWebhookBody = 64 << 10

// headers some providers put the signature in instead of the body
var signatureHeaders = []string{"X-Cc-Webhook-Signature", "X-Signature"}

// RegisterWebhookRoutes registers POST /webhooks/:provider. Providers retry on
// anything but 2xx, so every outcome except an unreadable body is acknowledged.
func RegisterWebhookRoutes(r *gin.Engine, cfg HandlerConfig) {
	log := cfg.Logger.Named("webhook")

	r.POST("/webhooks/:provider", func(c *gin.Context) {
		provider := c.Param("provider")

		if err := cfg.Config.RequireWebhook(provider); err != nil {
			if errors.Is(err, config.ErrUnknownProvider) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
				return
			}
			log.Error("webhook configuration error; acknowledging without processing",
				zap.String("provider", provider), zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
			return
		}

		var headerSig string
		for _, h := range signatureHeaders {
			if headerSig = c.GetHeader(h); headerSig != "" {
				break
			}
		}

		outcome, err := cfg.Engine.Receive(c.Request.Context(), provider, c.GetHeader("Content-Type"), body, headerSig)
		switch {
		case errors.Is(err, webhook.ErrUnparseable):
			log.Warn("unparseable webhook body", zap.String("provider", provider), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "unparseable_body"})
			return
		case err != nil && !reconcile.Acknowledged(err):
			// state and alerts are already recorded by the engine
			log.Error("webhook processed with errors", zap.String("provider", provider), zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": outcome})
	})
}
