package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/notify"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
	"github.com/imrishuroy/go-topup-payflow/internal/reconcile"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// RegisterTelegramRoutes registers the bot webhook that receives the operator's
// mark-done button presses.
func RegisterTelegramRoutes(r *gin.Engine, cfg HandlerConfig) {
	log := cfg.Logger.Named("operator")

	r.POST("/telegram/callback", func(c *gin.Context) {
		if err := cfg.Config.RequireOperator(); err != nil {
			configurationError(c, log, err)
			return
		}
		got := c.GetHeader(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.Config.TelegramWebhookSecret)) != 1 {
			log.Warn("telegram callback with bad secret token", zap.String("event", "security"), zap.String("remote", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var upd tgbotapi.Update
		if err := c.ShouldBindJSON(&upd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body"})
			return
		}
		cq := upd.CallbackQuery
		if cq == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		if cq.Message == nil || cq.Message.Chat == nil || cq.Message.Chat.ID != cfg.Config.TelegramOperatorChat {
			log.Warn("callback from a chat other than the operator chat", zap.String("event", "security"), zap.String("from", operatorName(cq.From)))
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		orderID, ok := notify.ParseMarkDone(cq.Data)
		if !ok {
			answer(c.Request.Context(), cfg, log, cq.ID, "Unknown action")
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		clicked := orders.NotificationRef{ChatID: cq.Message.Chat.ID, MessageID: cq.Message.MessageID, HasControls: true}
		res, err := cfg.Engine.MarkDoneFromMessage(c.Request.Context(), orderID, operatorName(cq.From), clicked)
		answer(c.Request.Context(), cfg, log, cq.ID, answerText(orderID, res, err))
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"status": "failed", "order_id": orderID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "order_id": orderID, "already_done": res.AlreadyDone})
	})
}

func answer(ctx context.Context, cfg HandlerConfig, log *zap.Logger, callbackID, text string) {
	if cfg.Answerer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := cfg.Answerer.Answer(ctx, callbackID, text); err != nil {
		log.Warn("failed to answer callback query", zap.Error(err))
	}
}

func answerText(orderID string, res reconcile.OperatorResult, err error) string {
	switch {
	case err == nil && res.AlreadyDone:
		return fmt.Sprintf("Order %s was already completed", orderID)
	case err == nil:
		return fmt.Sprintf("Order %s marked as done", orderID)
	case errors.Is(err, reconcile.ErrOrderNotFound):
		return fmt.Sprintf("Order %s not found", orderID)
	case errors.Is(err, reconcile.ErrNotConfirmable):
		return fmt.Sprintf("Order %s cannot be completed from its current status", orderID)
	case errors.Is(err, reconcile.ErrClaimInProgress):
		return fmt.Sprintf("Order %s is being processed, try again shortly", orderID)
	case errors.Is(err, reconcile.ErrCreditingFailure):
		return fmt.Sprintf("Crediting failed for %s; order left unchanged", orderID)
	}
	return fmt.Sprintf("Failed to complete %s", orderID)
}

func operatorName(u *tgbotapi.User) string {
	if u == nil {
		return "unknown"
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return strconv.FormatInt(u.ID, 10)
}
