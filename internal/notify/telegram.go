package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-topup-payflow/internal/orders"
)

// MarkDonePrefix prefixes the callback data of the mark-done button.
const MarkDonePrefix = "mark_done_"

func MarkDoneData(orderID string) string { return MarkDonePrefix + orderID }

// ParseMarkDone extracts the order id from mark-done callback data.
func ParseMarkDone(data string) (string, bool) {
	id, ok := strings.CutPrefix(data, MarkDonePrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Bot is the part of *tgbotapi.BotAPI used here.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram posts to the operator chat, throttled to stay under the bot API
// per-chat limits.
type Telegram struct {
	bot     Bot
	chatID  int64
	limiter *rate.Limiter
}

func NewTelegram(bot Bot, chatID int64, rps float64) *Telegram {
	if rps <= 0 {
		rps = 1
	}
	return &Telegram{
		bot:     bot,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(rps), 3),
	}
}

func (t *Telegram) Post(ctx context.Context, m ChatMessage) (orders.NotificationRef, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return orders.NotificationRef{}, err
	}
	msg := tgbotapi.NewMessage(t.chatID, m.Text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if m.MarkDoneOrderID != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Mark as done", MarkDoneData(m.MarkDoneOrderID)),
		))
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		return orders.NotificationRef{}, fmt.Errorf("telegram send: %w", err)
	}
	return orders.NotificationRef{
		ChatID:      t.chatID,
		MessageID:   sent.MessageID,
		HasControls: m.MarkDoneOrderID != "",
	}, nil
}

func (t *Telegram) Edit(ctx context.Context, ref orders.NotificationRef, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Request(edit); err != nil {
		return fmt.Errorf("telegram edit: %w", err)
	}
	return nil
}

// Answer acknowledges a callback query with a short toast.
func (t *Telegram) Answer(ctx context.Context, callbackID, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("telegram answer callback: %w", err)
	}
	return nil
}
