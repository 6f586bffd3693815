// Package telegram is an optional send-only fan-out channel for fired
// alerts. Delivery guarantees stay with the primary HTTP sink; a
// Telegram failure is logged and otherwise ignored.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vpetrenko/market-sentry/internal/domain"
)

type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

func NewNotifier(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram bot: %w", err)
	}
	bot.Debug = false
	return &Notifier{
		bot:    bot,
		chatID: chatID,
		logger: logger.With("component", "telegram_notifier"),
	}, nil
}

func (n *Notifier) Send(_ context.Context, ntf domain.Notification) error {
	msg := tgbotapi.NewMessage(n.chatID, formatMessage(ntf))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

func formatMessage(n domain.Notification) string {
	at := n.TriggeredAt.UTC().Format(time.RFC3339)
	if n.Kind == domain.TriggerVolume {
		return fmt.Sprintf("🔔 %s volume surge: $%s over %s (at %s)",
			n.Symbol, n.Value.StringFixed(0), n.Window, at)
	}
	return fmt.Sprintf("🔔 %s alert %s fired at %s (at %s)",
		n.Symbol, n.RuleID, n.Value, at)
}
