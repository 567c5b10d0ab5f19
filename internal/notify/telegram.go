package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botAPI is the subset of *tgbotapi.BotAPI the sender uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers notifications through the Telegram Bot API.
type TelegramSender struct {
	bot        botAPI
	chatID     int64
	maxRetries int
	retryDelay time.Duration
}

// NewTelegramSender connects to the Bot API with token and targets chatID.
// It performs a getMe call, so it fails fast on a bad token.
func NewTelegramSender(token, chatID string, maxRetries int) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return newTelegramSender(bot, chatID, maxRetries, time.Second)
}

func newTelegramSender(bot botAPI, chatID string, maxRetries int, retryDelay time.Duration) (*TelegramSender, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &TelegramSender{bot: bot, chatID: id, maxRetries: maxRetries, retryDelay: retryDelay}, nil
}

// Send posts the message, retrying with linear backoff.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	msg := tgbotapi.NewMessage(t.chatID, title+"\n\n"+message)
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		_, lastErr = t.bot.Send(msg)
		if lastErr == nil {
			return nil
		}
		if i == t.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("telegram: send: %w", ctx.Err())
		case <-time.After(t.retryDelay * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("telegram: send after %d attempts: %w", t.maxRetries, lastErr)
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
