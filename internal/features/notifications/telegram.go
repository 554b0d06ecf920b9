package notifications

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
)

// TelegramAlerter шлёт алерты об эскалации в чат модераторов.
// Без токена алерты только пишутся в лог.
type TelegramAlerter struct {
	bot     *telego.Bot
	chatID  int64
	limiter *RateLimiter
}

// NewTelegramAlerter создаёт алертер. Пустой token: алертер выключен.
func NewTelegramAlerter(token string, chatID int64, opts ...telego.BotOption) (*TelegramAlerter, error) {
	if token == "" {
		log.Info("TELEGRAM_BOT_TOKEN не задан, алерты в Telegram выключены")
		return &TelegramAlerter{}, nil
	}

	opts = append([]telego.BotOption{telego.WithDiscardLogger()}, opts...)
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram бота: %w", err)
	}
	return &TelegramAlerter{bot: bot, chatID: chatID}, nil
}

// Enabled сообщает, настроен ли бот.
func (a *TelegramAlerter) Enabled() bool {
	return a.bot != nil
}

// WithRateLimit ограничивает число алертов в чат: при массовой эскалации
// лишние сообщения только пишутся в лог.
func (a *TelegramAlerter) WithRateLimit(rl *RateLimiter) *TelegramAlerter {
	a.limiter = rl
	return a
}

// Close останавливает ограничитель, если он задан.
func (a *TelegramAlerter) Close() {
	if a.limiter != nil {
		a.limiter.Close()
	}
}

// Alert отправляет сообщение в чат модераторов.
func (a *TelegramAlerter) Alert(ctx context.Context, text string) error {
	if !a.Enabled() {
		log.WithField("text", text).Warn("Алерт модераторам (Telegram выключен)")
		return nil
	}
	if a.limiter != nil && !a.limiter.Allow(a.chatID) {
		log.WithField("text", text).Warn("Лимит алертов исчерпан, сообщение не отправлено")
		return nil
	}
	if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(a.chatID), text)); err != nil {
		return fmt.Errorf("ошибка отправки алерта в Telegram: %w", err)
	}
	return nil
}
