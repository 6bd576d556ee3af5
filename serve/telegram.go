package serve

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/everydev1618/pmc/bot"
	"github.com/everydev1618/pmc/tools"
)

const telegramMaxMessage = 4096

// TelegramBot receives Telegram messages via long polling and hands them
// to the dispatcher. It also sends replies to Telegram users.
type TelegramBot struct {
	bot    *tgbotapi.BotAPI
	submit func(bot.Inbound) error
	logger *slog.Logger
}

// NewTelegramBot creates a TelegramBot connected to the given token.
func NewTelegramBot(token string, submit func(bot.Inbound) error, logger *slog.Logger) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	api.Debug = false
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramBot{bot: api, submit: submit, logger: logger}, nil
}

// Start runs the long-polling loop until ctx is cancelled.
func (t *TelegramBot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)
	t.logger.Info("telegram polling started", "bot", t.bot.Self.UserName)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if in, ok := telegramInbound(update); ok {
				if err := t.submit(in); err != nil {
					t.logger.Warn("telegram: message dropped", "user_id", in.UserID, "error", err)
				}
			}
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		}
	}
}

// telegramInbound converts an update; callback queries carry the pressed
// button's data.
func telegramInbound(update tgbotapi.Update) (bot.Inbound, bool) {
	switch {
	case update.Message != nil && update.Message.Text != "":
		m := update.Message
		in := bot.Inbound{
			Channel:    bot.ChannelTelegram,
			UserID:     telegramUserID(m.Chat.ID),
			MessageID:  fmt.Sprintf("tg:%d:%d", m.Chat.ID, m.MessageID),
			Text:       m.Text,
			ReceivedAt: m.Time(),
		}
		if m.From != nil {
			in.Name = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
		}
		return in, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		q := update.CallbackQuery
		return bot.Inbound{
			Channel:   bot.ChannelTelegram,
			UserID:    telegramUserID(q.Message.Chat.ID),
			MessageID: "tg:cb:" + q.ID,
			ButtonID:  q.Data,
		}, true
	}
	return bot.Inbound{}, false
}

func telegramUserID(chatID int64) string {
	return bot.TelegramPrefix + strconv.FormatInt(chatID, 10)
}

// Send implements bot.Sender for tg:<chat id> user ids.
func (t *TelegramBot) Send(_ context.Context, userID, text string) error {
	raw, ok := strings.CutPrefix(userID, bot.TelegramPrefix)
	if !ok {
		return fmt.Errorf("not a telegram user: %s", userID)
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", raw, err)
	}
	text = tools.MarkdownToWhatsApp(text)
	for _, chunk := range tools.SplitMessage(text, telegramMaxMessage) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}
