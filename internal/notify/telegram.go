package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/IshaanNene/specwatch/internal/config"
)

// telegramLimit is the maximum length of one Telegram message.
const telegramLimit = 4096

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts the digest to a chat, split across as many messages
// as the length limit requires.
type TelegramNotifier struct {
	bot    telegramSender
	chatID int64
	logger *slog.Logger
}

func NewTelegramNotifier(cfg config.TelegramConfig, logger *slog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramNotifier{
		bot:    bot,
		chatID: cfg.ChatID,
		logger: logger.With("component", "notify_telegram"),
	}, nil
}

func (n *TelegramNotifier) Name() string { return "telegram" }

func (n *TelegramNotifier) Send(ctx context.Context, msg Message) error {
	for i, chunk := range splitMessage(msg.Subject+"\n\n"+msg.Body, telegramLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := tgbotapi.NewMessage(n.chatID, chunk)
		m.DisableWebPagePreview = true
		if _, err := n.bot.Send(m); err != nil {
			return fmt.Errorf("telegram send part %d: %w", i+1, err)
		}
	}
	n.logger.Info("digest posted", "chat_id", n.chatID, "subject", msg.Subject)
	return nil
}

// splitMessage breaks text into chunks of at most limit bytes, preferring to
// break between digest entries, then at line ends.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n\n")
		if cut <= 0 {
			cut = strings.LastIndex(text[:limit], "\n")
		}
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
