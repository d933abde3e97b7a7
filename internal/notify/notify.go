// Package notify builds the ranked digest for a campaign and delivers it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/types"
)

// Message is a digest ready to send.
type Message struct {
	Subject string
	Body    string
}

// Notifier delivers a digest.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Rank returns results ordered by scorePercent, highest first. Ties keep
// their extraction order. results is not modified.
func Rank(results []types.ScoredVehicle) []types.ScoredVehicle {
	sorted := make([]types.ScoredVehicle, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ScorePercent > sorted[j].ScorePercent
	})
	return sorted
}

// BuildDigest renders the ranked digest. ok is false when there is nothing to
// report.
func BuildDigest(results []types.ScoredVehicle) (msg Message, ok bool) {
	if len(results) == 0 {
		return Message{}, false
	}
	ranked := Rank(results)
	lines := make([]string, len(ranked))
	for i, v := range ranked {
		lines[i] = fmt.Sprintf("• %s — %d%% match\n%s", v.Title, v.ScorePercent, v.URL)
	}
	return Message{
		Subject: fmt.Sprintf("BMW Digest: %d vehicles assessed", len(ranked)),
		Body:    "Here are the top matches:\n\n" + strings.Join(lines, "\n\n"),
	}, true
}

// New builds the notifier selected by cfg.Type.
func New(cfg config.NotifyConfig, logger *slog.Logger) (Notifier, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "log":
		return NewLogNotifier(logger), nil
	case "smtp":
		return NewSMTPNotifier(cfg.SMTP, logger), nil
	case "telegram":
		return NewTelegramNotifier(cfg.Telegram, logger)
	default:
		return nil, fmt.Errorf("unknown notifier type %q", cfg.Type)
	}
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(context.Context, Message) error { return nil }
func (Nop) Name() string                        { return "none" }

// LogNotifier writes the digest to the log instead of delivering it.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify_log")}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.Info(msg.Subject, "body", msg.Body)
	return nil
}
