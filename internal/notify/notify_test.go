package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/types"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func scored(id string, pct int) types.ScoredVehicle {
	v := types.ScoredVehicle{ScorePercent: pct}
	v.ID = id
	v.Title = "BMW " + id
	v.URL = "https://usedcars.bmw.co.uk/vehicle/" + id
	return v
}

func TestBuildDigest(t *testing.T) {
	results := []types.ScoredVehicle{scored("a", 40), scored("b", 90), scored("c", 40)}

	msg, ok := BuildDigest(results)
	if !ok {
		t.Fatal("expected a digest")
	}
	if msg.Subject != "BMW Digest: 3 vehicles assessed" {
		t.Errorf("subject = %q", msg.Subject)
	}
	want := "Here are the top matches:\n\n" +
		"• BMW b — 90% match\nhttps://usedcars.bmw.co.uk/vehicle/b\n\n" +
		"• BMW a — 40% match\nhttps://usedcars.bmw.co.uk/vehicle/a\n\n" +
		"• BMW c — 40% match\nhttps://usedcars.bmw.co.uk/vehicle/c"
	if msg.Body != want {
		t.Errorf("body = %q", msg.Body)
	}
	if results[0].ID != "a" {
		t.Error("input reordered")
	}
}

func TestBuildDigestEmpty(t *testing.T) {
	if _, ok := BuildDigest(nil); ok {
		t.Error("empty results produced a digest")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		typ     string
		name    string
		wantErr bool
	}{
		{"", "none", false},
		{"none", "none", false},
		{"log", "log", false},
		{"smtp", "smtp", false},
		{"pigeon", "", true},
	}
	for _, tt := range tests {
		n, err := New(config.NotifyConfig{Type: tt.typ}, discard())
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) err = %v", tt.typ, err)
			continue
		}
		if err == nil && n.Name() != tt.name {
			t.Errorf("New(%q).Name() = %q", tt.typ, n.Name())
		}
	}
}

func TestSMTPNotifier(t *testing.T) {
	n := NewSMTPNotifier(config.SMTPConfig{
		Host: "smtp.example.test", Port: 587,
		Username: "bot@example.test", Password: "secret",
		To: []string{"me@example.test"},
	}, discard())

	var gotAddr, gotFrom string
	var gotMsg []byte
	n.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotMsg = addr, from, msg
		return nil
	}

	if err := n.Send(context.Background(), Message{Subject: "BMW Digest: 1 vehicles assessed", Body: "line1\nline2"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.test:587" || gotFrom != "bot@example.test" {
		t.Errorf("addr=%q from=%q", gotAddr, gotFrom)
	}
	mail := string(gotMsg)
	if !strings.Contains(mail, "Subject: BMW Digest: 1 vehicles assessed\r\n") || !strings.Contains(mail, "line1\r\nline2") {
		t.Errorf("mail = %q", mail)
	}

	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	if err := n.Send(context.Background(), Message{}); err == nil {
		t.Error("expected send error")
	}
}

func TestComposeMailHeaders(t *testing.T) {
	now := time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)
	mail := string(composeMail("a@x", []string{"b@x", "c@x"}, Message{Subject: "s", Body: "b"}, now))
	if !strings.HasPrefix(mail, "From: a@x\r\nTo: b@x, c@x\r\nSubject: s\r\n") {
		t.Errorf("headers = %q", mail)
	}
}

type fakeBot struct {
	sent []string
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m.Text)
	}
	return tgbotapi.Message{MessageID: len(b.sent)}, nil
}

func TestTelegramNotifierSplits(t *testing.T) {
	bot := &fakeBot{}
	n := &TelegramNotifier{bot: bot, chatID: 42, logger: discard()}

	var entries []string
	for i := 0; i < 120; i++ {
		entries = append(entries, "• BMW X5 xDrive50e M Sport — 67% match\nhttps://usedcars.bmw.co.uk/vehicle/abcdef")
	}
	body := strings.Join(entries, "\n\n")
	if err := n.Send(context.Background(), Message{Subject: "BMW Digest: 120 vehicles assessed", Body: body}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) < 2 {
		t.Fatalf("expected several messages, got %d", len(bot.sent))
	}
	for i, s := range bot.sent {
		if len(s) > telegramLimit {
			t.Errorf("message %d is %d bytes", i, len(s))
		}
		if !strings.HasPrefix(s, "•") && i > 0 {
			t.Errorf("message %d does not start at an entry: %q", i, s[:20])
		}
	}
}

func TestSplitMessageShort(t *testing.T) {
	got := splitMessage("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("splitMessage = %q", got)
	}
}
