package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/IshaanNene/specwatch/internal/config"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails the digest as plain text. The connection is upgraded
// with STARTTLS when the server offers it.
type SMTPNotifier struct {
	cfg      config.SMTPConfig
	sendMail sendMailFunc
	logger   *slog.Logger
}

func NewSMTPNotifier(cfg config.SMTPConfig, logger *slog.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:      cfg,
		sendMail: smtp.SendMail,
		logger:   logger.With("component", "notify_smtp"),
	}
}

func (n *SMTPNotifier) Name() string { return "smtp" }

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := n.cfg.From
	if from == "" {
		from = n.cfg.Username
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	if err := n.sendMail(addr, auth, from, n.cfg.To, composeMail(from, n.cfg.To, msg, time.Now())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	n.logger.Info("digest mailed", "to", strings.Join(n.cfg.To, ","), "subject", msg.Subject)
	return nil
}

func composeMail(from string, to []string, msg Message, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
