// Package notify delivers fatal-failure notifications over SMTP.
package notify

import (
	"fmt"
	"net/smtp"

	"intradayetl/config"

	"go.uber.org/zap"
)

// EmailNotifier sends plain-text mail via SMTP with STARTTLS and
// authenticated login. Delivery failures are logged, never retried.
type EmailNotifier struct {
	cfg    config.SMTPConfig
	logger *zap.Logger

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailNotifier(cfg config.SMTPConfig, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, logger: logger, send: smtp.SendMail}
}

// Notify sends one email and reports whether delivery succeeded.
func (n *EmailNotifier) Notify(subject, body string) bool {
	msg := []byte("From: " + n.cfg.From + "\r\n" +
		"To: " + n.cfg.To + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		body + "\r\n")

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)

	// smtp.SendMail upgrades to STARTTLS when the server advertises it.
	if err := n.send(addr, auth, n.cfg.From, []string{n.cfg.To}, msg); err != nil {
		n.logger.Error("failed to send email", zap.String("subject", subject), zap.Error(err))
		return false
	}

	n.logger.Info("email sent", zap.String("subject", subject))
	return true
}
