// Package notify holds the concrete side-effect senders an action node's
// executor dispatches to: email, webhook delivery, and nothing else —
// record/snapshot/alert/log are handled inline by the executor against
// in-process collaborators instead of an external sender.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailConfig configures the SMTP relay action(email) sends through.
type EmailConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
	FromName string
}

// EmailSender delivers action(email) nodes' messages over SMTP.
type EmailSender struct {
	config EmailConfig
	auth   smtp.Auth
}

// NewEmailSender builds a sender; auth is omitted when no credentials are
// configured, matching relays that only require a trusted source IP.
func NewEmailSender(config EmailConfig) *EmailSender {
	var auth smtp.Auth
	if config.User != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.User, config.Password, config.Host)
	}
	return &EmailSender{config: config, auth: auth}
}

// Send delivers one HTML message to a single recipient plus optional CC
// addresses, matching action(email)'s schema (spec §6: to, cc, subject).
func (s *EmailSender) Send(ctx context.Context, to string, cc []string, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", s.config.Host, s.config.Port)

	fromHeader := s.config.From
	if strings.TrimSpace(s.config.FromName) != "" {
		fromHeader = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	fromHeader = sanitizeHeader(fromHeader)
	to = sanitizeHeader(to)
	subject = sanitizeHeader(subject)

	recipients := append([]string{to}, cc...)

	msg := []string{
		fmt.Sprintf("From: %s", fromHeader),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"",
		htmlBody,
	}
	body := []byte(strings.Join(msg, "\r\n"))

	if s.auth != nil {
		return smtp.SendMail(addr, s.auth, s.config.From, recipients, body)
	}

	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("notify: dial smtp: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Mail(s.config.From); err != nil {
		return fmt.Errorf("notify: mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("notify: rcpt to %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("notify: data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("notify: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notify: close: %w", err)
	}
	return c.Quit()
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
