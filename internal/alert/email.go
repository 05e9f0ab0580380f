package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig configures EmailNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailNotifier sends each event as a plain-text email.
type EmailNotifier struct {
	cfg SMTPConfig
}

// NewEmailNotifier creates an EmailNotifier.
func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

// Name implements Notifier.
func (n *EmailNotifier) Name() string { return "email" }

// Notify implements Notifier.
func (n *EmailNotifier) Notify(_ context.Context, e Event) error {
	msg := []byte(strings.Join([]string{
		"From: " + n.cfg.From,
		"To: " + strings.Join(n.cfg.To, ", "),
		"Subject: [linechain] " + e.Summary(),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		emailBody(e),
	}, "\r\n"))

	addr := net.JoinHostPort(n.cfg.Host, fmt.Sprint(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	// Port 465 uses implicit TLS; 587 uses STARTTLS (smtp.SendMail handles this).
	if n.cfg.Port == 465 {
		return n.sendImplicitTLS(addr, auth, msg)
	}
	return smtp.SendMail(addr, auth, n.cfg.From, n.cfg.To, msg)
}

func emailBody(e Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chain:    %s\n", e.Chain)
	fmt.Fprintf(&b, "Event:    %s\n", e.Type)
	fmt.Fprintf(&b, "Observed: %s\n", e.Timestamp.Format(time.RFC3339))
	if e.Previous != "" {
		fmt.Fprintf(&b, "Previous: %s\n", e.Previous)
	}
	if e.Verdict != "" {
		fmt.Fprintf(&b, "Verdict:  %s\n", e.Verdict)
	}
	if e.Index != nil {
		fmt.Fprintf(&b, "Kind:     %s at index %d\n", e.Kind, *e.Index)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", e.Error)
	}
	return b.String()
}

func (n *EmailNotifier) sendImplicitTLS(addr string, auth smtp.Auth, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("smtp tls dial: %w", err)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Close()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, to := range n.cfg.To {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", to, err)
		}
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return c.Quit()
}
