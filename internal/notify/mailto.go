package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/url"
	"strings"
	"time"
)

// SMTPConfig names one sender profile (spec.md §6: "Gmail-style and
// ProtonMail-style profiles"). Each MailtoDriver holds one profile; C3's
// fallback picks the verified or default one through the URL scheme.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	StartTLS bool   `yaml:"starttls"`
}

// MailtoDriver sends via SMTP, dialing fresh per send (grounded on
// nugget-thane-ai-agent/internal/email/smtp.go's dial/EHLO/STARTTLS
// shape). It never retries; the timeout is enforced via ctx.
//
// One MailtoDriver instance owns one sender profile. C3's fallback
// selects between the "default" and "verified" profiles (spec.md §4.3,
// §6) by emitting a different URL scheme for each, so profile selection
// lives entirely in which schemes an instance is registered under — see
// NewMailtoDriver vs NewVerifiedMailtoDriver.
type MailtoDriver struct {
	Profile SMTPConfig
	Timeout time.Duration
	schemes []string
}

// NewMailtoDriver handles "mailto"/"mailtos": user-configured integration
// URLs, and C3's default-profile fallback.
func NewMailtoDriver(profile SMTPConfig) *MailtoDriver {
	return &MailtoDriver{Profile: profile, Timeout: 10 * time.Second, schemes: []string{"mailto", "mailtos"}}
}

// NewVerifiedMailtoDriver handles "mailtov": C3's verified-profile
// fallback only, never a user-configured integration URL.
func NewVerifiedMailtoDriver(profile SMTPConfig) *MailtoDriver {
	return &MailtoDriver{Profile: profile, Timeout: 10 * time.Second, schemes: []string{"mailtov"}}
}

func (d *MailtoDriver) Schemes() []string { return d.schemes }

// recipientFromURL accepts both "mailto:addr"/"mailtov:addr" (opaque
// form, what C3's fallback synthesizes) and "mailto://addr"/
// "mailtov://addr" (authority form), since schema-relative parsing puts
// the address in User+Host rather than Opaque or Path.
func recipientFromURL(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	if u.Path != "" {
		return strings.TrimPrefix(u.Path, "/")
	}
	if u.Host != "" {
		if u.User != nil {
			return u.User.Username() + "@" + u.Host
		}
		return u.Host
	}
	return ""
}

func (d *MailtoDriver) Send(ctx context.Context, deliveryURL, title, body string, level Level) Outcome {
	u, err := url.Parse(deliveryURL)
	if err != nil {
		return Outcome{Err: fmt.Errorf("parse mailto url: %w", err), Kind: FailureTargetRejected}
	}
	to := recipientFromURL(u)
	if _, err := mail.ParseAddress(to); err != nil {
		return Outcome{Err: fmt.Errorf("invalid recipient %q: %w", to, err), Kind: FailureTargetRejected}
	}

	timeout := d.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	cfg := d.Profile
	if u.Scheme == "mailtos" {
		cfg.StartTLS = false
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	dialer := &net.Dialer{Timeout: timeout}

	var client *smtp.Client
	if !cfg.StartTLS {
		conn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: cfg.Host})
		if dialErr != nil {
			return Outcome{Err: fmt.Errorf("dial smtps %s: %w", addr, dialErr), Kind: FailureTimeout}
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return Outcome{Err: fmt.Errorf("smtp client: %w", err), Kind: FailureTransport}
		}
	} else {
		conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return Outcome{Err: fmt.Errorf("dial smtp %s: %w", addr, dialErr), Kind: FailureTimeout}
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return Outcome{Err: fmt.Errorf("smtp client: %w", err), Kind: FailureTransport}
		}
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return Outcome{Err: fmt.Errorf("ehlo: %w", err), Kind: FailureTransport}
	}
	if cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			return Outcome{Err: fmt.Errorf("starttls: %w", err), Kind: FailureTransport}
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return Outcome{Err: fmt.Errorf("auth: %w", err), Kind: FailureAuth}
		}
	}
	if err := client.Mail(cfg.From); err != nil {
		return Outcome{Err: fmt.Errorf("mail from: %w", err), Kind: FailureTransport}
	}
	if err := client.Rcpt(to); err != nil {
		return Outcome{Err: fmt.Errorf("rcpt to %s: %w", to, err), Kind: FailureTargetRejected}
	}
	w, err := client.Data()
	if err != nil {
		return Outcome{Err: fmt.Errorf("data: %w", err), Kind: FailureTransport}
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", cfg.From, to, title, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		return Outcome{Err: fmt.Errorf("write message: %w", err), Kind: FailureTransport}
	}
	if err := w.Close(); err != nil {
		return Outcome{Err: fmt.Errorf("close data: %w", err), Kind: FailureTransport}
	}
	if err := client.Quit(); err != nil {
		return Outcome{Err: fmt.Errorf("quit: %w", err), Kind: FailureTransport}
	}
	return Outcome{OK: true, ChannelName: "email"}
}
