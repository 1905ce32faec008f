// Package mailer is the single outbound SMTP transport. Everything above it
// hands over a recipient and a link; rendering and delivery live here.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wneessen/go-mail"
)

// ErrDispatchFailed wraps every delivery failure so callers can map it onto
// one response without inspecting SMTP details.
var ErrDispatchFailed = errors.New("mail dispatch failed")

// Sender is the outbound mail contract.
type Sender interface {
	SendVerification(ctx context.Context, to, link string) error
	SendPasswordReset(ctx context.Context, to, link string) error
	SendMagicLink(ctx context.Context, to, link string, isNewUser bool) error
}

// SMTPConfig configures the transport from environment values.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Secure   bool
}

// SMTPSender delivers through a real SMTP server using go-mail.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

var _ Sender = (*SMTPSender)(nil)

func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, logger: logger}
}

// Verify probes SMTP connectivity at startup. A failure is reported, not
// fatal: the service keeps serving and later sends surface their own errors.
func (s *SMTPSender) Verify(ctx context.Context) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	if err := c.DialWithContext(ctx); err != nil {
		return fmt.Errorf("smtp verify failed: %w", err)
	}
	defer c.Close()
	s.logger.Info("smtp_verified", "host", s.cfg.Host, "port", s.cfg.Port)
	return nil
}

func (s *SMTPSender) SendVerification(ctx context.Context, to, link string) error {
	body, err := render(verificationTmpl, templateData{Link: link, DisplayName: displayName(to)})
	if err != nil {
		return err
	}
	return s.send(ctx, to, "Verify your email", body)
}

func (s *SMTPSender) SendPasswordReset(ctx context.Context, to, link string) error {
	body, err := render(passwordResetTmpl, templateData{Link: link, DisplayName: displayName(to)})
	if err != nil {
		return err
	}
	return s.send(ctx, to, "Reset your password", body)
}

func (s *SMTPSender) SendMagicLink(ctx context.Context, to, link string, isNewUser bool) error {
	body, err := render(magicLinkTmpl, templateData{Link: link, DisplayName: displayName(to), IsNewUser: isNewUser})
	if err != nil {
		return err
	}
	subject := "Your sign-in link"
	if isNewUser {
		subject = "Welcome! Complete your sign-in"
	}
	return s.send(ctx, to, subject, body)
}

func (s *SMTPSender) client() (*mail.Client, error) {
	tlsPolicy := mail.TLSOpportunistic
	if s.cfg.Secure {
		tlsPolicy = mail.TLSMandatory
	}
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(tlsPolicy),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client init failed: %w", err)
	}
	return c, nil
}

func (s *SMTPSender) send(ctx context.Context, to, subject, htmlBody string) error {
	m := mail.NewMsg()
	if err := m.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
		return fmt.Errorf("%w: invalid from address: %v", ErrDispatchFailed, err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("%w: invalid to address: %v", ErrDispatchFailed, err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextHTML, htmlBody)

	c, err := s.client()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		s.logger.Error("smtp_send_failed", "to", to, "subject", subject, "error", err)
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	s.logger.Info("smtp_send_ok", "to", to, "subject", subject)
	return nil
}

// displayName derives a greeting name from the mailbox part of the address.
func displayName(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// LogSender writes mails to the log instead of the wire. Development and
// tests only.
type LogSender struct {
	Logger *slog.Logger
}

var _ Sender = (*LogSender)(nil)

func (l *LogSender) SendVerification(ctx context.Context, to, link string) error {
	l.Logger.Info("mail_verification", "to", to, "link", link)
	return nil
}

func (l *LogSender) SendPasswordReset(ctx context.Context, to, link string) error {
	l.Logger.Info("mail_password_reset", "to", to, "link", link)
	return nil
}

func (l *LogSender) SendMagicLink(ctx context.Context, to, link string, isNewUser bool) error {
	l.Logger.Info("mail_magic_link", "to", to, "link", link, "is_new_user", isNewUser)
	return nil
}
