package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// Secure uses implicit TLS (usually port 465).
	Secure bool
	// StartTLS upgrades a plain connection and fails if the server does
	// not offer STARTTLS. Ignored when Secure is set.
	StartTLS bool
	From     string
	// LocalName is sent in EHLO. Defaults to "localhost".
	LocalName string
	TLSConfig *tls.Config
}

// SMTPNotifier delivers each email over its own SMTP connection.
type SMTPNotifier struct {
	cfg    SMTPConfig
	logger *zap.Logger
}

func NewSMTPNotifier(cfg SMTPConfig, logger *zap.Logger) *SMTPNotifier {
	if cfg.LocalName == "" {
		cfg.LocalName = "localhost"
	}
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{ServerName: cfg.Host}
	}
	return &SMTPNotifier{cfg: cfg, logger: logger}
}

func (n *SMTPNotifier) addr() string {
	return net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
}

func (n *SMTPNotifier) dial() (*smtp.Client, error) {
	switch {
	case n.cfg.Secure:
		return smtp.DialTLS(n.addr(), n.cfg.TLSConfig)
	case n.cfg.StartTLS:
		return smtp.DialStartTLS(n.addr(), n.cfg.TLSConfig)
	default:
		return smtp.Dial(n.addr())
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, email Email) error {
	if email.From == "" {
		email.From = n.cfg.From
	}
	raw, err := Compose(email)
	if err != nil {
		return err
	}
	from, err := mail.ParseAddress(email.From)
	if err != nil {
		return fmt.Errorf("%w: sender %q: %v", ErrInvalidEmail, email.From, err)
	}
	to, _ := mail.ParseAddress(email.To)

	if err := ctx.Err(); err != nil {
		return err
	}

	c, err := n.dial()
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", n.addr(), err)
	}
	defer c.Close()

	// go-smtp has no context support, so drop the connection on cancel.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.Hello(n.cfg.LocalName); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}
	if n.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(from.Address, nil); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to.Address, nil); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	if err := c.Quit(); err != nil {
		n.logger.Debug("smtp quit failed", zap.Error(err))
	}

	n.logger.Info("email sent via smtp",
		zap.String("to", to.Address),
		zap.String("request_id", email.Headers["X-Request-ID"]),
	)
	return nil
}
