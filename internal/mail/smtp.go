package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	derrors "github.com/uveral/diario/internal/errors"
)

// SMTPConfig configures the SMTP relay sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// Timeout bounds the whole exchange with the relay, dial included.
	Timeout time.Duration
}

type sendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// SMTPSender sends email through an SMTP relay.
type SMTPSender struct {
	host    string
	addr    string
	auth    smtp.Auth
	timeout time.Duration
	send    sendFunc
	now     func() time.Time
	logger  zerolog.Logger
}

// NewSMTPSender creates an SMTP sender. Authentication is PLAIN when a
// username is configured.
func NewSMTPSender(cfg SMTPConfig, logger zerolog.Logger) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	s := &SMTPSender{
		host:    cfg.Host,
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:    auth,
		timeout: cfg.Timeout,
		now:     time.Now,
		logger:  logger.With().Str("component", "mail").Str("provider", "smtp").Logger(),
	}
	s.send = s.deliver
	return s
}

// Send composes msg as a MIME message and hands it to the relay.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from, err := gomail.ParseAddress(msg.From)
	if err != nil {
		return fmt.Errorf("parse sender %q: %w", msg.From, err)
	}

	raw, err := Compose(msg, s.now())
	if err != nil {
		return err
	}

	if err := s.send(ctx, from.Address, msg.To, raw); err != nil {
		if ctx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("%w: smtp send via %s: %v", derrors.ErrTimeout, s.addr, err)
		}
		return fmt.Errorf("smtp send via %s: %w", s.addr, err)
	}

	s.logger.Info().
		Int("recipients", len(msg.To)).
		Str("subject", msg.Subject).
		Msg("email sent")
	return nil
}

// deliver runs one SMTP transaction. The connection deadline is the earlier
// of ctx's deadline and the configured timeout, and cancelling ctx closes
// the connection.
func (s *SMTPSender) deliver(ctx context.Context, from string, to []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return c.Quit()
}

// Compose renders msg as an RFC 5322 message with a single HTML part.
func Compose(msg Message, date time.Time) ([]byte, error) {
	from, err := gomail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("parse sender %q: %w", msg.From, err)
	}
	to := make([]*gomail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		a, err := gomail.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("parse recipient %q: %w", addr, err)
		}
		to = append(to, a)
	}

	var h gomail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*gomail.Address{from})
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if _, err := io.WriteString(w, msg.HTML); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}
