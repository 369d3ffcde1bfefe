package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/config"
	"github.com/example/profile-provisioning/internal/processor"
)

var smtpCodePattern = regexp.MustCompile(`\b([245]\d{2})\b`)

// Dialer abstracts net.Dialer to simplify testing.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPOption configures the SMTP sender.
type SMTPOption func(*SMTPSender)

// WithDialer swaps the network dialer used to reach the relay.
func WithDialer(d Dialer) SMTPOption {
	return func(s *SMTPSender) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithClock replaces the clock used for timestamps and Date headers.
func WithClock(now func() time.Time) SMTPOption {
	return func(s *SMTPSender) {
		if now != nil {
			s.now = now
		}
	}
}

// SMTPSender delivers messages through an SMTP relay with STARTTLS when the
// server offers it.
type SMTPSender struct {
	logger zerolog.Logger
	host   string
	port   int
	from   string
	auth   smtp.Auth
	tlsCfg *tls.Config
	dialer Dialer
	now    func() time.Time
}

// NewSMTPSender constructs a Sender backed by the configured relay.
func NewSMTPSender(cfg config.SMTPConfig, logger zerolog.Logger, opts ...SMTPOption) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp sender: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp sender: invalid port %d", cfg.Port)
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp sender: from address is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	s := &SMTPSender{
		logger: logger,
		host:   cfg.Host,
		port:   cfg.Port,
		from:   strings.TrimSpace(cfg.From),
		dialer: &net.Dialer{Timeout: 30 * time.Second},
		now:    time.Now,
		tlsCfg: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
	}
	if strings.TrimSpace(cfg.User) != "" {
		s.auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Send delivers the message. Transport failures come back wrapped as
// transient; SMTP 5xx replies and bad addresses come back permanent.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if msg == nil {
		return nil, processor.WrapPermanent(errors.New("smtp sender: message is required"))
	}
	if len(msg.To) == 0 {
		return nil, processor.WrapPermanent(errors.New("smtp sender: at least one recipient is required"))
	}
	if msg.HTML == "" && msg.Text == "" {
		return nil, processor.WrapPermanent(errors.New("smtp sender: message body is empty"))
	}

	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		addr, err := mail.ParseAddress(strings.TrimSpace(to))
		if err != nil {
			return nil, processor.WrapPermanent(fmt.Errorf("smtp sender: invalid recipient %q: %w", to, err))
		}
		recipients = append(recipients, addr.Address)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	body := s.buildMessage(msg, recipients, messageID)

	if err := s.deliver(ctx, recipients, body); err != nil {
		s.logger.Warn().Err(err).Strs("to", recipients).Msg("smtp delivery failed")
		return nil, s.classify(err)
	}

	s.logger.Debug().Strs("to", recipients).Str("message_id", messageID).Msg("smtp delivery accepted")
	return &Receipt{MessageID: messageID, Timestamp: s.now()}, nil
}

func (s *SMTPSender) deliver(ctx context.Context, recipients []string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(s.tlsCfg); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(s.auth); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		return fmt.Errorf("data write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}

	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("quit: %w", err)
	}
	return ctx.Err()
}

func (s *SMTPSender) buildMessage(msg *Message, recipients []string, messageID string) []byte {
	var buf bytes.Buffer
	write := func(key, value string) {
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(sanitizeHeader(value))
		buf.WriteString("\r\n")
	}

	write("From", s.from)
	write("To", strings.Join(recipients, ", "))
	write("Subject", msg.Subject)
	write("Date", s.now().UTC().Format(time.RFC1123Z))
	write("Message-Id", messageID)
	write("MIME-Version", "1.0")
	for key, value := range msg.Headers {
		write(key, value)
	}

	switch {
	case msg.HTML != "" && msg.Text != "":
		boundary := "alt-" + uuid.NewString()
		write("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
		buf.WriteString("\r\n")
		writePart(&buf, boundary, "text/plain; charset=utf-8", msg.Text)
		writePart(&buf, boundary, "text/html; charset=utf-8", msg.HTML)
		fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	case msg.HTML != "":
		write("Content-Type", "text/html; charset=utf-8")
		buf.WriteString("\r\n")
		buf.WriteString(normalizeBody(msg.HTML))
	default:
		write("Content-Type", "text/plain; charset=utf-8")
		buf.WriteString("\r\n")
		buf.WriteString(normalizeBody(msg.Text))
	}

	return buf.Bytes()
}

func writePart(buf *bytes.Buffer, boundary, contentType, body string) {
	fmt.Fprintf(buf, "--%s\r\n", boundary)
	fmt.Fprintf(buf, "Content-Type: %s\r\n\r\n", contentType)
	buf.WriteString(normalizeBody(body))
	buf.WriteString("\r\n")
}

// classify maps SMTP reply codes onto the retry taxonomy: 4yz replies are
// transient per RFC 5321, 5yz are permanent, everything else (dial failures,
// resets) is transport trouble and therefore transient.
func (s *SMTPSender) classify(err error) error {
	if match := smtpCodePattern.FindStringSubmatch(err.Error()); match != nil {
		code, convErr := strconv.Atoi(match[1])
		if convErr == nil && code >= 500 {
			return processor.WrapPermanent(err)
		}
	}
	return processor.WrapTransient(err)
}

func sanitizeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.TrimSpace(value)
}

func normalizeBody(body string) string {
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}
