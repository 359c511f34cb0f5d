// Package notify delivers user-facing emails. Delivery is best-effort: callers
// hand messages to a Dispatcher and never wait for the outcome.
package notify

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier sends a single message.
type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier { return &LogNotifier{log: log} }

// Send implements Notifier. Bodies may carry reset links and are not logged.
func (l *LogNotifier) Send(_ context.Context, m Message) error {
	l.log.Info("email", zap.String("to", m.To), zap.String("subject", m.Subject), zap.Int("body_len", len(m.Body)))
	return nil
}

// SMTPConfig configures SMTPNotifier.
type SMTPConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPNotifier sends messages through an SMTP relay.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send func(ctx context.Context, m *mail.Msg) error
}

// NewSMTPNotifier constructs an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	s := &SMTPNotifier{cfg: cfg}
	s.send = s.dialAndSend
	return s
}

// Send implements Notifier.
func (s *SMTPNotifier) Send(ctx context.Context, m Message) error {
	msg, err := s.message(m)
	if err != nil {
		return err
	}
	if err := s.send(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPNotifier) message(m Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	return msg, nil
}

func (s *SMTPNotifier) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	host, portStr, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("smtp addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("smtp port: %w", err)
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(s.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	c, err := mail.NewClient(host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return c.DialAndSendWithContext(ctx, msg)
}
