package mail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gomail "github.com/wneessen/go-mail"
)

// DefaultTimeout bounds dialing and each SMTP exchange.
const DefaultTimeout = 15 * time.Second

type deliverFunc func(ctx context.Context, settings Settings, timeout time.Duration, msg *gomail.Msg) error

func dialAndSend(ctx context.Context, settings Settings, timeout time.Duration, msg *gomail.Msg) error {
	client, err := newClient(settings, timeout)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// SMTPSender delivers mail through an SMTP relay, with STARTTLS required
// except on port 465 where the connection is TLS from the start.
// Credentials can be replaced at runtime with Configure.
type SMTPSender struct {
	mu       sync.RWMutex
	settings Settings
	timeout  time.Duration
	logger   zerolog.Logger
	deliver  deliverFunc
	now      func() time.Time
}

func NewSMTPSender(settings Settings, logger zerolog.Logger) *SMTPSender {
	return &SMTPSender{
		settings: settings,
		timeout:  DefaultTimeout,
		logger:   logger.With().Str("component", "smtp").Logger(),
		deliver:  dialAndSend,
		now:      time.Now,
	}
}

// SetTimeout changes the dial and IO timeout. Zero or less keeps the current one.
func (s *SMTPSender) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// Configure replaces the account settings. Empty host and port keep the
// current values.
func (s *SMTPSender) Configure(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings.Host == "" {
		settings.Host = s.settings.Host
	}
	if settings.Port == 0 {
		settings.Port = s.settings.Port
	}
	s.settings = settings
	s.logger.Info().Str("account", settings.Username).Msg("mail sender configured")
}

func (s *SMTPSender) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *SMTPSender) Configured() bool {
	return s.Settings().Complete()
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	s.mu.RLock()
	settings, timeout := s.settings, s.timeout
	s.mu.RUnlock()

	if !settings.Complete() {
		s.logger.Error().Msg("mail sender not properly configured")
		return ErrNotConfigured
	}
	if !ValidAddress(to) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, to)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildMessage(settings.Sender(), to, subject, html, s.now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.deliver(ctx, settings, timeout, msg); err != nil {
		s.logger.Error().Err(err).Str("to", to).Msg("failed to send email")
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}

	s.logger.Info().Str("to", to).Str("subject", subject).Msg("email sent")
	return nil
}

func newClient(settings Settings, timeout time.Duration) (*gomail.Client, error) {
	opts := []gomail.Option{
		gomail.WithPort(settings.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(settings.Username),
		gomail.WithPassword(settings.Password),
		gomail.WithTimeout(timeout),
	}
	if settings.Port == 465 {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	return gomail.NewClient(settings.Host, opts...)
}

// buildMessage produces a UTF-8 HTML message; the subject is Q-encoded and
// the body quoted-printable.
func buildMessage(from, to, subject, html string, now time.Time) (*gomail.Msg, error) {
	msg := gomail.NewMsg(gomail.WithCharset(gomail.CharsetUTF8), gomail.WithEncoding(gomail.EncodingQP))
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("from %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("to %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDateWithValue(now)
	msg.SetBodyString(gomail.TypeTextHTML, html)
	return msg, nil
}
