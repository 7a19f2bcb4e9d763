package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/khachaneojas/service-scheduler/internal/circuitbreaker"
)

const breakerKey = "smtp"

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPTransport sends through an SMTP relay, guarded by a circuit breaker
// when one is set.
type SMTPTransport struct {
	cfg     SMTPConfig
	breaker *circuitbreaker.CircuitBreaker
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg}
}

func (t *SMTPTransport) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *SMTPTransport {
	t.breaker = cb
	return t
}

// Send returns false without contacting the relay when recipient, subject or
// body is blank.
func (t *SMTPTransport) Send(ctx context.Context, recipient, subject, body string, isHTML bool, attachmentPath string) (bool, error) {
	if blank(recipient) || blank(subject) || blank(body) {
		return false, nil
	}
	if blank(t.cfg.From) {
		return false, fmt.Errorf("smtp: sender address is not configured")
	}

	msg, err := t.message(recipient, subject, body, isHTML, attachmentPath)
	if err != nil {
		return false, err
	}

	deliver := func() error {
		client, err := t.client()
		if err != nil {
			return err
		}
		return client.DialAndSendWithContext(ctx, msg)
	}
	if t.breaker != nil {
		err = t.breaker.Do(breakerKey, deliver)
	} else {
		err = deliver()
	}
	if err != nil {
		return false, fmt.Errorf("smtp: send to %s: %w", recipient, err)
	}
	return true, nil
}

func (t *SMTPTransport) message(recipient, subject, body string, isHTML bool, attachmentPath string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(t.cfg.From); err != nil {
		return nil, fmt.Errorf("smtp: from: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("smtp: to: %w", err)
	}
	msg.Subject(subject)

	contentType := mail.TypeTextPlain
	if isHTML {
		contentType = mail.TypeTextHTML
	}
	msg.SetBodyString(contentType, body)

	if !blank(attachmentPath) {
		msg.AttachFile(attachmentPath)
	}
	return msg, nil
}

func (t *SMTPTransport) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(t.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password),
		)
	}
	client, err := mail.NewClient(t.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp: client: %w", err)
	}
	return client, nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
