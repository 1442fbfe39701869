package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 30 * time.Second

var _ Provider = (*SMTPProvider)(nil)

// SMTPProvider delivers HTML mail through an SMTP relay.
type SMTPProvider struct {
	client *mail.Client
	host   string
}

func NewSMTPProvider(settings domain.SMTPSettings) (*SMTPProvider, error) {
	host := strings.TrimSpace(settings.Host)
	if host == "" {
		return nil, fmt.Errorf("%w: smtp host is required", domain.ErrConfiguration)
	}

	client, err := mail.NewClient(host, smtpOptions(settings)...)
	if err != nil {
		return nil, fmt.Errorf("%w: smtp client: %v", domain.ErrConfiguration, err)
	}

	return &SMTPProvider{client: client, host: host}, nil
}

func smtpOptions(settings domain.SMTPSettings) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(settings.Port),
		mail.WithTimeout(defaultSMTPTimeout),
	}

	if settings.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(settings.Username),
			mail.WithPassword(settings.Password),
		)
	}

	switch {
	case settings.SSL:
		opts = append(opts, mail.WithSSL())
	case settings.TLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	return opts
}

func (p *SMTPProvider) Transport() domain.Transport { return domain.TransportSMTP }

func (p *SMTPProvider) Send(ctx context.Context, msg domain.Message) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("smtp provider is not initialized")
	}

	m, err := buildMailMessage(msg)
	if err != nil {
		return nil, &ProviderError{
			Transport: domain.TransportSMTP,
			Message:   "invalid message",
			Cause:     err,
		}
	}

	if err := p.client.DialAndSendWithContext(ctx, m); err != nil {
		return nil, &ProviderError{
			Transport: domain.TransportSMTP,
			Message:   fmt.Sprintf("send via %s failed", p.host),
			Transient: isTransientSMTPError(err),
			Cause:     err,
		}
	}

	return &ProviderResponse{}, nil
}

func buildMailMessage(msg domain.Message) (*mail.Msg, error) {
	if err := validateMessage(msg); err != nil {
		return nil, err
	}

	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("%w: sender %q: %v", domain.ErrValidation, msg.From, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("%w: destination %v: %v", domain.ErrValidation, msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)

	return m, nil
}

func isTransientSMTPError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}

	return IsTransient(err)
}
