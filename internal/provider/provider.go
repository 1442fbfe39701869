package provider

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// Provider is the outbound mail delivery port.
type Provider interface {
	Transport() domain.Transport
	Send(ctx context.Context, msg domain.Message) (*ProviderResponse, error)
}

// ProviderResponse stores transport call metadata for the attempt log.
type ProviderResponse struct {
	StatusCode int
	MessageID  string
}

// New builds the transport a job is configured for. Each job gets its own
// provider so connection settings are never shared between jobs.
func New(job *domain.Job) (Provider, error) {
	if job == nil {
		return nil, fmt.Errorf("%w: job is required", domain.ErrConfiguration)
	}

	switch job.Transport {
	case domain.TransportSMTP:
		return NewSMTPProvider(job.SMTP)
	case domain.TransportResend:
		return NewResendProvider(job.ResendAPIKey)
	case domain.TransportWebhook:
		return NewWebhookProvider(job.WebhookURL)
	default:
		return nil, fmt.Errorf("%w: unsupported transport %q", domain.ErrConfiguration, job.Transport)
	}
}

func validateMessage(msg domain.Message) error {
	if msg.From == "" {
		return fmt.Errorf("%w: sender is required", domain.ErrValidation)
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("%w: at least one destination is required", domain.ErrValidation)
	}
	return nil
}
