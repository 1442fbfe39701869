package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/resend/resend-go/v2"
)

var _ Provider = (*ResendProvider)(nil)

// ResendProvider delivers mail through the Resend HTTP API.
type ResendProvider struct {
	client *resend.Client
}

func NewResendProvider(apiKey string) (*ResendProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: resend api key is required", domain.ErrConfiguration)
	}
	return NewResendProviderWithClient(resend.NewClient(apiKey))
}

func NewResendProviderWithClient(client *resend.Client) (*ResendProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("resend client is required")
	}
	return &ResendProvider{client: client}, nil
}

func (p *ResendProvider) Transport() domain.Transport { return domain.TransportResend }

func (p *ResendProvider) Send(ctx context.Context, msg domain.Message) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("resend provider is not initialized")
	}
	if err := validateMessage(msg); err != nil {
		return nil, &ProviderError{
			Transport: domain.TransportResend,
			Message:   "invalid message",
			Cause:     err,
		}
	}

	sent, err := p.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return nil, &ProviderError{
			Transport: domain.TransportResend,
			Message:   "resend request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	response := &ProviderResponse{}
	if sent != nil {
		response.MessageID = sent.Id
	}
	return response, nil
}
