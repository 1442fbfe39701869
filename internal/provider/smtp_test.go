package provider

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

func TestNewSMTPProviderOptions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		settings    domain.SMTPSettings
		wantOptions int
		wantPolicy  string
		wantAddr    string
	}{
		{
			name:        "plain relay",
			settings:    domain.SMTPSettings{Host: "smtp.x.org", Port: 25},
			wantOptions: 3,
			wantPolicy:  "NoTLS",
			wantAddr:    "smtp.x.org:25",
		},
		{
			name:        "starttls",
			settings:    domain.SMTPSettings{Host: "smtp.x.org", Port: 587, TLS: true},
			wantOptions: 3,
			wantPolicy:  "TLSMandatory",
			wantAddr:    "smtp.x.org:587",
		},
		{
			name:        "implicit ssl",
			settings:    domain.SMTPSettings{Host: "smtp.x.org", Port: 465, SSL: true},
			wantOptions: 3,
			wantPolicy:  "TLSMandatory",
			wantAddr:    "smtp.x.org:465",
		},
		{
			name:        "ssl wins over tls",
			settings:    domain.SMTPSettings{Host: "smtp.x.org", Port: 465, SSL: true, TLS: true},
			wantOptions: 3,
			wantPolicy:  "TLSMandatory",
			wantAddr:    "smtp.x.org:465",
		},
		{
			name:        "authenticated starttls",
			settings:    domain.SMTPSettings{Host: " smtp.x.org ", Port: 587, TLS: true, Username: "portal", Password: "secret"},
			wantOptions: 6,
			wantPolicy:  "TLSMandatory",
			wantAddr:    "smtp.x.org:587",
		},
		{
			name:        "authenticated plain relay",
			settings:    domain.SMTPSettings{Host: "smtp.x.org", Port: 2525, Username: "portal"},
			wantOptions: 6,
			wantPolicy:  "NoTLS",
			wantAddr:    "smtp.x.org:2525",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := len(smtpOptions(tc.settings)); got != tc.wantOptions {
				t.Fatalf("len(smtpOptions()) = %d, want %d", got, tc.wantOptions)
			}

			p, err := NewSMTPProvider(tc.settings)
			if err != nil {
				t.Fatalf("NewSMTPProvider() error = %v", err)
			}
			if got := p.client.TLSPolicy(); got != tc.wantPolicy {
				t.Fatalf("TLSPolicy() = %q, want %q", got, tc.wantPolicy)
			}
			if got := p.client.ServerAddr(); got != tc.wantAddr {
				t.Fatalf("ServerAddr() = %q, want %q", got, tc.wantAddr)
			}
		})
	}
}

func TestNewSMTPProviderRejectsBadSettings(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		settings domain.SMTPSettings
	}{
		{name: "missing host", settings: domain.SMTPSettings{Port: 25}},
		{name: "blank host", settings: domain.SMTPSettings{Host: "  ", Port: 25}},
		{name: "port out of range", settings: domain.SMTPSettings{Host: "smtp.x.org", Port: 70000}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := NewSMTPProvider(tc.settings); !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("NewSMTPProvider() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestSMTPProviderSendConnectionRefused(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if err := listener.Close(); err != nil {
		t.Fatalf("listener.Close() error = %v", err)
	}

	p, err := NewSMTPProvider(domain.SMTPSettings{Host: "127.0.0.1", Port: port})
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := p.Send(ctx, testMessage())
	if resp != nil {
		t.Fatalf("Send() response = %+v, want nil", resp)
	}

	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() error = %v, want *ProviderError", err)
	}
	if providerErr.Transport != domain.TransportSMTP {
		t.Fatalf("Transport = %s, want %s", providerErr.Transport, domain.TransportSMTP)
	}
	if providerErr.Cause == nil {
		t.Fatal("expected dial failure as cause")
	}
}

func TestSMTPProviderSendRejectsInvalidMessage(t *testing.T) {
	t.Parallel()

	p, err := NewSMTPProvider(domain.SMTPSettings{Host: "smtp.x.org", Port: 25})
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	msg := testMessage()
	msg.From = "not an address"

	_, err = p.Send(context.Background(), msg)
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() error = %v, want *ProviderError", err)
	}
	if providerErr.Transient {
		t.Fatal("invalid message must not be transient")
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Send() error = %v, want ErrValidation", err)
	}
}
