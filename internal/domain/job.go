package domain

import (
	"fmt"
	"strings"
)

// Transport selects the outbound mail delivery backend for a job.
type Transport string

const (
	TransportSMTP    Transport = "SMTP"
	TransportResend  Transport = "RESEND"
	TransportWebhook Transport = "WEBHOOK"
)

func (t Transport) String() string { return string(t) }

func (t Transport) IsValid() bool {
	switch t {
	case TransportSMTP, TransportResend, TransportWebhook:
		return true
	}
	return false
}

func ParseTransportFromString(s string) (Transport, error) {
	tr := Transport(strings.ToUpper(strings.TrimSpace(s)))
	if !tr.IsValid() {
		return "", fmt.Errorf("%w: invalid transport %q", ErrValidation, s)
	}
	return tr, nil
}

// BodyFormat describes how the rendered body is turned into the HTML part.
type BodyFormat string

const (
	BodyFormatHTML     BodyFormat = "HTML"
	BodyFormatMarkdown BodyFormat = "MARKDOWN"
)

func (f BodyFormat) String() string { return string(f) }

func (f BodyFormat) IsValid() bool {
	switch f {
	case BodyFormatHTML, BodyFormatMarkdown:
		return true
	}
	return false
}

func ParseBodyFormatFromString(s string) (BodyFormat, error) {
	bf := BodyFormat(strings.ToUpper(strings.TrimSpace(s)))
	if !bf.IsValid() {
		return "", fmt.Errorf("%w: invalid body format %q", ErrValidation, s)
	}
	return bf, nil
}

// Reserved tokens that bypass the mapping and read the owner field.
const (
	TokenOwnerName  = "$_owner_name"
	TokenOwnerEmail = "$_owner_email"
	OwnerField      = "owner"

	// TokenMarker flags a recipient list that must be rendered before splitting.
	TokenMarker = "$"

	PlaceholderRecipientName  = "#REC_NAME"
	PlaceholderRecipientEmail = "#REC_EMAIL"
)

// SMTPSettings holds connection parameters for the SMTP transport.
type SMTPSettings struct {
	Host     string
	Port     int
	TLS      bool
	SSL      bool
	Username string
	Password string
}

// Job is the notification configuration for one batch run. It is never mutated
// after loading.
type Job struct {
	Name         string
	Transport    Transport
	SMTP         SMTPSettings
	ResendAPIKey string
	WebhookURL   string
	From         string
	To           string
	Subject      string
	Body         string
	BodyFormat   BodyFormat
	Vars         []string
	Mapping      map[string]string
	TestMode     bool
	Redirect     string
	Alert        string
}

// IsOwnerToken reports whether token derives from the owner field.
func IsOwnerToken(token string) bool {
	return token == TokenOwnerName || token == TokenOwnerEmail
}

// TokenField returns the record field a token reads.
func TokenField(token string, mapping map[string]string) string {
	if IsOwnerToken(token) {
		return OwnerField
	}
	return mapping[token]
}

func (j *Job) FieldFor(token string) string {
	return TokenField(token, j.Mapping)
}

func (j *Job) Validate() error {
	if j == nil {
		return fmt.Errorf("%w: job is required", ErrConfiguration)
	}
	if strings.TrimSpace(j.From) == "" {
		return fmt.Errorf("%w: job %q: from is required", ErrConfiguration, j.Name)
	}
	if strings.TrimSpace(j.To) == "" {
		return fmt.Errorf("%w: job %q: to is required", ErrConfiguration, j.Name)
	}
	if !j.Transport.IsValid() {
		return fmt.Errorf("%w: job %q: invalid transport %q", ErrConfiguration, j.Name, j.Transport)
	}
	if !j.BodyFormat.IsValid() {
		return fmt.Errorf("%w: job %q: invalid body format %q", ErrConfiguration, j.Name, j.BodyFormat)
	}

	switch j.Transport {
	case TransportSMTP:
		if strings.TrimSpace(j.SMTP.Host) == "" {
			return fmt.Errorf("%w: job %q: smtp host is required", ErrConfiguration, j.Name)
		}
		if j.SMTP.Port <= 0 || j.SMTP.Port > 65535 {
			return fmt.Errorf("%w: job %q: invalid smtp port %d", ErrConfiguration, j.Name, j.SMTP.Port)
		}
	case TransportResend:
		if strings.TrimSpace(j.ResendAPIKey) == "" {
			return fmt.Errorf("%w: job %q: resend api key is required", ErrConfiguration, j.Name)
		}
	case TransportWebhook:
		if strings.TrimSpace(j.WebhookURL) == "" {
			return fmt.Errorf("%w: job %q: webhook url is required", ErrConfiguration, j.Name)
		}
	}

	if j.TestMode && !strings.Contains(j.Redirect, "@") {
		return fmt.Errorf("%w: job %q: testmode requires a redirect address", ErrConfiguration, j.Name)
	}

	for _, token := range j.Vars {
		if token == "" {
			return fmt.Errorf("%w: job %q: empty variable token", ErrConfiguration, j.Name)
		}
	}

	return nil
}
