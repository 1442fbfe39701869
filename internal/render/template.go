package render

import (
	"strings"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// Binding is the value a token renders to for one record.
type Binding struct {
	Token string
	Value string
}

// Bind resolves every token against the record. Unresolved tokens bind to ""
// so they disappear from rendered text.
func Bind(record domain.Record, tokens []string, mapping map[string]string) []Binding {
	bindings := make([]Binding, 0, len(tokens))
	for _, token := range tokens {
		value := record.Scalar(domain.TokenField(token, mapping))

		switch token {
		case domain.TokenOwnerName:
			value, _ = ParseAddress(value)
		case domain.TokenOwnerEmail:
			_, value = ParseAddress(value)
		}

		bindings = append(bindings, Binding{Token: token, Value: value})
	}
	return bindings
}

// Render replaces each token in order. Later bindings see the output of
// earlier ones.
func Render(template string, bindings []Binding) string {
	text := template
	for _, b := range bindings {
		if b.Token == "" {
			continue
		}
		text = strings.ReplaceAll(text, b.Token, b.Value)
	}
	return text
}

// Personalize fills the per-recipient placeholders of a rendered body.
func Personalize(body string, recipient domain.Recipient) string {
	body = strings.ReplaceAll(body, domain.PlaceholderRecipientName, recipient.Name)
	return strings.ReplaceAll(body, domain.PlaceholderRecipientEmail, recipient.Address)
}
