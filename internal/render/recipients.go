package render

import (
	"strings"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// ResolveRecipients expands a comma separated recipient list into distinct,
// valid recipients in encounter order. A list carrying tokens is rendered first.
func ResolveRecipients(list string, bindings []Binding) []domain.Recipient {
	if strings.Contains(list, domain.TokenMarker) {
		list = Render(list, bindings)
	}

	entries := strings.Split(list, ",")
	recipients := make([]domain.Recipient, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		name, address := ParseAddress(strings.TrimSpace(entry))
		recipient := domain.Recipient{Name: name, Address: address}
		if !recipient.IsValid() {
			continue
		}
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}
		recipients = append(recipients, recipient)
	}

	return recipients
}
