package domain

import "strings"

// Recipient is a display name and address eligible to receive a message.
type Recipient struct {
	Name    string
	Address string
}

func (r Recipient) IsValid() bool {
	return strings.Contains(r.Address, "@")
}

// Message is one outbound mail handed to a transport.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
}
