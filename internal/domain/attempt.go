package domain

import "time"

// Attempt records a single per-recipient send.
type Attempt struct {
	ID          string
	RunID       string
	Identifier  string
	Recipient   string
	Destination string
	Transport   Transport
	MessageID   *string
	Error       *string
	Duration    time.Duration
	CreatedAt   time.Time
}
