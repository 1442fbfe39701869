package queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// BatchMessage is the broker payload for one batch run.
type BatchMessage struct {
	RunID         string   `json:"runId"`
	CorrelationID string   `json:"correlationId,omitempty"`
	Job           string   `json:"job"`
	Identifiers   []string `json:"identifiers"`
	OutputKey     string   `json:"outputKey"`
	ParentRunID   string   `json:"parentRunId,omitempty"`
	RetryCount    int      `json:"retryCount,omitempty"`
}

func (m BatchMessage) Validate() error {
	if strings.TrimSpace(m.RunID) == "" {
		return fmt.Errorf("%w: runId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Job) == "" {
		return fmt.Errorf("%w: job is required", domain.ErrValidation)
	}
	if len(m.Identifiers) == 0 {
		return fmt.Errorf("%w: identifiers must not be empty", domain.ErrValidation)
	}
	for i, id := range m.Identifiers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: identifiers[%d] is empty", domain.ErrValidation, i)
		}
	}
	if m.RetryCount < 0 {
		return fmt.Errorf("%w: retryCount must not be negative", domain.ErrValidation)
	}
	return nil
}

// ResultMessage reports the failed set of a finished run under its output key.
type ResultMessage struct {
	RunID         string           `json:"runId"`
	CorrelationID string           `json:"correlationId,omitempty"`
	Job           string           `json:"job"`
	OutputKey     string           `json:"outputKey"`
	Status        domain.RunStatus `json:"status"`
	Failed        []string         `json:"failed"`
	Error         string           `json:"error,omitempty"`
}

func (m ResultMessage) Validate() error {
	if strings.TrimSpace(m.RunID) == "" {
		return fmt.Errorf("%w: runId is required", domain.ErrValidation)
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", domain.ErrValidation, m.Status)
	}
	return nil
}

// IsPermanent reports whether a handler error can never succeed on redelivery.
func IsPermanent(err error) bool {
	return errors.Is(err, domain.ErrConfiguration) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound)
}
