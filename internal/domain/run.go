package domain

import "time"

// RunStatus represents the processing state of a batch run.
type RunStatus string

const (
	RunStatusRunning        RunStatus = "RUNNING"
	RunStatusCompleted      RunStatus = "COMPLETED"
	RunStatusPartialFailure RunStatus = "PARTIAL_FAILURE"
	RunStatusAborted        RunStatus = "ABORTED"
	RunStatusRetried        RunStatus = "RETRIED"
)

func (s RunStatus) String() string { return string(s) }

func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusPartialFailure, RunStatusAborted, RunStatusRetried:
		return true
	}
	return false
}

// Run is one batch invocation of a job over a set of identifiers.
type Run struct {
	ID          string
	JobName     string
	OutputKey   string
	ParentRunID *string
	Status      RunStatus
	TotalCount  int
	FailedCount int
	RetryCount  int
	Error       *string
	StartedAt   time.Time
	FinishedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
