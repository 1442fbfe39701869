package repository

import (
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// RunModel is the persistence model for the runs table.
type RunModel struct {
	ID          string           `gorm:"type:uuid;primaryKey"`
	JobName     string           `gorm:"type:varchar(255);not null"`
	OutputKey   string           `gorm:"type:varchar(255);not null"`
	ParentRunID *string          `gorm:"type:uuid"`
	Status      domain.RunStatus `gorm:"type:varchar(20);not null"`
	TotalCount  int              `gorm:"not null"`
	FailedCount int              `gorm:"not null;default:0"`
	RetryCount  int              `gorm:"not null;default:0"`
	Error       *string          `gorm:"type:text"`
	StartedAt   time.Time        `gorm:"type:timestamptz;not null"`
	FinishedAt  *time.Time       `gorm:"type:timestamptz"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (RunModel) TableName() string {
	return "runs"
}

// OutcomeModel is the persistence model for run_outcomes. Position keeps the
// identifier's place in the submitted batch.
type OutcomeModel struct {
	ID         uint                `gorm:"primaryKey;autoIncrement"`
	RunID      string              `gorm:"type:uuid;not null"`
	Position   int                 `gorm:"not null"`
	Identifier string              `gorm:"type:varchar(512);not null"`
	State      domain.OutcomeState `gorm:"type:varchar(20);not null"`
	Reason     string              `gorm:"type:text;not null;default:''"`
	Recipients int                 `gorm:"not null;default:0"`
	Sent       int                 `gorm:"not null;default:0"`
	CreatedAt  time.Time
}

func (OutcomeModel) TableName() string {
	return "run_outcomes"
}

// AttemptModel is the persistence model for send_attempts.
type AttemptModel struct {
	ID          string           `gorm:"type:uuid;primaryKey"`
	RunID       string           `gorm:"type:uuid;not null"`
	Identifier  string           `gorm:"type:varchar(512);not null"`
	Recipient   string           `gorm:"type:varchar(320);not null"`
	Destination string           `gorm:"type:varchar(320);not null"`
	Transport   domain.Transport `gorm:"type:varchar(10);not null"`
	MessageID   *string          `gorm:"type:varchar(255)"`
	Error       *string          `gorm:"type:text"`
	DurationMs  int64            `gorm:"not null;default:0"`
	CreatedAt   time.Time
}

func (AttemptModel) TableName() string {
	return "send_attempts"
}

func runModelFromDomain(r *domain.Run) *RunModel {
	if r == nil {
		return nil
	}

	return &RunModel{
		ID:          r.ID,
		JobName:     r.JobName,
		OutputKey:   r.OutputKey,
		ParentRunID: r.ParentRunID,
		Status:      r.Status,
		TotalCount:  r.TotalCount,
		FailedCount: r.FailedCount,
		RetryCount:  r.RetryCount,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func runModelToDomain(m *RunModel) *domain.Run {
	if m == nil {
		return nil
	}

	return &domain.Run{
		ID:          m.ID,
		JobName:     m.JobName,
		OutputKey:   m.OutputKey,
		ParentRunID: m.ParentRunID,
		Status:      m.Status,
		TotalCount:  m.TotalCount,
		FailedCount: m.FailedCount,
		RetryCount:  m.RetryCount,
		Error:       m.Error,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func outcomeModelFromDomain(runID string, position int, o *domain.Outcome) *OutcomeModel {
	if o == nil {
		return nil
	}

	return &OutcomeModel{
		RunID:      runID,
		Position:   position,
		Identifier: o.Identifier,
		State:      o.State,
		Reason:     o.Reason,
		Recipients: o.Recipients,
		Sent:       o.Sent,
	}
}

func outcomeModelToDomain(m *OutcomeModel) *domain.Outcome {
	if m == nil {
		return nil
	}

	return &domain.Outcome{
		Identifier: m.Identifier,
		State:      m.State,
		Reason:     m.Reason,
		Recipients: m.Recipients,
		Sent:       m.Sent,
	}
}

func attemptModelFromDomain(a *domain.Attempt) *AttemptModel {
	if a == nil {
		return nil
	}

	return &AttemptModel{
		ID:          a.ID,
		RunID:       a.RunID,
		Identifier:  a.Identifier,
		Recipient:   a.Recipient,
		Destination: a.Destination,
		Transport:   a.Transport,
		MessageID:   a.MessageID,
		Error:       a.Error,
		DurationMs:  a.Duration.Milliseconds(),
		CreatedAt:   a.CreatedAt,
	}
}

func attemptModelToDomain(m *AttemptModel) *domain.Attempt {
	if m == nil {
		return nil
	}

	return &domain.Attempt{
		ID:          m.ID,
		RunID:       m.RunID,
		Identifier:  m.Identifier,
		Recipient:   m.Recipient,
		Destination: m.Destination,
		Transport:   m.Transport,
		MessageID:   m.MessageID,
		Error:       m.Error,
		Duration:    time.Duration(m.DurationMs) * time.Millisecond,
		CreatedAt:   m.CreatedAt,
	}
}
