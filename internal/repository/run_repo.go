package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"gorm.io/gorm"
)

// RunFinish carries the final state written when a run completes or aborts.
type RunFinish struct {
	Status      domain.RunStatus
	FailedCount int
	Error       *string
	FinishedAt  time.Time
}

type RunRepository interface {
	Create(ctx context.Context, r *domain.Run) error
	GetByID(ctx context.Context, id string) (*domain.Run, error)
	Finish(ctx context.Context, id string, finish RunFinish) error
	GetRetryable(ctx context.Context, maxRetries int, limit int) ([]domain.Run, error)
	MarkRetried(ctx context.Context, id string) error
}

type GormRunRepo struct {
	db *gorm.DB
}

func NewGormRunRepo(db *gorm.DB) *GormRunRepo {
	return &GormRunRepo{db: db}
}

func (r *GormRunRepo) Create(ctx context.Context, run *domain.Run) error {
	model := runModelFromDomain(run)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if run != nil {
		*run = *runModelToDomain(model)
	}
	return nil
}

func (r *GormRunRepo) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	var model RunModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return runModelToDomain(&model), nil
}

func (r *GormRunRepo) Finish(ctx context.Context, id string, finish RunFinish) error {
	result := r.db.WithContext(ctx).
		Model(&RunModel{}).
		Where("id = ? AND status = ?", id, domain.RunStatusRunning).
		Updates(map[string]any{
			"status":       finish.Status,
			"failed_count": finish.FailedCount,
			"error":        finish.Error,
			"finished_at":  finish.FinishedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// retryableStatuses are the finished states that leave identifiers unsent.
var retryableStatuses = []domain.RunStatus{domain.RunStatusPartialFailure, domain.RunStatusAborted}

// GetRetryable returns partially failed or aborted runs that still have retry
// budget, oldest first.
func (r *GormRunRepo) GetRetryable(ctx context.Context, maxRetries int, limit int) ([]domain.Run, error) {
	var models []RunModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND retry_count < ?", retryableStatuses, maxRetries).
		Order("finished_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	runs := make([]domain.Run, 0, len(models))
	for i := range models {
		runs = append(runs, *runModelToDomain(&models[i]))
	}
	return runs, nil
}

// MarkRetried flags a retryable run as handed off to a child run. It returns
// ErrConflict when the run was already marked.
func (r *GormRunRepo) MarkRetried(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&RunModel{}).
		Where("id = ? AND status IN ?", id, retryableStatuses).
		Update("status", domain.RunStatusRetried)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}
