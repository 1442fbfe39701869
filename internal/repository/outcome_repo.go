package repository

import (
	"context"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"gorm.io/gorm"
)

type OutcomeRepository interface {
	CreateBatch(ctx context.Context, runID string, outcomes []domain.Outcome) error
	ListByRun(ctx context.Context, runID string) ([]domain.Outcome, error)
	ListFailedIdentifiers(ctx context.Context, runID string) ([]string, error)
}

type GormOutcomeRepo struct {
	db *gorm.DB
}

func NewGormOutcomeRepo(db *gorm.DB) *GormOutcomeRepo {
	return &GormOutcomeRepo{db: db}
}

func (r *GormOutcomeRepo) CreateBatch(ctx context.Context, runID string, outcomes []domain.Outcome) error {
	models := make([]OutcomeModel, 0, len(outcomes))
	for i := range outcomes {
		models = append(models, *outcomeModelFromDomain(runID, i, &outcomes[i]))
	}

	if len(models) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).CreateInBatches(&models, 100).Error
}

func (r *GormOutcomeRepo) ListByRun(ctx context.Context, runID string) ([]domain.Outcome, error) {
	var models []OutcomeModel
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("position ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	outcomes := make([]domain.Outcome, 0, len(models))
	for i := range models {
		outcomes = append(outcomes, *outcomeModelToDomain(&models[i]))
	}
	return outcomes, nil
}

func (r *GormOutcomeRepo) ListFailedIdentifiers(ctx context.Context, runID string) ([]string, error) {
	var identifiers []string
	err := r.db.WithContext(ctx).
		Model(&OutcomeModel{}).
		Where("run_id = ? AND state = ?", runID, domain.OutcomeFailed).
		Order("position ASC").
		Pluck("identifier", &identifiers).Error
	if err != nil {
		return nil, err
	}
	return identifiers, nil
}
