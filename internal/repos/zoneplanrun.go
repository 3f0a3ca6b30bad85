package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/types"
)

type ZonePlanRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, runs []*types.ZonePlanRun) ([]*types.ZonePlanRun, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) ([]*types.ZonePlanRun, error)
	GetBySubject(ctx context.Context, tx *gorm.DB, subject string, limit int) ([]*types.ZonePlanRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, runID uuid.UUID, fields map[string]interface{}) error
	SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) error
}

type zonePlanRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewZonePlanRunRepo(db *gorm.DB, baseLog *logger.Logger) ZonePlanRunRepo {
	return &zonePlanRunRepo{db: db, log: baseLog.With("repo", "ZonePlanRunRepo")}
}

func (r *zonePlanRunRepo) Create(ctx context.Context, tx *gorm.DB, runs []*types.ZonePlanRun) ([]*types.ZonePlanRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(runs) == 0 {
		return []*types.ZonePlanRun{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *zonePlanRunRepo) GetByIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) ([]*types.ZonePlanRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.ZonePlanRun
	if len(runIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", runIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *zonePlanRunRepo) GetBySubject(ctx context.Context, tx *gorm.DB, subject string, limit int) ([]*types.ZonePlanRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if limit <= 0 {
		limit = 50
	}
	var results []*types.ZonePlanRun
	if err := transaction.WithContext(ctx).
		Where("subject = ?", subject).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *zonePlanRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, runID uuid.UUID, fields map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).
		Model(&types.ZonePlanRun{}).
		Where("id = ?", runID).
		Updates(fields).Error
}

func (r *zonePlanRunRepo) SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(runIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id IN ?", runIDs).
		Delete(&types.ZonePlanRun{}).Error
}
