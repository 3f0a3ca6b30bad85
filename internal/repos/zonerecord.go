package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/types"
)

type ZoneRecordRepo interface {
	Create(ctx context.Context, tx *gorm.DB, zones []*types.ZoneRecord) ([]*types.ZoneRecord, error)
	GetByRunIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) ([]*types.ZoneRecord, error)
	FullDeleteByRunIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) error
}

type zoneRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewZoneRecordRepo(db *gorm.DB, baseLog *logger.Logger) ZoneRecordRepo {
	return &zoneRecordRepo{db: db, log: baseLog.With("repo", "ZoneRecordRepo")}
}

func (r *zoneRecordRepo) Create(ctx context.Context, tx *gorm.DB, zones []*types.ZoneRecord) ([]*types.ZoneRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(zones) == 0 {
		return []*types.ZoneRecord{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&zones).Error; err != nil {
		return nil, err
	}
	return zones, nil
}

func (r *zoneRecordRepo) GetByRunIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) ([]*types.ZoneRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.ZoneRecord
	if len(runIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("run_id IN ?", runIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *zoneRecordRepo) FullDeleteByRunIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(runIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Unscoped().
		Where("run_id IN ?", runIDs).
		Delete(&types.ZoneRecord{}).Error
}
