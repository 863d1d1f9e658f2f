package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/usageguard/internal/event/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

type repositoryImpl struct {
	db *gorm.DB
}

// Provide builds the gorm-backed event repository.
func Provide(db *gorm.DB) domain.Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) InsertBatch(ctx context.Context, events []*domain.UsageEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if r.db == nil {
		return 0, errors.New("missing_db")
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).
		CreateInBatches(events, insertBatchSize)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) CountRange(ctx context.Context, customerID, eventType string, start, end time.Time) (int64, error) {
	var count int64
	err := r.scoped(ctx, customerID, eventType, start, end).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repositoryImpl) FindRange(ctx context.Context, customerID, eventType string, start, end time.Time) ([]domain.UsageEvent, error) {
	var events []domain.UsageEvent
	err := r.scoped(ctx, customerID, eventType, start, end).
		Order("recorded_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repositoryImpl) DistinctCustomers(ctx context.Context, since time.Time) ([]string, error) {
	var customers []string
	err := r.db.WithContext(ctx).
		Model(&domain.UsageEvent{}).
		Where("recorded_at >= ?", since).
		Distinct("customer_id").
		Order("customer_id ASC").
		Pluck("customer_id", &customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *repositoryImpl) scoped(ctx context.Context, customerID, eventType string, start, end time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&domain.UsageEvent{}).
		Where("customer_id = ? AND event_type = ? AND recorded_at >= ? AND recorded_at < ?",
			customerID, eventType, start, end)
}
