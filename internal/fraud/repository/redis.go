// Package repository stores weekday baselines in redis as JSON documents
// with a rolling lifetime.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/usageguard/internal/fraud/domain"
)

type redisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis builds a baseline store over the shared redis client.
func NewRedis(client *redis.Client, ttl time.Duration) domain.Repository {
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return &redisRepository{client: client, ttl: ttl}
}

func baselineKey(customerID, metricCode string, weekday time.Weekday) string {
	return fmt.Sprintf("baseline:%s:%s:%d", customerID, metricCode, int(weekday))
}

func (r *redisRepository) Get(ctx context.Context, customerID, metricCode string, weekday time.Weekday) (*domain.WeekdayBaseline, error) {
	raw, err := r.client.Get(ctx, baselineKey(customerID, metricCode, weekday)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	var baseline domain.WeekdayBaseline
	if err := json.Unmarshal(raw, &baseline); err != nil {
		return nil, fmt.Errorf("decode baseline: %w", err)
	}
	baseline.CustomerID = customerID
	baseline.MetricCode = metricCode
	baseline.Weekday = weekday
	return &baseline, nil
}

func (r *redisRepository) Put(ctx context.Context, baseline domain.WeekdayBaseline) error {
	raw, err := json.Marshal(baseline)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	key := baselineKey(baseline.CustomerID, baseline.MetricCode, baseline.Weekday)
	if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
