package domain

import (
	"context"
	"time"
)

// Repository is the append-only event store consumed by ingestion and the
// aggregation paths. All time ranges are half-open: [start, end).
type Repository interface {
	// InsertBatch appends events, skipping rows whose transaction id is
	// already present. Returns the number of rows actually written.
	InsertBatch(ctx context.Context, events []*UsageEvent) (int64, error)

	// CountRange counts matching events entirely server-side.
	CountRange(ctx context.Context, customerID, eventType string, start, end time.Time) (int64, error)

	// FindRange returns matching events ordered by recorded_at ascending.
	FindRange(ctx context.Context, customerID, eventType string, start, end time.Time) ([]UsageEvent, error)

	// DistinctCustomers lists customers with any event recorded since the
	// given instant.
	DistinctCustomers(ctx context.Context, since time.Time) ([]string, error)
}
