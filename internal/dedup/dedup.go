// Package dedup implements the idempotency guard for usage ingestion.
//
// Every accepted transaction id is marked with a bounded-lifetime presence
// marker; a marked id can never be accepted again while the marker is live.
// Correctness rests on the underlying store performing a true atomic
// conditional write: two concurrent admits of one id must yield exactly one
// fresh outcome.
package dedup

import (
	"context"
	"errors"
	"time"
)

// Outcome classifies a single admit decision.
type Outcome string

const (
	OutcomeNew       Outcome = "new"
	OutcomeDuplicate Outcome = "duplicate"
)

// ErrStoreUnavailable reports that the marker store could not be reached.
// Callers must fail the whole batch; an unreachable store never reads as
// "new" or "duplicate".
var ErrStoreUnavailable = errors.New("dedup_store_unavailable")

// ErrEmptyTransactionID reports a blank transaction id.
var ErrEmptyTransactionID = errors.New("empty_transaction_id")

// Guard deduplicates events by their client-assigned transaction id.
type Guard interface {
	// Admit marks the id and reports whether it was fresh.
	Admit(ctx context.Context, transactionID string) (Outcome, error)

	// AdmitBatch marks many ids in one store round trip. Each id's outcome
	// is independent of the others; on store failure no id is admitted.
	AdmitBatch(ctx context.Context, transactionIDs []string) (map[string]Outcome, error)

	// Forget releases markers for ids whose events were not stored, so a
	// later retry is admitted as fresh rather than misread as a duplicate.
	Forget(ctx context.Context, transactionIDs []string) error
}

const (
	keyPrefix       = "dedup:"
	janitorInterval = time.Hour
)

func markerKey(transactionID string) string {
	return keyPrefix + transactionID
}

// normalizeRetention clamps the marker lifetime to a sane floor.
func normalizeRetention(retention time.Duration) time.Duration {
	if retention <= 0 {
		return 30 * 24 * time.Hour
	}
	return retention
}
