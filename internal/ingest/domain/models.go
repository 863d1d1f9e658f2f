// Package domain defines the ingestion wire types and service contract.
package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/usageguard/internal/ratelimit"
)

// MaxBatchSize bounds one ingest request.
const MaxBatchSize = 1000

// IngestEvent is one usage event as submitted by a client. Timestamp is
// unix epoch milliseconds.
type IngestEvent struct {
	TransactionID string                 `json:"transaction_id"`
	CustomerID    string                 `json:"customer_id"`
	EventType     string                 `json:"event_type"`
	Timestamp     int64                  `json:"timestamp"`
	Properties    map[string]interface{} `json:"properties,omitempty"`
}

// Rejection reasons reported per failed event.
const (
	ReasonMissingTransactionID = "missing_transaction_id"
	ReasonMissingCustomerID    = "missing_customer_id"
	ReasonMissingEventType     = "missing_event_type"
	ReasonInvalidTimestamp     = "invalid_timestamp"
	ReasonEventTooOld          = "event_too_old"
	ReasonRateLimited          = "rate_limited"
)

// Failure is one rejected event and why.
type Failure struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

// BatchResult summarizes one ingest request. Every submitted event lands in
// exactly one of accepted, duplicates or failed.
type BatchResult struct {
	BatchID    string    `json:"batch_id"`
	Accepted   int       `json:"accepted"`
	Duplicates int       `json:"duplicates"`
	Failed     []Failure `json:"failed,omitempty"`
}

// ErrBatchTooLarge reports a request above MaxBatchSize.
var ErrBatchTooLarge = errors.New("batch_too_large")

// Service is the ingestion front door.
type Service interface {
	// IngestBatch validates, deduplicates, admits and stores a batch.
	// A store failure fails the whole batch; nothing is partially lost
	// silently.
	IngestBatch(ctx context.Context, events []IngestEvent) (BatchResult, error)

	// CheckAdmission evaluates and records one admission for the customer.
	CheckAdmission(ctx context.Context, customerID string, limit int) (ratelimit.Result, error)
}
