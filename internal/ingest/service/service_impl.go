// Package service implements the ingestion pipeline: validate, deduplicate,
// admit, store, announce.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/smallbiznis/usageguard/internal/clock"
	"github.com/smallbiznis/usageguard/internal/config"
	"github.com/smallbiznis/usageguard/internal/dedup"
	eventdomain "github.com/smallbiznis/usageguard/internal/event/domain"
	"github.com/smallbiznis/usageguard/internal/ingest/domain"
	"github.com/smallbiznis/usageguard/internal/liveevents"
	"github.com/smallbiznis/usageguard/internal/observability/metrics"
	"github.com/smallbiznis/usageguard/internal/ratelimit"
)

// futureSkew tolerates client clock drift ahead of server time.
const futureSkew = 5 * time.Minute

type service struct {
	guard   dedup.Guard
	limiter ratelimit.Limiter
	events  eventdomain.Repository
	node    *snowflake.Node
	hub     *liveevents.Hub
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger

	retention    time.Duration
	defaultLimit int
}

// Params collects the pipeline dependencies.
type Params struct {
	fx.In

	Guard   dedup.Guard
	Limiter ratelimit.Limiter
	Events  eventdomain.Repository
	Node    *snowflake.Node
	Hub     *liveevents.Hub
	Clock   clock.Clock
	Config  config.Config
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// New builds the ingestion service.
func New(p Params) domain.Service {
	return &service{
		guard:        p.Guard,
		limiter:      p.Limiter,
		events:       p.Events,
		node:         p.Node,
		hub:          p.Hub,
		clock:        p.Clock,
		metrics:      p.Metrics,
		log:          p.Log.Named("ingest"),
		retention:    p.Config.Dedup.Retention(),
		defaultLimit: p.Config.RateLimit.DefaultLimit,
	}
}

func (s *service) IngestBatch(ctx context.Context, events []domain.IngestEvent) (domain.BatchResult, error) {
	res := domain.BatchResult{BatchID: ulid.Make().String()}
	if len(events) == 0 {
		return res, nil
	}
	if len(events) > domain.MaxBatchSize {
		return res, domain.ErrBatchTooLarge
	}

	now := s.clock.Now()
	valid := make([]domain.IngestEvent, 0, len(events))
	for _, ev := range events {
		ev.TransactionID = strings.TrimSpace(ev.TransactionID)
		ev.CustomerID = strings.TrimSpace(ev.CustomerID)
		ev.EventType = strings.TrimSpace(ev.EventType)
		if reason := s.validate(ev, now); reason != "" {
			res.Failed = append(res.Failed, domain.Failure{TransactionID: ev.TransactionID, Reason: reason})
			s.metrics.RecordRejected(ctx, reason, 1)
			continue
		}
		valid = append(valid, ev)
	}
	if len(valid) == 0 {
		return res, nil
	}

	ids := make([]string, len(valid))
	for i, ev := range valid {
		ids[i] = ev.TransactionID
	}
	outcomes, err := s.guard.AdmitBatch(ctx, ids)
	if err != nil {
		return res, err
	}

	// One admission decision per distinct customer per batch; duplicates do
	// not consume admission slots.
	admitted := make(map[string]bool)
	checked := make(map[string]bool)
	claimed := make(map[string]bool)

	// Markers claimed for events that end up not stored must be released,
	// or a compliant retry would misread as a duplicate and be lost.
	var release []string

	rows := make([]*eventdomain.UsageEvent, 0, len(valid))
	for _, ev := range valid {
		if outcomes[ev.TransactionID] != dedup.OutcomeNew || claimed[ev.TransactionID] {
			res.Duplicates++
			s.metrics.RecordDuplicate(ctx, ev.EventType, 1)
			s.publish(ev, liveevents.StatusDeduplicated)
			continue
		}
		claimed[ev.TransactionID] = true

		if !checked[ev.CustomerID] {
			checked[ev.CustomerID] = true
			admit, err := s.limiter.CheckAndRecord(ctx, ev.CustomerID, s.defaultLimit)
			if err != nil {
				return res, err
			}
			s.metrics.RecordAdmission(ctx, admit.Allowed)
			admitted[ev.CustomerID] = admit.Allowed
		}
		if !admitted[ev.CustomerID] {
			res.Failed = append(res.Failed, domain.Failure{TransactionID: ev.TransactionID, Reason: domain.ReasonRateLimited})
			s.metrics.RecordRejected(ctx, domain.ReasonRateLimited, 1)
			release = append(release, ev.TransactionID)
			continue
		}

		rows = append(rows, &eventdomain.UsageEvent{
			ID:            s.node.Generate(),
			TransactionID: ev.TransactionID,
			CustomerID:    ev.CustomerID,
			EventType:     ev.EventType,
			RecordedAt:    time.UnixMilli(ev.Timestamp).UTC(),
			Properties:    datatypes.JSONMap(ev.Properties),
			CreatedAt:     now,
		})
	}

	if len(release) > 0 {
		if err := s.guard.Forget(ctx, release); err != nil {
			return res, err
		}
	}

	if len(rows) > 0 {
		written, err := s.events.InsertBatch(ctx, rows)
		if err != nil {
			ids := make([]string, len(rows))
			for i, row := range rows {
				ids[i] = row.TransactionID
			}
			if ferr := s.guard.Forget(ctx, ids); ferr != nil {
				s.log.Warn("dedup markers not released after insert failure",
					zap.String("batch_id", res.BatchID),
					zap.Error(ferr),
				)
			}
			return res, err
		}
		res.Accepted = int(written)
		// Rows skipped by the store's conflict clause were ingested before
		// the guard marker existed; they are duplicates, not losses.
		res.Duplicates += len(rows) - int(written)

		for _, row := range rows {
			s.metrics.RecordAccepted(ctx, row.EventType, 1)
			s.publish(domain.IngestEvent{
				TransactionID: row.TransactionID,
				CustomerID:    row.CustomerID,
				EventType:     row.EventType,
				Timestamp:     row.RecordedAt.UnixMilli(),
			}, liveevents.StatusAccepted)
		}
	}

	s.log.Info("batch ingested",
		zap.String("batch_id", res.BatchID),
		zap.Int("submitted", len(events)),
		zap.Int("accepted", res.Accepted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

func (s *service) CheckAdmission(ctx context.Context, customerID string, limit int) (ratelimit.Result, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	result, err := s.limiter.CheckAndRecord(ctx, customerID, limit)
	if err != nil {
		return ratelimit.Result{}, err
	}
	s.metrics.RecordAdmission(ctx, result.Allowed)
	return result, nil
}

func (s *service) validate(ev domain.IngestEvent, now time.Time) string {
	switch {
	case ev.TransactionID == "":
		return domain.ReasonMissingTransactionID
	case ev.CustomerID == "":
		return domain.ReasonMissingCustomerID
	case ev.EventType == "":
		return domain.ReasonMissingEventType
	case ev.Timestamp <= 0:
		return domain.ReasonInvalidTimestamp
	}

	at := time.UnixMilli(ev.Timestamp).UTC()
	if at.After(now.Add(futureSkew)) {
		return domain.ReasonInvalidTimestamp
	}
	// Markers for older events have already lapsed; accepting them would
	// reopen the dedup window.
	if now.Sub(at) > s.retention {
		return domain.ReasonEventTooOld
	}
	return ""
}

func (s *service) publish(ev domain.IngestEvent, status string) {
	s.hub.Publish(liveevents.LiveEvent{
		TransactionID: ev.TransactionID,
		CustomerID:    ev.CustomerID,
		EventType:     ev.EventType,
		Status:        status,
		RecordedAt:    time.UnixMilli(ev.Timestamp).UTC(),
	})
}
