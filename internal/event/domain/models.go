// Package domain contains persistence models for accepted usage events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageEvent stores a single accepted unit of metered activity. Rows are
// immutable once written.
type UsageEvent struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	TransactionID string       `gorm:"type:text;not null;uniqueIndex:ux_usage_events_txn"`
	CustomerID    string       `gorm:"type:text;not null;index:idx_usage_events_scope,priority:1"`
	EventType     string       `gorm:"type:text;not null;index:idx_usage_events_scope,priority:2"`
	// RecordedAt is the event-observed time supplied by the producer, not
	// the ingestion time.
	RecordedAt time.Time         `gorm:"not null;index:idx_usage_events_scope,priority:3"`
	Properties datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
