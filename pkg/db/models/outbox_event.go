package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

// OutboxEvent is a donation lifecycle event queued for Pub/Sub. A row is
// unique per (event_type, aggregate_type, aggregate_id), so each donation
// publishes a given event at most once.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:varchar(64);not null;uniqueIndex:ux_outbox_events_event_aggregate"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:varchar(32);not null;uniqueIndex:ux_outbox_events_event_aggregate"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null;uniqueIndex:ux_outbox_events_event_aggregate"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`

	AttemptCount int        `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string    `gorm:"column:last_error"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }
