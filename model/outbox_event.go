package model

import (
	"time"

	"gorm.io/datatypes"
)

// Outbox event types emitted by the payment pipeline
const (
	EventPaymentApproved   = "payment.approved"
	EventPaymentRejected   = "payment.rejected"
	EventPaymentRefunded   = "payment.refunded"
	EventEnrollmentCreated = "enrollment.created"
	EventOrderCompleted    = "order.completed"
)

// OutboxEvent is a domain event persisted in the same transaction as the
// state change that produced it. A scheduled dispatcher publishes
// unpublished rows to Kafka, so a crash between commit and publish never
// loses a notification.
type OutboxEvent struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	EventType     string         `gorm:"type:varchar(50);not null;index" json:"event_type"`
	AggregateType string         `gorm:"type:varchar(50);not null" json:"aggregate_type"`
	AggregateID   uint           `gorm:"not null" json:"aggregate_id"`
	Payload       datatypes.JSON `gorm:"not null" json:"payload"`
	PublishedAt   *time.Time     `gorm:"index" json:"published_at,omitempty"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	LastError     string         `gorm:"type:text" json:"last_error,omitempty"`
}

// TableName specifies the table name for OutboxEvent
func (OutboxEvent) TableName() string {
	return "outbox_events"
}
