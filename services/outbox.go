package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/services/events"
	"github.com/learnsphere/course-market-api/utils/apperr"
)

// maxOutboxAttempts caps redelivery before an event is parked for
// manual inspection.
const maxOutboxAttempts = 10

// writeOutboxEvent persists a domain event in the caller's transaction.
// Dispatch happens later, outside any transaction, so a crash after
// commit can delay a notification but never lose or invent one.
func writeOutboxEvent(tx *gorm.DB, eventType, aggregateType string, aggregateID uint, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperr.Unexpected("failed to encode event payload", err)
	}

	event := model.OutboxEvent{
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       data,
	}
	if err := tx.Create(&event).Error; err != nil {
		return apperr.Unexpected("failed to write outbox event", err)
	}
	return nil
}

// OutboxDispatcher pushes persisted events to Kafka
type OutboxDispatcher struct {
	db        *gorm.DB
	publisher *events.Publisher
}

// NewOutboxDispatcher creates a new dispatcher
func NewOutboxDispatcher(db *gorm.DB, publisher *events.Publisher) *OutboxDispatcher {
	return &OutboxDispatcher{db: db, publisher: publisher}
}

// DispatchPending publishes unpublished events oldest-first and marks
// them published. Events are retried on the next sweep after a broker
// failure; duplicates on the topic are possible and consumers are
// expected to handle them (the event carries its aggregate id).
func (d *OutboxDispatcher) DispatchPending(ctx context.Context, batchSize int) (int, error) {
	if d.publisher == nil {
		return 0, nil
	}

	var pending []model.OutboxEvent
	err := d.db.WithContext(ctx).
		Where("published_at IS NULL AND attempts < ?", maxOutboxAttempts).
		Order("id ASC").
		Limit(batchSize).
		Find(&pending).Error
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range pending {
		event := &pending[i]

		if err := d.publisher.Publish(ctx, event); err != nil {
			log.Printf("Failed to publish outbox event %d (%s): %v", event.ID, event.EventType, err)
			d.db.Model(event).Updates(map[string]interface{}{
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": err.Error(),
			})
			continue
		}

		now := time.Now()
		err := d.db.Model(event).Updates(map[string]interface{}{
			"published_at": now,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   "",
		}).Error
		if err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// PurgePublished removes events published more than the retention
// window ago.
func (d *OutboxDispatcher) PurgePublished(olderThan time.Time) (int64, error) {
	result := d.db.Where("published_at IS NOT NULL AND published_at < ?", olderThan).
		Delete(&model.OutboxEvent{})
	return result.RowsAffected, result.Error
}
