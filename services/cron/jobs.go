package cron

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/learnsphere/course-market-api/model"
)

// outboxBatchSize bounds how many events a single sweep publishes
const outboxBatchSize = 100

// DispatchOutboxEvents publishes pending domain events to the broker.
// Runs every minute; skips the job log to avoid a row per minute and
// only logs when something was actually dispatched.
func (m *CronManager) DispatchOutboxEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	published, err := m.outbox.DispatchPending(ctx, outboxBatchSize)
	if err != nil {
		log.Printf("[CRON] Failed to dispatch outbox events: %v", err)
		return
	}
	if published > 0 {
		log.Printf("[CRON] Dispatched %d outbox events", published)
	}
}

// ExpireStaleAttempts closes payment attempts whose window passed without
// a payment or a receipt. Runs every 10 minutes.
func (m *CronManager) ExpireStaleAttempts() {
	jobName := "expire_stale_attempts"

	expired, err := m.payments.ExpireStaleAttempts(time.Now())
	if err != nil {
		m.logJobError(jobName, fmt.Errorf("failed to expire attempts: %w", err))
		return
	}

	m.logJobComplete(jobName, fmt.Sprintf("Expired %d stale payment attempts", expired))
}

// PurgeExpiredCarts removes carts past their lifetime. Runs hourly.
func (m *CronManager) PurgeExpiredCarts() {
	jobName := "purge_expired_carts"

	purged, err := m.carts.PurgeExpired(time.Now())
	if err != nil {
		m.logJobError(jobName, fmt.Errorf("failed to purge carts: %w", err))
		return
	}

	m.logJobComplete(jobName, fmt.Sprintf("Purged %d expired carts", purged))
}

// MarkOverdueInstallments flips unpaid installments past their due date
// to overdue. Runs daily at 1 AM.
func (m *CronManager) MarkOverdueInstallments() {
	jobName := "mark_overdue_installments"

	marked, err := m.enrollments.MarkOverdueInstallments(time.Now())
	if err != nil {
		m.logJobError(jobName, fmt.Errorf("failed to mark overdue installments: %w", err))
		return
	}

	m.logJobComplete(jobName, fmt.Sprintf("Marked %d installments overdue", marked))
}

// CleanupOldData removes old data to keep the database clean
// Runs daily at 2 AM
func (m *CronManager) CleanupOldData() {
	jobName := "cleanup_old_data"

	totalCleaned := 0

	// 1. Remove idempotency records past their retention window
	purgedIdem, err := m.idem.PurgeExpired(m.db, time.Now())
	if err != nil {
		log.Printf("[CRON] Failed to purge idempotency records: %v", err)
	} else {
		log.Printf("[CRON] Purged %d expired idempotency records", purgedIdem)
		totalCleaned += int(purgedIdem)
	}

	// 2. Remove outbox events published more than 7 days ago
	purgedOutbox, err := m.outbox.PurgePublished(time.Now().Add(-7 * 24 * time.Hour))
	if err != nil {
		log.Printf("[CRON] Failed to purge outbox events: %v", err)
	} else {
		log.Printf("[CRON] Purged %d published outbox events", purgedOutbox)
		totalCleaned += int(purgedOutbox)
	}

	// 3. Clean up old cron job logs (keep only last 90 days)
	cutoffLogs := time.Now().Add(-90 * 24 * time.Hour)
	result := m.db.Where("started_at < ?", cutoffLogs).Delete(&model.CronJobLog{})
	if result.Error != nil {
		log.Printf("[CRON] Failed to clean cron logs: %v", result.Error)
	} else {
		log.Printf("[CRON] Cleaned %d old cron logs", result.RowsAffected)
		totalCleaned += int(result.RowsAffected)
	}

	// Payment audit logs are deliberately left alone; the trail is
	// permanent.

	m.logJobComplete(jobName, fmt.Sprintf("Cleaned up %d total records", totalCleaned))
}
