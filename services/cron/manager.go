package cron

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/services"
)

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron        *cron.Cron
	db          *gorm.DB
	carts       *services.CartService
	payments    *services.PaymentService
	enrollments *services.EnrollmentService
	idem        *services.IdempotencyService
	outbox      *services.OutboxDispatcher
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, carts *services.CartService, payments *services.PaymentService, enrollments *services.EnrollmentService, idem *services.IdempotencyService, outbox *services.OutboxDispatcher) *CronManager {
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:        c,
		db:          db,
		carts:       carts,
		payments:    payments,
		enrollments: enrollments,
		idem:        idem,
		outbox:      outbox,
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")

	// Register all jobs
	if err := m.registerJobs(); err != nil {
		return err
	}

	// Start the cron scheduler
	m.cron.Start()

	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops all cron jobs
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// 0. Every minute: Dispatch pending outbox events (HIGH PRIORITY)
	_, err := m.cron.AddFunc("0 * * * * *", func() {
		m.DispatchOutboxEvents()
	})
	if err != nil {
		return err
	}

	// 1. Every 10 minutes: Expire stale payment attempts
	_, err = m.cron.AddFunc("0 */10 * * * *", func() {
		m.logJobStart("expire_stale_attempts")
		m.ExpireStaleAttempts()
	})
	if err != nil {
		return err
	}

	// 2. Every hour: Purge expired carts
	_, err = m.cron.AddFunc("0 0 * * * *", func() {
		m.logJobStart("purge_expired_carts")
		m.PurgeExpiredCarts()
	})
	if err != nil {
		return err
	}

	// 3. Daily at 1 AM: Mark overdue installments
	_, err = m.cron.AddFunc("0 0 1 * * *", func() {
		m.logJobStart("mark_overdue_installments")
		m.MarkOverdueInstallments()
	})
	if err != nil {
		return err
	}

	// 4. Daily at 2 AM: Cleanup old data
	_, err = m.cron.AddFunc("0 0 2 * * *", func() {
		m.logJobStart("cleanup_old_data")
		m.CleanupOldData()
	})
	if err != nil {
		return err
	}

	log.Println("All cron jobs registered successfully")
	return nil
}

// logJobStart logs the start of a cron job
func (m *CronManager) logJobStart(jobName string) {
	log.Printf("[CRON] Starting job: %s at %s", jobName, time.Now().Format(time.RFC3339))

	// Log to database
	cronLog := model.CronJobLog{
		JobName:   jobName,
		Status:    "running",
		StartedAt: time.Now(),
		Metadata:  "{}",
	}
	m.db.Create(&cronLog)
}

// logJobComplete logs successful completion of a cron job
func (m *CronManager) logJobComplete(jobName string, message string) {
	log.Printf("[CRON] Completed job: %s - %s", jobName, message)

	// Update database log
	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "completed",
			"completed_at": time.Now(),
			"message":      message,
		})
}

// logJobError logs a cron job error
func (m *CronManager) logJobError(jobName string, err error) {
	log.Printf("[CRON] Error in job: %s - %v", jobName, err)

	// Update database log
	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "failed",
			"completed_at": time.Now(),
			"error_msg":    err.Error(),
		})
}
