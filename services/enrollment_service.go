package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/apperr"
	"github.com/learnsphere/course-market-api/utils/cache"
)

// enrollmentStatusTTL bounds how stale a cached status lookup can be
const enrollmentStatusTTL = 5 * time.Minute

// EnrollmentStatusResult is the read model for entitlement checks
type EnrollmentStatusResult struct {
	Enrolled        bool                          `json:"enrolled"`
	EnrollmentID    uint                          `json:"enrollment_id,omitempty"`
	PaymentStatus   model.EnrollmentPaymentStatus `json:"payment_status,omitempty"`
	RemainingAmount float64                       `json:"remaining_amount"`
}

// EnrollmentService owns the durable entitlement of students to courses
// and the installment accounting attached to it. Credits and refunds
// always run inside the caller's transaction; the invariant
// sum(installment paid) == enrollment paid is maintained on every write,
// never recomputed after the fact.
type EnrollmentService struct {
	db         *gorm.DB
	redisCache *cache.RedisCache
}

// NewEnrollmentService creates a new enrollment service
func NewEnrollmentService(db *gorm.DB, redisCache *cache.RedisCache) *EnrollmentService {
	return &EnrollmentService{
		db:         db,
		redisCache: redisCache,
	}
}

// EnrollFree grants a zero-price course immediately, bypassing the
// payment attempt pipeline entirely.
func (s *EnrollmentService) EnrollFree(ctx context.Context, userID, courseID uint) (*model.CourseEnrollment, error) {
	var course model.Course
	if err := s.db.WithContext(ctx).First(&course, courseID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("course not found")
		}
		return nil, apperr.Unexpected("failed to load course", err)
	}
	if !course.IsFree() {
		return nil, apperr.Validation("course is not free; add it to the cart instead")
	}

	var enrollment *model.CourseEnrollment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, created, err := s.locateOrCreateForUpdate(tx, userID, courseID, 0, false)
		if err != nil {
			return err
		}
		if !created {
			return apperr.Conflict("you are already enrolled in this course")
		}
		enrollment = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStatus(ctx, userID, courseID)
	return enrollment, nil
}

// GetStatus answers "does this student own this course, and what is
// still owed". Hot path for content gating, so results are cached.
func (s *EnrollmentService) GetStatus(ctx context.Context, studentID, courseID uint) (*EnrollmentStatusResult, error) {
	cacheKey := statusCacheKey(studentID, courseID)
	if s.redisCache != nil {
		var cached EnrollmentStatusResult
		if err := s.redisCache.GetJSON(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	var enrollment model.CourseEnrollment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ? AND status = ?", studentID, courseID, model.EnrollmentStatusActive).
		First(&enrollment).Error

	result := &EnrollmentStatusResult{}
	switch {
	case err == nil:
		result.Enrolled = true
		result.EnrollmentID = enrollment.ID
		result.PaymentStatus = enrollment.PaymentStatus
		result.RemainingAmount = enrollment.RemainingAmount()
	case err == gorm.ErrRecordNotFound:
		// Not enrolled; zero-value result.
	default:
		return nil, apperr.Unexpected("failed to load enrollment", err)
	}

	if s.redisCache != nil {
		if err := s.redisCache.SetJSON(ctx, cacheKey, result, enrollmentStatusTTL); err != nil {
			log.Printf("Failed to cache enrollment status: %v", err)
		}
	}
	return result, nil
}

// GetByID returns an enrollment with installments, enforcing ownership
func (s *EnrollmentService) GetByID(ctx context.Context, callerID uint, isAdmin bool, enrollmentID uint) (*model.CourseEnrollment, error) {
	var enrollment model.CourseEnrollment
	err := s.db.WithContext(ctx).
		Preload("Installments", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Preload("Course").
		First(&enrollment, enrollmentID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFound("enrollment not found")
	}
	if err != nil {
		return nil, apperr.Unexpected("failed to load enrollment", err)
	}
	if enrollment.UserID != callerID && !isAdmin {
		return nil, apperr.Forbidden("enrollment belongs to another user")
	}
	return &enrollment, nil
}

// ListByUser returns the user's enrollments, newest first
func (s *EnrollmentService) ListByUser(ctx context.Context, userID uint) ([]model.CourseEnrollment, error) {
	var enrollments []model.CourseEnrollment
	err := s.db.WithContext(ctx).
		Preload("Course").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&enrollments).Error
	if err != nil {
		return nil, apperr.Unexpected("failed to list enrollments", err)
	}
	return enrollments, nil
}

// CreateInstallmentPlan divides the enrollment total into count dated
// obligations. Rounding remainder lands on the last installment so the
// plan sums exactly to the total.
func (s *EnrollmentService) CreateInstallmentPlan(ctx context.Context, enrollmentID uint, count int, firstDue time.Time, interval time.Duration) (*model.CourseEnrollment, error) {
	if count < 2 {
		return nil, apperr.Validation("an installment plan needs at least 2 installments")
	}

	var enrollment model.CourseEnrollment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&enrollment, enrollmentID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("enrollment not found")
			}
			return apperr.Unexpected("failed to load enrollment", err)
		}
		if !enrollment.InstallmentsAllowed {
			return apperr.Validation("this enrollment does not allow installment plans")
		}
		if enrollment.TotalAmount <= 0 {
			return apperr.Validation("a free enrollment cannot have an installment plan")
		}

		var existing int64
		if err := tx.Model(&model.InstallmentPayment{}).Where("enrollment_id = ?", enrollment.ID).Count(&existing).Error; err != nil {
			return apperr.Unexpected("failed to check installment plan", err)
		}
		if existing > 0 {
			return apperr.Conflict("enrollment already has an installment plan")
		}

		per := enrollment.TotalAmount / float64(count)
		var allocated float64
		now := time.Now()
		for i := 1; i <= count; i++ {
			amount := per
			if i == count {
				amount = enrollment.TotalAmount - allocated
			}
			allocated += amount

			installment := model.InstallmentPayment{
				EnrollmentID: enrollment.ID,
				Number:       i,
				Amount:       amount,
				DueDate:      firstDue.Add(time.Duration(i-1) * interval),
			}
			installment.RecomputeStatus(now)
			if err := tx.Create(&installment).Error; err != nil {
				return apperr.Unexpected("failed to create installment", err)
			}
		}

		// An existing paid balance is carried into the fresh plan.
		if enrollment.PaidAmount > 0 {
			if err := s.allocateToInstallments(tx, &enrollment, enrollment.PaidAmount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, enrollment.UserID, true, enrollment.ID)
}

// CompleteEnrollment marks the course as finished by the student
func (s *EnrollmentService) CompleteEnrollment(ctx context.Context, enrollmentID uint) (*model.CourseEnrollment, error) {
	return s.transitionStatus(ctx, enrollmentID, model.EnrollmentStatusCompleted, "")
}

// CancelEnrollment withdraws the entitlement; a reason is mandatory
func (s *EnrollmentService) CancelEnrollment(ctx context.Context, enrollmentID uint, reason string) (*model.CourseEnrollment, error) {
	if reason == "" {
		return nil, apperr.Validation("a cancellation reason is required")
	}
	return s.transitionStatus(ctx, enrollmentID, model.EnrollmentStatusCancelled, reason)
}

// MarkOverdueInstallments flips unpaid installments past their due date
// to overdue; called by the scheduled sweep.
func (s *EnrollmentService) MarkOverdueInstallments(now time.Time) (int64, error) {
	result := s.db.Model(&model.InstallmentPayment{}).
		Where("due_date < ? AND status IN ?", now,
			[]model.InstallmentStatus{model.InstallmentStatusUnpaid, model.InstallmentStatusPartial}).
		Update("status", model.InstallmentStatusOverdue)
	return result.RowsAffected, result.Error
}

// locateOrCreateForUpdate finds the active enrollment for (user, course)
// and locks it, or creates a fresh one. The row lock serializes
// concurrent credits to the same entitlement.
func (s *EnrollmentService) locateOrCreateForUpdate(tx *gorm.DB, userID, courseID uint, totalAmount float64, installmentsAllowed bool) (*model.CourseEnrollment, bool, error) {
	var enrollment model.CourseEnrollment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, model.EnrollmentStatusActive).
		First(&enrollment).Error
	if err == nil {
		return &enrollment, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, apperr.Unexpected("failed to load enrollment", err)
	}

	enrollment = model.CourseEnrollment{
		UserID:              userID,
		CourseID:            courseID,
		TotalAmount:         totalAmount,
		Status:              model.EnrollmentStatusActive,
		InstallmentsAllowed: installmentsAllowed,
	}
	enrollment.RecomputePaymentStatus()
	if err := tx.Create(&enrollment).Error; err != nil {
		return nil, false, apperr.Unexpected("failed to create enrollment", err)
	}
	return &enrollment, true, nil
}

// creditPayment applies a payment to the enrollment and keeps the
// installment breakdown in step. Returns the amount actually applied
// after clamping at the total.
func (s *EnrollmentService) creditPayment(tx *gorm.DB, enrollment *model.CourseEnrollment, amount float64) (float64, error) {
	if amount < 0 {
		return 0, apperr.Validation("payment amount cannot be negative")
	}

	applied := enrollment.ApplyPayment(amount)
	if err := tx.Save(enrollment).Error; err != nil {
		return 0, apperr.Unexpected("failed to credit enrollment", err)
	}

	if applied > 0 {
		if err := s.allocateToInstallments(tx, enrollment, applied); err != nil {
			return 0, err
		}
	}
	return applied, nil
}

// debitRefund takes a refunded amount back off the enrollment,
// unwinding installments newest-first.
func (s *EnrollmentService) debitRefund(tx *gorm.DB, enrollment *model.CourseEnrollment, amount float64) error {
	if amount > enrollment.PaidAmount {
		amount = enrollment.PaidAmount
	}
	enrollment.PaidAmount -= amount
	enrollment.RecomputePaymentStatus()
	if err := tx.Save(enrollment).Error; err != nil {
		return apperr.Unexpected("failed to debit enrollment", err)
	}

	var installments []model.InstallmentPayment
	if err := tx.Where("enrollment_id = ?", enrollment.ID).Order("number DESC").Find(&installments).Error; err != nil {
		return apperr.Unexpected("failed to load installments", err)
	}

	remaining := amount
	now := time.Now()
	for i := range installments {
		if remaining <= 0 {
			break
		}
		installment := &installments[i]
		take := installment.PaidAmount
		if take > remaining {
			take = remaining
		}
		if take == 0 {
			continue
		}
		installment.PaidAmount -= take
		installment.RecomputeStatus(now)
		if err := tx.Save(installment).Error; err != nil {
			return apperr.Unexpected("failed to update installment", err)
		}
		remaining -= take
	}
	return nil
}

// allocateToInstallments spreads an applied amount across unpaid
// installments oldest-first so the plan breakdown always sums to the
// enrollment's paid amount.
func (s *EnrollmentService) allocateToInstallments(tx *gorm.DB, enrollment *model.CourseEnrollment, amount float64) error {
	var installments []model.InstallmentPayment
	if err := tx.Where("enrollment_id = ?", enrollment.ID).Order("number ASC").Find(&installments).Error; err != nil {
		return apperr.Unexpected("failed to load installments", err)
	}
	if len(installments) == 0 {
		return nil
	}

	remaining := amount
	now := time.Now()
	for i := range installments {
		if remaining <= 0 {
			break
		}
		installment := &installments[i]
		take := installment.RemainingAmount()
		if take > remaining {
			take = remaining
		}
		if take == 0 {
			continue
		}
		installment.PaidAmount += take
		installment.RecomputeStatus(now)
		if err := tx.Save(installment).Error; err != nil {
			return apperr.Unexpected("failed to update installment", err)
		}
		remaining -= take
	}
	return nil
}

func (s *EnrollmentService) transitionStatus(ctx context.Context, enrollmentID uint, next model.EnrollmentStatus, reason string) (*model.CourseEnrollment, error) {
	var enrollment model.CourseEnrollment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&enrollment, enrollmentID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("enrollment not found")
			}
			return apperr.Unexpected("failed to load enrollment", err)
		}
		if enrollment.Status == model.EnrollmentStatusCancelled || enrollment.Status == model.EnrollmentStatusCompleted {
			return apperr.Conflict("enrollment in status %q cannot change state", enrollment.Status)
		}

		enrollment.Status = next
		enrollment.CancelReason = reason
		if err := tx.Save(&enrollment).Error; err != nil {
			return apperr.Unexpected("failed to update enrollment", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStatus(ctx, enrollment.UserID, enrollment.CourseID)
	return &enrollment, nil
}

// invalidateStatus drops the cached status after any write
func (s *EnrollmentService) invalidateStatus(ctx context.Context, userID, courseID uint) {
	if s.redisCache == nil {
		return
	}
	if err := s.redisCache.Delete(ctx, statusCacheKey(userID, courseID)); err != nil {
		log.Printf("Failed to invalidate enrollment status cache: %v", err)
	}
}

func statusCacheKey(userID, courseID uint) string {
	return fmt.Sprintf("enrollment_status:%d:%d", userID, courseID)
}
