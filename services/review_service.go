package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/apperr"
)

// reviewOperationType namespaces review idempotency records
const reviewOperationType = "payment_review"

// ReviewResult is the outcome of an admin payment decision. It is also
// the stored idempotency response, so a replayed request returns exactly
// what the original decision produced.
type ReviewResult struct {
	AttemptID      uint                       `json:"payment_attempt_id"`
	Status         model.PaymentAttemptStatus `json:"status"`
	EnrollmentID   uint                       `json:"enrollment_id,omitempty"`
	CourseIDs      []uint                     `json:"course_ids,omitempty"`
	OrderCompleted bool                       `json:"order_completed"`
	Replayed       bool                       `json:"replayed"`
}

// ReviewService orchestrates the admin decision on attempts awaiting
// approval. The decision, the enrollment credit and the audit trail
// commit in one transaction; an attempt can never end up paid without
// its enrollment. Emails and invoices run after commit.
type ReviewService struct {
	db          *gorm.DB
	audit       *AuditService
	idem        *IdempotencyService
	enrollments *EnrollmentService
	mailer      *MailerService
	invoices    *InvoiceService
}

// NewReviewService creates a new review service
func NewReviewService(db *gorm.DB, audit *AuditService, idem *IdempotencyService, enrollments *EnrollmentService, mailer *MailerService, invoices *InvoiceService) *ReviewService {
	return &ReviewService{
		db:          db,
		audit:       audit,
		idem:        idem,
		enrollments: enrollments,
		mailer:      mailer,
		invoices:    invoices,
	}
}

// Review approves or rejects an attempt in the admin queue.
//
// idemKey may be empty; the derived default makes a double-submitted
// decision by the same admin idempotent even without a client key. When
// two admins race on one attempt, the row lock serializes them and the
// loser gets a conflict because the attempt already left the queue.
func (s *ReviewService) Review(ctx context.Context, adminID, attemptID uint, approve bool, reason, idemKey string) (*ReviewResult, error) {
	if !approve && reason == "" {
		return nil, apperr.Validation("a rejection reason is required")
	}
	if idemKey == "" {
		idemKey = fmt.Sprintf("review:%d:%d:%t", attemptID, adminID, approve)
	}
	requestHash := HashRequest(fmt.Sprint(attemptID), fmt.Sprint(approve), reason)

	var result *ReviewResult
	var attempt model.PaymentAttempt

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, claimed, err := s.idem.Begin(tx, idemKey, adminID, reviewOperationType, requestHash)
		if err != nil {
			return err
		}
		if stored != nil {
			var replayed ReviewResult
			if err := json.Unmarshal(stored.Response, &replayed); err != nil {
				return apperr.Unexpected("failed to decode stored review result", err)
			}
			replayed.Replayed = true
			result = &replayed
			return nil
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&attempt, attemptID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("payment attempt not found")
			}
			return apperr.Unexpected("failed to load payment attempt", err)
		}
		if attempt.Status != model.AttemptStatusAwaitingAdminApproval {
			return apperr.Conflict("payment attempt in status %q is not awaiting review", attempt.Status)
		}
		if attempt.Method == model.PaymentMethodManual && attempt.ReceiptURL == "" {
			return apperr.Conflict("payment attempt has no receipt to review")
		}

		now := time.Now()
		from := attempt.Status
		attempt.ReviewerID = &adminID
		attempt.ReviewedAt = &now

		result = &ReviewResult{AttemptID: attempt.ID}

		if approve {
			attempt.Status = model.AttemptStatusPaid
			if err := tx.Save(&attempt).Error; err != nil {
				return apperr.Unexpected("failed to update payment attempt", err)
			}

			err := s.audit.Record(tx, AuditEntry{
				PaymentAttemptID: attempt.ID,
				ActorID:          adminID,
				Action:           model.AuditActionAdminApproved,
				FromStatus:       from,
				ToStatus:         attempt.Status,
				Amount:           attempt.Amount,
				Reason:           reason,
			})
			if err != nil {
				return apperr.Unexpected("failed to write audit entry", err)
			}

			err = writeOutboxEvent(tx, model.EventPaymentApproved, "payment_attempt", attempt.ID, map[string]interface{}{
				"payment_attempt_id": attempt.ID,
				"user_id":            attempt.UserID,
				"amount":             attempt.Amount,
				"reviewer_id":        adminID,
			})
			if err != nil {
				return err
			}

			settlement, err := settlePaidAttempt(tx, s.enrollments, s.audit, &attempt, adminID)
			if err != nil {
				return err
			}
			result.EnrollmentID = settlement.EnrollmentID
			result.CourseIDs = settlement.CourseIDs
			result.OrderCompleted = settlement.OrderCompleted
		} else {
			attempt.Status = model.AttemptStatusFailed
			attempt.RejectionReason = reason
			if err := tx.Save(&attempt).Error; err != nil {
				return apperr.Unexpected("failed to update payment attempt", err)
			}

			err := s.audit.Record(tx, AuditEntry{
				PaymentAttemptID: attempt.ID,
				ActorID:          adminID,
				Action:           model.AuditActionAdminRejected,
				FromStatus:       from,
				ToStatus:         attempt.Status,
				Amount:           attempt.Amount,
				Reason:           reason,
			})
			if err != nil {
				return apperr.Unexpected("failed to write audit entry", err)
			}

			err = writeOutboxEvent(tx, model.EventPaymentRejected, "payment_attempt", attempt.ID, map[string]interface{}{
				"payment_attempt_id": attempt.ID,
				"user_id":            attempt.UserID,
				"reason":             reason,
				"reviewer_id":        adminID,
			})
			if err != nil {
				return err
			}
		}

		result.Status = attempt.Status
		return s.idem.Complete(tx, claimed, result)
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		s.runPostDecisionEffects(ctx, &attempt, result, approve)
	}
	return result, nil
}

// Refund reverses a paid attempt. The attempt stays counted toward the
// order (the sale happened); the enrollment balance is debited so the
// student's entitlement reflects what they actually paid.
func (s *ReviewService) Refund(ctx context.Context, adminID, attemptID uint, reason string) (*model.PaymentAttempt, error) {
	if reason == "" {
		return nil, apperr.Validation("a refund reason is required")
	}

	var attempt model.PaymentAttempt
	var courseIDs []uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&attempt, attemptID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("payment attempt not found")
			}
			return apperr.Unexpected("failed to load payment attempt", err)
		}
		if attempt.Status != model.AttemptStatusPaid {
			return apperr.Conflict("only a paid attempt can be refunded")
		}

		var order model.Order
		if err := tx.First(&order, attempt.OrderID).Error; err != nil {
			return apperr.Unexpected("failed to load order", err)
		}
		var items []model.OrderItem
		if err := json.Unmarshal(order.ItemsSnapshot, &items); err != nil {
			return apperr.Unexpected("failed to decode order snapshot", err)
		}

		// Debit enrollments in snapshot order until the refunded amount
		// is unwound, mirroring how the credit was distributed.
		remaining := attempt.Amount
		for _, item := range items {
			if remaining <= 0 {
				break
			}
			var enrollment model.CourseEnrollment
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ? AND course_id = ? AND status = ?", attempt.UserID, item.CourseID, model.EnrollmentStatusActive).
				First(&enrollment).Error
			if err == gorm.ErrRecordNotFound {
				continue
			}
			if err != nil {
				return apperr.Unexpected("failed to load enrollment", err)
			}

			debit := enrollment.PaidAmount
			if debit > remaining {
				debit = remaining
			}
			if debit == 0 {
				continue
			}
			if err := s.enrollments.debitRefund(tx, &enrollment, debit); err != nil {
				return err
			}
			remaining -= debit
			courseIDs = append(courseIDs, item.CourseID)
		}

		from := attempt.Status
		attempt.Status = model.AttemptStatusRefunded
		if err := tx.Save(&attempt).Error; err != nil {
			return apperr.Unexpected("failed to update payment attempt", err)
		}

		err := s.audit.Record(tx, AuditEntry{
			PaymentAttemptID: attempt.ID,
			ActorID:          adminID,
			Action:           model.AuditActionRefunded,
			FromStatus:       from,
			ToStatus:         attempt.Status,
			Amount:           attempt.Amount,
			Reason:           reason,
		})
		if err != nil {
			return apperr.Unexpected("failed to write audit entry", err)
		}

		return writeOutboxEvent(tx, model.EventPaymentRefunded, "payment_attempt", attempt.ID, map[string]interface{}{
			"payment_attempt_id": attempt.ID,
			"user_id":            attempt.UserID,
			"amount":             attempt.Amount,
			"reason":             reason,
			"reviewer_id":        adminID,
		})
	})
	if err != nil {
		return nil, err
	}

	for _, courseID := range courseIDs {
		s.enrollments.invalidateStatus(ctx, attempt.UserID, courseID)
	}
	return &attempt, nil
}

// runPostDecisionEffects handles everything that must not roll back the
// decision: cache invalidation, the notification email and the invoice.
func (s *ReviewService) runPostDecisionEffects(ctx context.Context, attempt *model.PaymentAttempt, result *ReviewResult, approved bool) {
	for _, courseID := range result.CourseIDs {
		s.enrollments.invalidateStatus(ctx, attempt.UserID, courseID)
	}

	var user model.User
	if err := s.db.WithContext(ctx).First(&user, attempt.UserID).Error; err != nil {
		log.Printf("Failed to load user %d for post-review effects: %v", attempt.UserID, err)
		return
	}

	var order model.Order
	if err := s.db.WithContext(ctx).First(&order, attempt.OrderID).Error; err != nil {
		log.Printf("Failed to load order %d for post-review effects: %v", attempt.OrderID, err)
		return
	}

	if approved {
		if s.invoices != nil {
			if _, err := s.invoices.GenerateForAttempt(ctx, &user, &order, attempt); err != nil {
				log.Printf("Failed to generate invoice for attempt %d: %v", attempt.ID, err)
			}
		}
		if s.mailer != nil {
			courseTitle := firstCourseTitle(&order)
			s.mailer.SendPaymentApproved(&user, attempt, courseTitle)
		}
	} else if s.mailer != nil {
		s.mailer.SendPaymentRejected(&user, attempt)
	}
}

func firstCourseTitle(order *model.Order) string {
	var items []model.OrderItem
	if err := json.Unmarshal(order.ItemsSnapshot, &items); err != nil || len(items) == 0 {
		return "your course"
	}
	if len(items) > 1 {
		return fmt.Sprintf("%s and %d more", items[0].Title, len(items)-1)
	}
	return items[0].Title
}
