package services

import (
	"encoding/json"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/apperr"
)

// SettlementResult reports what crediting a paid attempt produced
type SettlementResult struct {
	EnrollmentID       uint   `json:"enrollment_id"`
	CreatedEnrollments []uint `json:"created_enrollments,omitempty"`
	CourseIDs          []uint `json:"course_ids,omitempty"`
	OrderCompleted     bool   `json:"order_completed"`
}

// settlePaidAttempt converts an attempt that just reached paid into
// enrollment credits and, when the order balance is covered, order
// completion. It must run inside the same transaction that moved the
// attempt to paid: if any step fails the whole transition rolls back and
// the attempt is never left paid without its credit.
//
// Lock order is attempt (held by the caller), then enrollments, then the
// order, matching every other writer so concurrent reviews of different
// attempts on one order cannot deadlock.
func settlePaidAttempt(tx *gorm.DB, enrollments *EnrollmentService, audit *AuditService, attempt *model.PaymentAttempt, actorID uint) (*SettlementResult, error) {
	var order model.Order
	if err := tx.First(&order, attempt.OrderID).Error; err != nil {
		return nil, apperr.Unexpected("failed to load order", err)
	}

	var items []model.OrderItem
	if err := json.Unmarshal(order.ItemsSnapshot, &items); err != nil {
		return nil, apperr.Unexpected("failed to decode order snapshot", err)
	}
	if len(items) == 0 {
		return nil, apperr.Unexpected("order snapshot is empty", nil)
	}

	result := &SettlementResult{}
	remaining := attempt.Amount

	// Credit each course in snapshot order until the attempt amount is
	// spent. A full payment covers every item; a partial payment (only
	// possible on single-course installment orders) covers the head.
	for _, item := range items {
		if remaining <= 0 {
			break
		}

		installmentsAllowed := false
		var course model.Course
		if err := tx.First(&course, item.CourseID).Error; err == nil {
			installmentsAllowed = course.InstallmentsAllowed
		}

		enrollment, created, err := enrollments.locateOrCreateForUpdate(tx, attempt.UserID, item.CourseID, item.UnitPrice, installmentsAllowed)
		if err != nil {
			return nil, err
		}

		credit := enrollment.RemainingAmount()
		if credit > remaining {
			credit = remaining
		}

		applied, err := enrollments.creditPayment(tx, enrollment, credit)
		if err != nil {
			return nil, err
		}
		remaining -= applied

		if result.EnrollmentID == 0 {
			result.EnrollmentID = enrollment.ID
		}
		result.CourseIDs = append(result.CourseIDs, item.CourseID)
		if created {
			result.CreatedEnrollments = append(result.CreatedEnrollments, enrollment.ID)
		}

		err = audit.Record(tx, AuditEntry{
			PaymentAttemptID: attempt.ID,
			ActorID:          actorID,
			Action:           model.AuditActionEnrollmentCredited,
			FromStatus:       attempt.Status,
			ToStatus:         attempt.Status,
			Amount:           applied,
			Metadata: map[string]interface{}{
				"enrollment_id": enrollment.ID,
				"course_id":     item.CourseID,
				"created":       created,
			},
		})
		if err != nil {
			return nil, apperr.Unexpected("failed to write audit entry", err)
		}

		if created {
			err = writeOutboxEvent(tx, model.EventEnrollmentCreated, "enrollment", enrollment.ID, map[string]interface{}{
				"enrollment_id": enrollment.ID,
				"user_id":       attempt.UserID,
				"course_id":     item.CourseID,
				"total_amount":  enrollment.TotalAmount,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	// Check whether the order balance is now fully covered.
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, order.ID).Error; err != nil {
		return nil, apperr.Unexpected("failed to lock order", err)
	}

	settled, err := orderSettledAmount(tx, order.ID)
	if err != nil {
		return nil, apperr.Unexpected("failed to sum settled attempts", err)
	}

	if settled >= order.TotalAmount && order.CanTransitionTo(model.OrderStatusCompleted) {
		order.Status = model.OrderStatusCompleted
		if err := tx.Save(&order).Error; err != nil {
			return nil, apperr.Unexpected("failed to complete order", err)
		}
		result.OrderCompleted = true

		err = audit.Record(tx, AuditEntry{
			PaymentAttemptID: attempt.ID,
			ActorID:          actorID,
			Action:           model.AuditActionOrderCompleted,
			FromStatus:       attempt.Status,
			ToStatus:         attempt.Status,
			Amount:           settled,
			Metadata: map[string]interface{}{
				"order_id":     order.ID,
				"order_number": order.Number,
			},
		})
		if err != nil {
			return nil, apperr.Unexpected("failed to write audit entry", err)
		}

		err = writeOutboxEvent(tx, model.EventOrderCompleted, "order", order.ID, map[string]interface{}{
			"order_id":     order.ID,
			"order_number": order.Number,
			"user_id":      order.UserID,
			"total_amount": order.TotalAmount,
		})
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}
