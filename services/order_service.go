package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/apperr"
)

// OrderService turns carts into orders and manages the order lifecycle.
// Orders freeze the cart contents at checkout; nothing after that point
// can change what the user agreed to pay.
type OrderService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewOrderService creates a new order service
func NewOrderService(db *gorm.DB, audit *AuditService) *OrderService {
	return &OrderService{db: db, audit: audit}
}

// Checkout converts the user's cart into an order. Courses the user
// already owns are dropped from the snapshot; if nothing purchasable
// remains the checkout is rejected. The cart is consumed on success.
func (s *OrderService) Checkout(ctx context.Context, userID uint) (*model.Order, error) {
	var order *model.Order

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart model.Cart
		err := tx.Preload("Items").Where("user_id = ?", userID).First(&cart).Error
		if err == gorm.ErrRecordNotFound {
			return apperr.Validation("cart is empty")
		}
		if err != nil {
			return apperr.Unexpected("failed to load cart", err)
		}
		if len(cart.Items) == 0 {
			return apperr.Validation("cart is empty")
		}

		items, err := s.filterOwnedCourses(tx, userID, cart.Items)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return apperr.Conflict("all courses in the cart are already owned")
		}

		var total float64
		for _, item := range items {
			total += item.UnitPrice
		}

		snapshot, err := json.Marshal(items)
		if err != nil {
			return apperr.Unexpected("failed to snapshot cart", err)
		}

		number, err := s.generateOrderNumber(tx)
		if err != nil {
			return err
		}

		created := model.Order{
			UserID:        userID,
			Number:        number,
			ItemsSnapshot: snapshot,
			TotalAmount:   total,
			Currency:      "IRR",
			Status:        model.OrderStatusDraft,
		}
		if err := tx.Create(&created).Error; err != nil {
			return apperr.Unexpected("failed to create order", err)
		}

		// Consume the cart; the order now owns the snapshot.
		if err := tx.Where("cart_id = ?", cart.ID).Delete(&model.CartItem{}).Error; err != nil {
			return apperr.Unexpected("failed to clear cart", err)
		}
		if err := tx.Delete(&cart).Error; err != nil {
			return apperr.Unexpected("failed to delete cart", err)
		}

		order = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel closes an order the user no longer wants to pay. Open attempts
// on the order are expired alongside so the sweep cannot resurrect them.
func (s *OrderService) Cancel(ctx context.Context, userID, orderID uint, reason string) (*model.Order, error) {
	var order model.Order

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, orderID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("order not found")
			}
			return apperr.Unexpected("failed to load order", err)
		}
		if order.UserID != userID {
			return apperr.Forbidden("order belongs to another user")
		}
		if !order.CanTransitionTo(model.OrderStatusCancelled) {
			return apperr.Conflict("order in status %q cannot be cancelled", order.Status)
		}

		var attempts []model.PaymentAttempt
		if err := tx.Where("order_id = ?", order.ID).Find(&attempts).Error; err != nil {
			return apperr.Unexpected("failed to load payment attempts", err)
		}
		for i := range attempts {
			attempt := &attempts[i]
			if !attempt.Expirable() {
				continue
			}
			from := attempt.Status
			attempt.Status = model.AttemptStatusExpired
			if err := tx.Save(attempt).Error; err != nil {
				return apperr.Unexpected("failed to expire payment attempt", err)
			}
			err := s.audit.Record(tx, AuditEntry{
				PaymentAttemptID: attempt.ID,
				ActorID:          userID,
				Action:           model.AuditActionAttemptExpired,
				FromStatus:       from,
				ToStatus:         model.AttemptStatusExpired,
				Amount:           attempt.Amount,
				Reason:           "order cancelled",
			})
			if err != nil {
				return apperr.Unexpected("failed to write audit entry", err)
			}
		}

		order.Status = model.OrderStatusCancelled
		order.CancelReason = reason
		if err := tx.Save(&order).Error; err != nil {
			return apperr.Unexpected("failed to cancel order", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByID returns the order if the caller owns it (admins see all)
func (s *OrderService) GetByID(ctx context.Context, callerID uint, isAdmin bool, orderID uint) (*model.Order, error) {
	var order model.Order
	err := s.db.WithContext(ctx).Preload("Attempts").First(&order, orderID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFound("order not found")
	}
	if err != nil {
		return nil, apperr.Unexpected("failed to load order", err)
	}
	if order.UserID != callerID && !isAdmin {
		return nil, apperr.Forbidden("order belongs to another user")
	}
	return &order, nil
}

// ListByUser returns the user's orders, newest first
func (s *OrderService) ListByUser(ctx context.Context, userID uint) ([]model.Order, error) {
	var orders []model.Order
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, apperr.Unexpected("failed to list orders", err)
	}
	return orders, nil
}

// filterOwnedCourses drops cart lines for courses with an active
// enrollment so checkout cannot sell a course twice.
func (s *OrderService) filterOwnedCourses(tx *gorm.DB, userID uint, items []model.CartItem) ([]model.OrderItem, error) {
	courseIDs := make([]uint, 0, len(items))
	for _, item := range items {
		courseIDs = append(courseIDs, item.CourseID)
	}

	var owned []uint
	err := tx.Model(&model.CourseEnrollment{}).
		Where("user_id = ? AND course_id IN ? AND status = ?", userID, courseIDs, model.EnrollmentStatusActive).
		Pluck("course_id", &owned).Error
	if err != nil {
		return nil, apperr.Unexpected("failed to check enrollments", err)
	}

	ownedSet := make(map[uint]bool, len(owned))
	for _, id := range owned {
		ownedSet[id] = true
	}

	result := make([]model.OrderItem, 0, len(items))
	for _, item := range items {
		if ownedSet[item.CourseID] {
			continue
		}
		result = append(result, model.OrderItem{
			CourseID:       item.CourseID,
			Title:          item.Title,
			UnitPrice:      item.UnitPrice,
			Thumbnail:      item.Thumbnail,
			InstructorName: item.InstructorName,
		})
	}
	return result, nil
}

// generateOrderNumber builds a unique human-readable order number like
// ORD-20260830-1A2B3C, retrying on the rare collision.
func (s *OrderService) generateOrderNumber(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		buf := make([]byte, 3)
		if _, err := rand.Read(buf); err != nil {
			return "", apperr.Unexpected("failed to generate order number", err)
		}
		number := fmt.Sprintf("ORD-%s-%s",
			time.Now().Format("20060102"),
			strings.ToUpper(hex.EncodeToString(buf)))

		var count int64
		if err := tx.Model(&model.Order{}).Where("number = ?", number).Count(&count).Error; err != nil {
			return "", apperr.Unexpected("failed to check order number", err)
		}
		if count == 0 {
			return number, nil
		}
	}
	return "", apperr.Unexpected("failed to generate a unique order number", nil)
}

// orderSettledAmount sums the amounts of attempts that reached paid.
// Refunded attempts still count as settled: a refund is a post-completion
// correction on the enrollment, not a re-opening of the order.
func orderSettledAmount(tx *gorm.DB, orderID uint) (float64, error) {
	var settled float64
	err := tx.Model(&model.PaymentAttempt{}).
		Where("order_id = ? AND status IN ?", orderID,
			[]model.PaymentAttemptStatus{model.AttemptStatusPaid, model.AttemptStatusRefunded}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&settled).Error
	return settled, err
}
