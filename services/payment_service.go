package services

import (
	"context"
	"encoding/json"
	"log"
	"mime/multipart"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/services/gateway"
	"github.com/learnsphere/course-market-api/services/storage"
	"github.com/learnsphere/course-market-api/utils/apperr"
	"github.com/learnsphere/course-market-api/utils/receiptvalidation"
)

// receiptCategory is the blob-store prefix for uploaded receipts
const receiptCategory = "receipts"

// openAttemptStatuses are the states in which an attempt still claims
// the order balance; only one attempt per order may hold them.
var openAttemptStatuses = []model.PaymentAttemptStatus{
	model.AttemptStatusDraft,
	model.AttemptStatusPendingPayment,
	model.AttemptStatusAwaitingReceiptUpload,
	model.AttemptStatusAwaitingAdminApproval,
}

// PaymentService creates payment attempts against orders and moves them
// through the pre-review stages: gateway hand-off for online methods,
// receipt upload for manual transfers, expiry for everything left
// unresolved.
type PaymentService struct {
	db          *gorm.DB
	blobs       storage.BlobStore
	gateway     *gateway.Client
	audit       *AuditService
	enrollments *EnrollmentService
}

// NewPaymentService creates a new payment service
func NewPaymentService(db *gorm.DB, blobs storage.BlobStore, gatewayClient *gateway.Client, audit *AuditService, enrollments *EnrollmentService) *PaymentService {
	return &PaymentService{
		db:          db,
		blobs:       blobs,
		gateway:     gatewayClient,
		audit:       audit,
		enrollments: enrollments,
	}
}

// CreateAttempt opens a new attempt to settle an order's balance.
//
// amount == 0 means the full remaining balance. A smaller amount is only
// accepted for single-course orders whose course allows installments;
// the attempt then settles the head of the plan.
func (s *PaymentService) CreateAttempt(ctx context.Context, userID, orderID uint, method model.PaymentMethod, amount float64) (*model.PaymentAttempt, error) {
	if amount < 0 {
		return nil, apperr.Validation("amount cannot be negative")
	}

	var attempt model.PaymentAttempt

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, orderID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("order not found")
			}
			return apperr.Unexpected("failed to load order", err)
		}
		if order.UserID != userID {
			return apperr.Forbidden("order belongs to another user")
		}
		if order.IsTerminal() {
			return apperr.Conflict("order in status %q cannot accept payments", order.Status)
		}

		settled, err := orderSettledAmount(tx, order.ID)
		if err != nil {
			return apperr.Unexpected("failed to sum settled attempts", err)
		}
		remaining := order.TotalAmount - settled
		if remaining <= 0 {
			return apperr.Conflict("order has no remaining balance")
		}

		var open int64
		err = tx.Model(&model.PaymentAttempt{}).
			Where("order_id = ? AND status IN ?", order.ID, openAttemptStatuses).
			Count(&open).Error
		if err != nil {
			return apperr.Unexpected("failed to check open attempts", err)
		}
		if open > 0 {
			return apperr.Conflict("order already has an open payment attempt")
		}

		if amount == 0 {
			amount = remaining
		}
		if amount > remaining {
			return apperr.Validation("amount exceeds the remaining order balance")
		}
		if amount < remaining {
			if err := s.checkPartialAllowed(tx, &order); err != nil {
				return err
			}
		}

		status, err := initialStatusFor(method)
		if err != nil {
			return err
		}

		expiresAt := time.Now().Add(model.DefaultAttemptLifetime)
		attempt = model.PaymentAttempt{
			OrderID:      order.ID,
			UserID:       userID,
			Amount:       amount,
			Currency:     order.Currency,
			Method:       method,
			TrackingCode: uuid.New().String(),
			Status:       status,
		}
		if attempt.Expirable() {
			attempt.ExpiresAt = &expiresAt
		}

		if method == model.PaymentMethodOnline || method == model.PaymentMethodWallet {
			if s.gateway == nil {
				return apperr.Validation("online payments are not available")
			}
			gatewayOrder, err := s.gateway.CreateOrder(amount, order.Currency, attempt.TrackingCode)
			if err != nil {
				return apperr.Unexpected("payment gateway is unavailable", err)
			}
			attempt.GatewayOrderID = gatewayOrder.OrderID
		}

		if err := tx.Create(&attempt).Error; err != nil {
			return apperr.Unexpected("failed to create payment attempt", err)
		}

		// The first attempt moves the order out of draft.
		if order.Status == model.OrderStatusDraft {
			order.Status = model.OrderStatusPendingPayment
			if err := tx.Save(&order).Error; err != nil {
				return apperr.Unexpected("failed to update order status", err)
			}
		}

		return s.audit.Record(tx, AuditEntry{
			PaymentAttemptID: attempt.ID,
			ActorID:          userID,
			Action:           model.AuditActionAttemptCreated,
			FromStatus:       model.AttemptStatusDraft,
			ToStatus:         attempt.Status,
			Amount:           attempt.Amount,
			Metadata: map[string]interface{}{
				"method":   method,
				"order_id": order.ID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// UploadReceipt attaches a bank-transfer receipt to a manual attempt and
// moves it into the admin review queue. File validation happens before
// any state is touched; overwriting is allowed while the attempt still
// awaits a decision.
func (s *PaymentService) UploadReceipt(ctx context.Context, userID, attemptID uint, file *multipart.FileHeader) (*model.PaymentAttempt, error) {
	// Cheap precondition read before paying for validation and upload.
	var attempt model.PaymentAttempt
	if err := s.db.WithContext(ctx).First(&attempt, attemptID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("payment attempt not found")
		}
		return nil, apperr.Unexpected("failed to load payment attempt", err)
	}
	if attempt.UserID != userID {
		return nil, apperr.Forbidden("payment attempt belongs to another user")
	}
	if !attempt.ReceiptEligible() {
		return nil, apperr.Conflict("payment attempt in status %q does not accept receipts", attempt.Status)
	}

	result, err := receiptvalidation.ValidateReceiptFile(file, receiptvalidation.DefaultLimits)
	if err != nil {
		return nil, apperr.Unexpected("failed to read uploaded file", err)
	}
	if !result.Valid {
		return nil, apperr.Validation("%s", result.Error)
	}

	saved, err := s.blobs.SaveFile(ctx, receiptCategory, userID, file.Filename, result.Content, result.ContentType)
	if err != nil {
		return nil, apperr.Unexpected("failed to store receipt", err)
	}

	oldReceipt := ""
	now := time.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&attempt, attemptID).Error; err != nil {
			return apperr.Unexpected("failed to lock payment attempt", err)
		}
		if !attempt.ReceiptEligible() {
			return apperr.Conflict("payment attempt in status %q does not accept receipts", attempt.Status)
		}

		from := attempt.Status
		if attempt.ReceiptURL != "" {
			oldReceipt = attempt.ReceiptFilename
		}

		attempt.ReceiptURL = saved.URL
		attempt.ReceiptFilename = saved.SecureName
		attempt.ReceiptUploadedAt = &now
		if attempt.Status == model.AttemptStatusAwaitingReceiptUpload {
			attempt.Status = model.AttemptStatusAwaitingAdminApproval
			attempt.ExpiresAt = nil // review waits indefinitely for a human
		}
		if err := tx.Save(&attempt).Error; err != nil {
			return apperr.Unexpected("failed to update payment attempt", err)
		}

		return s.audit.Record(tx, AuditEntry{
			PaymentAttemptID: attempt.ID,
			ActorID:          userID,
			Action:           model.AuditActionReceiptUploaded,
			FromStatus:       from,
			ToStatus:         attempt.Status,
			Amount:           attempt.Amount,
			Metadata: map[string]interface{}{
				"filename":    file.Filename,
				"secure_name": saved.SecureName,
				"size_bytes":  result.FileSize,
				"overwrite":   oldReceipt != "",
			},
		})
	})
	if err != nil {
		// The blob is orphaned if the transaction failed; clean it up.
		if delErr := s.blobs.DeleteFile(ctx, receiptCategory, saved.SecureName); delErr != nil {
			log.Printf("Failed to clean up orphaned receipt %s: %v", saved.SecureName, delErr)
		}
		return nil, err
	}

	if oldReceipt != "" && oldReceipt != saved.SecureName {
		if err := s.blobs.DeleteFile(ctx, receiptCategory, oldReceipt); err != nil {
			log.Printf("Failed to delete replaced receipt %s: %v", oldReceipt, err)
		}
	}

	return &attempt, nil
}

// ConfirmGatewayPayment finalizes an online/wallet attempt after the
// client returns from the gateway. The signature proves the gateway
// really confirmed this payment; with it verified, the attempt settles
// exactly like an approved manual payment.
func (s *PaymentService) ConfirmGatewayPayment(ctx context.Context, userID, attemptID uint, gatewayPaymentID, signature string) (*model.PaymentAttempt, *SettlementResult, error) {
	if s.gateway == nil {
		return nil, nil, apperr.Validation("online payments are not available")
	}
	if gatewayPaymentID == "" || signature == "" {
		return nil, nil, apperr.Validation("gateway payment id and signature are required")
	}

	var attempt model.PaymentAttempt
	var settlement *SettlementResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&attempt, attemptID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("payment attempt not found")
			}
			return apperr.Unexpected("failed to load payment attempt", err)
		}
		if attempt.UserID != userID {
			return apperr.Forbidden("payment attempt belongs to another user")
		}
		if attempt.Method != model.PaymentMethodOnline && attempt.Method != model.PaymentMethodWallet {
			return apperr.Validation("payment attempt does not use a gateway method")
		}
		if attempt.Status != model.AttemptStatusPendingPayment {
			return apperr.Conflict("payment attempt in status %q cannot be confirmed", attempt.Status)
		}

		if !s.gateway.VerifyPaymentSignature(attempt.GatewayOrderID, gatewayPaymentID, signature) {
			return apperr.Validation("gateway signature verification failed")
		}

		from := attempt.Status
		attempt.Status = model.AttemptStatusPaid
		attempt.GatewayPaymentID = gatewayPaymentID
		attempt.ExpiresAt = nil
		if err := tx.Save(&attempt).Error; err != nil {
			return apperr.Unexpected("failed to update payment attempt", err)
		}

		err := s.audit.Record(tx, AuditEntry{
			PaymentAttemptID: attempt.ID,
			ActorID:          userID,
			Action:           model.AuditActionGatewayConfirmed,
			FromStatus:       from,
			ToStatus:         attempt.Status,
			Amount:           attempt.Amount,
			Metadata: map[string]interface{}{
				"gateway_order_id":   attempt.GatewayOrderID,
				"gateway_payment_id": gatewayPaymentID,
			},
		})
		if err != nil {
			return apperr.Unexpected("failed to write audit entry", err)
		}

		err = writeOutboxEvent(tx, model.EventPaymentApproved, "payment_attempt", attempt.ID, map[string]interface{}{
			"payment_attempt_id": attempt.ID,
			"user_id":            attempt.UserID,
			"amount":             attempt.Amount,
			"method":             attempt.Method,
		})
		if err != nil {
			return err
		}

		settlement, err = settlePaidAttempt(tx, s.enrollments, s.audit, &attempt, userID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	for _, courseID := range settlement.CourseIDs {
		s.enrollments.invalidateStatus(ctx, attempt.UserID, courseID)
	}
	return &attempt, settlement, nil
}

// GetByID returns an attempt if the caller owns it (admins see all)
func (s *PaymentService) GetByID(ctx context.Context, callerID uint, isAdmin bool, attemptID uint) (*model.PaymentAttempt, error) {
	var attempt model.PaymentAttempt
	err := s.db.WithContext(ctx).Preload("Order").First(&attempt, attemptID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFound("payment attempt not found")
	}
	if err != nil {
		return nil, apperr.Unexpected("failed to load payment attempt", err)
	}
	if attempt.UserID != callerID && !isAdmin {
		return nil, apperr.Forbidden("payment attempt belongs to another user")
	}
	return &attempt, nil
}

// ListPendingReview returns the admin queue of attempts awaiting a
// decision, oldest upload first.
func (s *PaymentService) ListPendingReview(ctx context.Context, page, limit int) ([]model.PaymentAttempt, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.PaymentAttempt{}).
		Where("status = ?", model.AttemptStatusAwaitingAdminApproval)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperr.Unexpected("failed to count pending reviews", err)
	}

	var attempts []model.PaymentAttempt
	err := query.Preload("Order").Preload("User").
		Order("receipt_uploaded_at ASC NULLS LAST, created_at ASC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&attempts).Error
	if err != nil {
		return nil, 0, apperr.Unexpected("failed to list pending reviews", err)
	}
	return attempts, total, nil
}

// ExpireStaleAttempts closes expirable attempts whose window passed;
// called by the scheduled sweep. Attempts under admin review are never
// touched.
func (s *PaymentService) ExpireStaleAttempts(now time.Time) (int64, error) {
	var stale []model.PaymentAttempt
	err := s.db.
		Where("expires_at IS NOT NULL AND expires_at < ? AND status IN ?", now, []model.PaymentAttemptStatus{
			model.AttemptStatusDraft,
			model.AttemptStatusPendingPayment,
			model.AttemptStatusAwaitingReceiptUpload,
		}).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	var expired int64
	for i := range stale {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			var attempt model.PaymentAttempt
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&attempt, stale[i].ID).Error; err != nil {
				return err
			}
			// Re-check under the lock; a user may have raced the sweep.
			if !attempt.Expirable() || attempt.ExpiresAt == nil || attempt.ExpiresAt.After(now) {
				return nil
			}

			from := attempt.Status
			attempt.Status = model.AttemptStatusExpired
			if err := tx.Save(&attempt).Error; err != nil {
				return err
			}
			return s.audit.Record(tx, AuditEntry{
				PaymentAttemptID: attempt.ID,
				ActorID:          0, // system
				Action:           model.AuditActionAttemptExpired,
				FromStatus:       from,
				ToStatus:         model.AttemptStatusExpired,
				Amount:           attempt.Amount,
				Reason:           "attempt expired without payment",
			})
		})
		if err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// checkPartialAllowed gates partial attempts to single-course orders
// whose course supports installment plans.
func (s *PaymentService) checkPartialAllowed(tx *gorm.DB, order *model.Order) error {
	var items []model.OrderItem
	if err := json.Unmarshal(order.ItemsSnapshot, &items); err != nil {
		return apperr.Unexpected("failed to decode order snapshot", err)
	}
	if len(items) != 1 {
		return apperr.Validation("partial payments require a single-course order")
	}

	var course model.Course
	if err := tx.First(&course, items[0].CourseID).Error; err != nil {
		return apperr.Validation("partial payments are not available for this course")
	}
	if !course.InstallmentsAllowed {
		return apperr.Validation("this course does not allow installment payments")
	}
	return nil
}

// initialStatusFor maps a payment method to the state an attempt enters
// right after creation.
func initialStatusFor(method model.PaymentMethod) (model.PaymentAttemptStatus, error) {
	switch method {
	case model.PaymentMethodManual:
		return model.AttemptStatusAwaitingReceiptUpload, nil
	case model.PaymentMethodCash:
		// Verified in person; goes straight to the review queue.
		return model.AttemptStatusAwaitingAdminApproval, nil
	case model.PaymentMethodOnline, model.PaymentMethodWallet:
		return model.AttemptStatusPendingPayment, nil
	case model.PaymentMethodFree:
		return "", apperr.Validation("free enrollments do not use payment attempts")
	default:
		return "", apperr.Validation("unknown payment method %q", method)
	}
}
