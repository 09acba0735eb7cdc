package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/services/storage"
	"github.com/learnsphere/course-market-api/utils/apperr"
)

func TestCreateAttemptManual(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)
	order := checkoutOrder(t, db, user.ID, course)

	audit := NewAuditService()
	payments := NewPaymentService(db, storage.NewMemoryStore(), nil, audit, NewEnrollmentService(db, nil))

	attempt, err := payments.CreateAttempt(ctx, user.ID, order.ID, model.PaymentMethodManual, 0)
	if err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}
	if attempt.Status != model.AttemptStatusAwaitingReceiptUpload {
		t.Errorf("expected awaiting_receipt_upload, got %q", attempt.Status)
	}
	if attempt.Amount != 500000 {
		t.Errorf("expected full balance 500000, got %f", attempt.Amount)
	}
	if attempt.TrackingCode == "" {
		t.Error("expected a tracking code")
	}
	if attempt.ExpiresAt == nil {
		t.Error("expected an expiry on a receipt-stage attempt")
	}

	// The first attempt moves the order out of draft.
	var reloaded model.Order
	if err := db.First(&reloaded, order.ID).Error; err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if reloaded.Status != model.OrderStatusPendingPayment {
		t.Errorf("expected pending_payment order, got %q", reloaded.Status)
	}

	// An audit entry records the creation.
	trail, err := audit.ListForAttempt(db, attempt.ID)
	if err != nil {
		t.Fatalf("ListForAttempt failed: %v", err)
	}
	if len(trail) != 1 || trail[0].Action != model.AuditActionAttemptCreated {
		t.Errorf("expected one attempt_created audit entry, got %+v", trail)
	}
}

func TestCreateAttemptCashSkipsReceiptStage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)
	order := checkoutOrder(t, db, user.ID, course)

	payments := NewPaymentService(db, storage.NewMemoryStore(), nil, NewAuditService(), NewEnrollmentService(db, nil))

	attempt, err := payments.CreateAttempt(ctx, user.ID, order.ID, model.PaymentMethodCash, 0)
	if err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}
	if attempt.Status != model.AttemptStatusAwaitingAdminApproval {
		t.Errorf("expected awaiting_admin_approval, got %q", attempt.Status)
	}
	if attempt.ExpiresAt != nil {
		t.Error("an attempt under review must not expire")
	}
}

func TestCreateAttemptRejectsSecondOpenAttempt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)
	order := checkoutOrder(t, db, user.ID, course)

	payments := NewPaymentService(db, storage.NewMemoryStore(), nil, NewAuditService(), NewEnrollmentService(db, nil))

	if _, err := payments.CreateAttempt(ctx, user.ID, order.ID, model.PaymentMethodManual, 0); err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}
	if _, err := payments.CreateAttempt(ctx, user.ID, order.ID, model.PaymentMethodManual, 0); !apperr.IsConflict(err) {
		t.Errorf("expected conflict for a second open attempt, got %v", err)
	}
}

func TestCreateAttemptPartialAmountRules(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "student@example.com", "student")
	plain := createTestCourse(t, db, "plain", 500000, false)
	installment := createTestCourse(t, db, "with-installments", 1200000, true)

	payments := NewPaymentService(db, storage.NewMemoryStore(), nil, NewAuditService(), NewEnrollmentService(db, nil))

	// Partial on a course without installment support is rejected.
	plainOrder := checkoutOrder(t, db, user.ID, plain)
	if _, err := payments.CreateAttempt(ctx, user.ID, plainOrder.ID, model.PaymentMethodManual, 200000); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for partial on plain course, got %v", err)
	}

	// Partial on a single installment-enabled course is accepted.
	installmentOrder := checkoutOrder(t, db, user.ID, installment)
	attempt, err := payments.CreateAttempt(ctx, user.ID, installmentOrder.ID, model.PaymentMethodManual, 400000)
	if err != nil {
		t.Fatalf("partial CreateAttempt failed: %v", err)
	}
	if attempt.Amount != 400000 {
		t.Errorf("expected partial amount 400000, got %f", attempt.Amount)
	}

	// More than the remaining balance is never accepted.
	other := createTestUser(t, db, "other@example.com", "student")
	otherOrder := checkoutOrder(t, db, other.ID, installment)
	if _, err := payments.CreateAttempt(ctx, other.ID, otherOrder.ID, model.PaymentMethodManual, 2000000); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for amount above balance, got %v", err)
	}
}

func TestCreateAttemptOwnershipAndMethod(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, db, "owner@example.com", "student")
	other := createTestUser(t, db, "other@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)
	order := checkoutOrder(t, db, owner.ID, course)

	payments := NewPaymentService(db, storage.NewMemoryStore(), nil, NewAuditService(), NewEnrollmentService(db, nil))

	if _, err := payments.CreateAttempt(ctx, other.ID, order.ID, model.PaymentMethodManual, 0); !apperr.IsForbidden(err) {
		t.Errorf("expected forbidden on foreign order, got %v", err)
	}
	if _, err := payments.CreateAttempt(ctx, owner.ID, order.ID, model.PaymentMethodFree, 0); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for free method, got %v", err)
	}
	// Online without a configured gateway is rejected cleanly.
	if _, err := payments.CreateAttempt(ctx, owner.ID, order.ID, model.PaymentMethodOnline, 0); !apperr.IsValidation(err) {
		t.Errorf("expected validation error without gateway, got %v", err)
	}
}

func TestUploadReceiptMovesToReview(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)
	order := checkoutOrder(t, db, user.ID, course)

	blobs := storage.NewMemoryStore()
	payments := NewPaymentService(db, blobs, nil, NewAuditService(), NewEnrollmentService(db, nil))

	attempt, err := payments.CreateAttempt(ctx, user.ID, order.ID, model.PaymentMethodManual, 0)
	if err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}

	updated, err := payments.UploadReceipt(ctx, user.ID, attempt.ID, multipartFile(t, "receipt.png", pngReceipt()))
	if err != nil {
		t.Fatalf("UploadReceipt failed: %v", err)
	}
	if updated.Status != model.AttemptStatusAwaitingAdminApproval {
		t.Errorf("expected awaiting_admin_approval, got %q", updated.Status)
	}
	if updated.ReceiptURL == "" || updated.ReceiptUploadedAt == nil {
		t.Error("expected receipt fields to be recorded")
	}
	if updated.ExpiresAt != nil {
		t.Error("an attempt under review must not expire")
	}
	if blobs.Len() != 1 {
		t.Errorf("expected 1 stored blob, got %d", blobs.Len())
	}

	// Overwriting while still under review replaces the stored file.
	replaced, err := payments.UploadReceipt(ctx, user.ID, attempt.ID, multipartFile(t, "better.png", pngReceipt()))
	if err != nil {
		t.Fatalf("receipt overwrite failed: %v", err)
	}
	if replaced.ReceiptFilename == updated.ReceiptFilename {
		t.Error("expected a fresh secure name for the replacement receipt")
	}
	if blobs.Len() != 1 {
		t.Errorf("expected the old blob to be deleted, found %d blobs", blobs.Len())
	}
}

func TestUploadReceiptValidationBeforeMutation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)
	order := checkoutOrder(t, db, user.ID, course)

	blobs := storage.NewMemoryStore()
	payments := NewPaymentService(db, blobs, nil, NewAuditService(), NewEnrollmentService(db, nil))

	attempt, err := payments.CreateAttempt(ctx, user.ID, order.ID, model.PaymentMethodManual, 0)
	if err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}

	cases := []struct {
		name     string
		filename string
		content  []byte
	}{
		{"oversize", "big.png", append(pngReceipt(), bytes.Repeat([]byte{0}, 6*1024*1024)...)},
		{"bad extension", "receipt.exe", pngReceipt()},
		{"mismatched content", "receipt.png", []byte("plain text, not an image")},
		{"empty", "receipt.png", nil},
	}

	for _, tc := range cases {
		_, err := payments.UploadReceipt(ctx, user.ID, attempt.ID, multipartFile(t, tc.filename, tc.content))
		if !apperr.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	// The failed uploads left nothing behind.
	if blobs.Len() != 0 {
		t.Errorf("expected no stored blobs after rejected uploads, got %d", blobs.Len())
	}
	var reloaded model.PaymentAttempt
	if err := db.First(&reloaded, attempt.ID).Error; err != nil {
		t.Fatalf("failed to reload attempt: %v", err)
	}
	if reloaded.Status != model.AttemptStatusAwaitingReceiptUpload || reloaded.ReceiptURL != "" {
		t.Errorf("expected attempt untouched by rejected uploads, got %+v", reloaded)
	}
}

func TestUploadReceiptEligibility(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "student@example.com", "student")
	other := createTestUser(t, db, "other@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)
	order := checkoutOrder(t, db, user.ID, course)

	payments := NewPaymentService(db, storage.NewMemoryStore(), nil, NewAuditService(), NewEnrollmentService(db, nil))

	attempt, err := payments.CreateAttempt(ctx, user.ID, order.ID, model.PaymentMethodCash, 0)
	if err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}

	// Cash attempts never accept receipts.
	if _, err := payments.UploadReceipt(ctx, user.ID, attempt.ID, multipartFile(t, "r.png", pngReceipt())); !apperr.IsConflict(err) {
		t.Errorf("expected conflict for cash attempt, got %v", err)
	}
	if _, err := payments.UploadReceipt(ctx, other.ID, attempt.ID, multipartFile(t, "r.png", pngReceipt())); !apperr.IsForbidden(err) {
		t.Errorf("expected forbidden for foreign attempt, got %v", err)
	}
}

func TestExpireStaleAttempts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "student@example.com", "student")
	first := createTestCourse(t, db, "first", 500000, false)
	second := createTestCourse(t, db, "second", 800000, false)

	audit := NewAuditService()
	payments := NewPaymentService(db, storage.NewMemoryStore(), nil, audit, NewEnrollmentService(db, nil))

	staleOrder := checkoutOrder(t, db, user.ID, first)
	stale, err := payments.CreateAttempt(ctx, user.ID, staleOrder.ID, model.PaymentMethodManual, 0)
	if err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}

	reviewOrder := checkoutOrder(t, db, user.ID, second)
	underReview, err := payments.CreateAttempt(ctx, user.ID, reviewOrder.ID, model.PaymentMethodCash, 0)
	if err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}

	// Push the first attempt past its window.
	past := time.Now().Add(-time.Hour)
	if err := db.Model(&model.PaymentAttempt{}).Where("id = ?", stale.ID).Update("expires_at", past).Error; err != nil {
		t.Fatalf("failed to backdate attempt: %v", err)
	}

	expired, err := payments.ExpireStaleAttempts(time.Now())
	if err != nil {
		t.Fatalf("ExpireStaleAttempts failed: %v", err)
	}
	if expired != 1 {
		t.Errorf("expected 1 expired attempt, got %d", expired)
	}

	var reloaded model.PaymentAttempt
	db.First(&reloaded, stale.ID)
	if reloaded.Status != model.AttemptStatusExpired {
		t.Errorf("expected expired attempt, got %q", reloaded.Status)
	}
	db.First(&reloaded, underReview.ID)
	if reloaded.Status != model.AttemptStatusAwaitingAdminApproval {
		t.Errorf("attempt under review must not be expired, got %q", reloaded.Status)
	}
}
