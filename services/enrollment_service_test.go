package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/apperr"
)

func createTestEnrollment(t *testing.T, db *gorm.DB, userID, courseID uint, total, paid float64, installments bool) *model.CourseEnrollment {
	t.Helper()

	enrollment := &model.CourseEnrollment{
		UserID:              userID,
		CourseID:            courseID,
		TotalAmount:         total,
		PaidAmount:          paid,
		Status:              model.EnrollmentStatusActive,
		InstallmentsAllowed: installments,
	}
	enrollment.RecomputePaymentStatus()
	if err := db.Create(enrollment).Error; err != nil {
		t.Fatalf("failed to create enrollment: %v", err)
	}
	return enrollment
}

func TestEnrollFree(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	enrollments := NewEnrollmentService(db, nil)

	user := createTestUser(t, db, "student@example.com", "student")
	free := createTestCourse(t, db, "intro", 0, false)
	paid := createTestCourse(t, db, "advanced", 500000, false)

	enrollment, err := enrollments.EnrollFree(ctx, user.ID, free.ID)
	if err != nil {
		t.Fatalf("EnrollFree failed: %v", err)
	}
	if enrollment.Status != model.EnrollmentStatusActive {
		t.Errorf("expected active enrollment, got %q", enrollment.Status)
	}
	if enrollment.PaymentStatus != model.EnrollmentPaymentPaid {
		t.Errorf("a zero-total enrollment counts as paid, got %q", enrollment.PaymentStatus)
	}

	if _, err := enrollments.EnrollFree(ctx, user.ID, free.ID); !apperr.IsConflict(err) {
		t.Errorf("expected conflict enrolling twice, got %v", err)
	}
	if _, err := enrollments.EnrollFree(ctx, user.ID, paid.ID); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for a paid course, got %v", err)
	}
	if _, err := enrollments.EnrollFree(ctx, user.ID, 9999); !apperr.IsNotFound(err) {
		t.Errorf("expected not-found for missing course, got %v", err)
	}
}

func TestGetStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	enrollments := NewEnrollmentService(db, nil)

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)

	status, err := enrollments.GetStatus(ctx, user.ID, course.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Enrolled {
		t.Error("expected not enrolled")
	}

	createTestEnrollment(t, db, user.ID, course.ID, 500000, 200000, false)

	status, err = enrollments.GetStatus(ctx, user.ID, course.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if !status.Enrolled {
		t.Fatal("expected enrolled")
	}
	if status.PaymentStatus != model.EnrollmentPaymentPartial {
		t.Errorf("expected partial status, got %q", status.PaymentStatus)
	}
	if status.RemainingAmount != 300000 {
		t.Errorf("expected remaining 300000, got %f", status.RemainingAmount)
	}
}

func TestCreateInstallmentPlan(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	enrollments := NewEnrollmentService(db, nil)

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 1200000, true)
	enrollment := createTestEnrollment(t, db, user.ID, course.ID, 1200000, 0, true)

	firstDue := time.Now().Add(7 * 24 * time.Hour)
	interval := 30 * 24 * time.Hour

	if _, err := enrollments.CreateInstallmentPlan(ctx, enrollment.ID, 1, firstDue, interval); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for a 1-installment plan, got %v", err)
	}

	planned, err := enrollments.CreateInstallmentPlan(ctx, enrollment.ID, 3, firstDue, interval)
	if err != nil {
		t.Fatalf("CreateInstallmentPlan failed: %v", err)
	}
	if len(planned.Installments) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(planned.Installments))
	}

	var sum float64
	for i, installment := range planned.Installments {
		sum += installment.Amount
		if installment.Number != i+1 {
			t.Errorf("expected installment number %d, got %d", i+1, installment.Number)
		}
		if installment.Status != model.InstallmentStatusUnpaid {
			t.Errorf("expected unpaid installment, got %q", installment.Status)
		}
		wantDue := firstDue.Add(time.Duration(i) * interval)
		if diff := installment.DueDate.Sub(wantDue); diff < -time.Second || diff > time.Second {
			t.Errorf("installment %d due %v, want %v", i+1, installment.DueDate, wantDue)
		}
	}
	if sum != 1200000 {
		t.Errorf("plan must sum to the total, got %f", sum)
	}

	// A second plan on the same enrollment is rejected.
	if _, err := enrollments.CreateInstallmentPlan(ctx, enrollment.ID, 2, firstDue, interval); !apperr.IsConflict(err) {
		t.Errorf("expected conflict for a second plan, got %v", err)
	}
}

func TestCreateInstallmentPlanCarriesPaidBalance(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	enrollments := NewEnrollmentService(db, nil)

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 1200000, true)
	enrollment := createTestEnrollment(t, db, user.ID, course.ID, 1200000, 400000, true)

	planned, err := enrollments.CreateInstallmentPlan(ctx, enrollment.ID, 3, time.Now().Add(7*24*time.Hour), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("CreateInstallmentPlan failed: %v", err)
	}

	// The already-paid 400000 covers the first installment exactly.
	if planned.Installments[0].Status != model.InstallmentStatusPaid {
		t.Errorf("expected first installment paid, got %q", planned.Installments[0].Status)
	}
	if planned.Installments[1].PaidAmount != 0 {
		t.Errorf("expected second installment untouched, got %f", planned.Installments[1].PaidAmount)
	}
}

func TestCreateInstallmentPlanEligibility(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	enrollments := NewEnrollmentService(db, nil)

	user := createTestUser(t, db, "student@example.com", "student")
	plain := createTestCourse(t, db, "plain", 500000, false)
	free := createTestCourse(t, db, "free", 0, true)

	noInstallments := createTestEnrollment(t, db, user.ID, plain.ID, 500000, 0, false)
	freeEnrollment := createTestEnrollment(t, db, user.ID, free.ID, 0, 0, true)

	firstDue := time.Now().Add(7 * 24 * time.Hour)
	if _, err := enrollments.CreateInstallmentPlan(ctx, noInstallments.ID, 3, firstDue, 30*24*time.Hour); !apperr.IsValidation(err) {
		t.Errorf("expected validation error without installment support, got %v", err)
	}
	if _, err := enrollments.CreateInstallmentPlan(ctx, freeEnrollment.ID, 3, firstDue, 30*24*time.Hour); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for a free enrollment, got %v", err)
	}
	if _, err := enrollments.CreateInstallmentPlan(ctx, 9999, 3, firstDue, 30*24*time.Hour); !apperr.IsNotFound(err) {
		t.Errorf("expected not-found for missing enrollment, got %v", err)
	}
}

func TestEnrollmentLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	enrollments := NewEnrollmentService(db, nil)

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)
	enrollment := createTestEnrollment(t, db, user.ID, course.ID, 500000, 500000, false)

	if _, err := enrollments.CancelEnrollment(ctx, enrollment.ID, ""); !apperr.IsValidation(err) {
		t.Errorf("expected validation error without a cancel reason, got %v", err)
	}

	cancelled, err := enrollments.CancelEnrollment(ctx, enrollment.ID, "moved abroad")
	if err != nil {
		t.Fatalf("CancelEnrollment failed: %v", err)
	}
	if cancelled.Status != model.EnrollmentStatusCancelled || cancelled.CancelReason != "moved abroad" {
		t.Errorf("expected cancelled with reason, got %+v", cancelled)
	}

	// Terminal enrollments cannot change state again.
	if _, err := enrollments.CompleteEnrollment(ctx, enrollment.ID); !apperr.IsConflict(err) {
		t.Errorf("expected conflict completing a cancelled enrollment, got %v", err)
	}

	// A cancelled enrollment no longer answers entitlement checks.
	status, err := enrollments.GetStatus(ctx, user.ID, course.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Enrolled {
		t.Error("expected cancelled enrollment to be invisible to status checks")
	}
}

func TestMarkOverdueInstallments(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	enrollments := NewEnrollmentService(db, nil)

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 1200000, true)
	enrollment := createTestEnrollment(t, db, user.ID, course.ID, 1200000, 0, true)

	if _, err := enrollments.CreateInstallmentPlan(ctx, enrollment.ID, 3, time.Now().Add(24*time.Hour), 30*24*time.Hour); err != nil {
		t.Fatalf("CreateInstallmentPlan failed: %v", err)
	}

	// Nothing is overdue while every due date is in the future.
	flipped, err := enrollments.MarkOverdueInstallments(time.Now())
	if err != nil {
		t.Fatalf("MarkOverdueInstallments failed: %v", err)
	}
	if flipped != 0 {
		t.Errorf("expected 0 overdue installments, got %d", flipped)
	}

	// Two due dates pass.
	flipped, err = enrollments.MarkOverdueInstallments(time.Now().Add(35 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("MarkOverdueInstallments failed: %v", err)
	}
	if flipped != 2 {
		t.Errorf("expected 2 overdue installments, got %d", flipped)
	}

	var statuses []model.InstallmentPayment
	db.Where("enrollment_id = ?", enrollment.ID).Order("number ASC").Find(&statuses)
	if statuses[0].Status != model.InstallmentStatusOverdue || statuses[2].Status != model.InstallmentStatusUnpaid {
		t.Errorf("unexpected statuses after sweep: %+v", statuses)
	}
}
