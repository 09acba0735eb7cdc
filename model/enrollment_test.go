package model

import (
	"testing"
	"time"
)

func TestApplyPaymentClampsAtTotal(t *testing.T) {
	enrollment := CourseEnrollment{TotalAmount: 1000, PaidAmount: 800}

	applied := enrollment.ApplyPayment(500)
	if applied != 200 {
		t.Errorf("expected 200 applied, got %f", applied)
	}
	if enrollment.PaidAmount != 1000 {
		t.Errorf("expected paid 1000, got %f", enrollment.PaidAmount)
	}
	if enrollment.PaymentStatus != EnrollmentPaymentPaid {
		t.Errorf("expected paid status, got %q", enrollment.PaymentStatus)
	}

	// Nothing more can be applied.
	if applied := enrollment.ApplyPayment(100); applied != 0 {
		t.Errorf("expected 0 applied to a settled enrollment, got %f", applied)
	}
}

func TestRecomputePaymentStatus(t *testing.T) {
	cases := []struct {
		total, paid float64
		want        EnrollmentPaymentStatus
	}{
		{1000, 0, EnrollmentPaymentUnpaid},
		{1000, 400, EnrollmentPaymentPartial},
		{1000, 1000, EnrollmentPaymentPaid},
		{0, 0, EnrollmentPaymentPaid}, // free enrollments count as paid
	}

	for _, tc := range cases {
		enrollment := CourseEnrollment{TotalAmount: tc.total, PaidAmount: tc.paid}
		enrollment.RecomputePaymentStatus()
		if enrollment.PaymentStatus != tc.want {
			t.Errorf("total=%f paid=%f: got %q, want %q", tc.total, tc.paid, enrollment.PaymentStatus, tc.want)
		}
	}
}

func TestEnrollmentRemainingAmount(t *testing.T) {
	enrollment := CourseEnrollment{TotalAmount: 1000, PaidAmount: 400}
	if got := enrollment.RemainingAmount(); got != 600 {
		t.Errorf("expected remaining 600, got %f", got)
	}

	overpaid := CourseEnrollment{TotalAmount: 1000, PaidAmount: 1200}
	if got := overpaid.RemainingAmount(); got != 0 {
		t.Errorf("expected remaining clamped to 0, got %f", got)
	}
}

func TestInstallmentRecomputeStatus(t *testing.T) {
	now := time.Now()
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	cases := []struct {
		name   string
		amount float64
		paid   float64
		due    time.Time
		want   InstallmentStatus
	}{
		{"untouched", 500, 0, future, InstallmentStatusUnpaid},
		{"partially paid", 500, 200, future, InstallmentStatusPartial},
		{"settled", 500, 500, future, InstallmentStatusPaid},
		{"past due", 500, 0, past, InstallmentStatusOverdue},
		{"past due but partially paid", 500, 200, past, InstallmentStatusOverdue},
		{"settled before due date passed", 500, 500, past, InstallmentStatusPaid},
	}

	for _, tc := range cases {
		installment := InstallmentPayment{Amount: tc.amount, PaidAmount: tc.paid, DueDate: tc.due}
		installment.RecomputeStatus(now)
		if installment.Status != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, installment.Status, tc.want)
		}
	}
}
