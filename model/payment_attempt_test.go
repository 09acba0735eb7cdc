package model

import (
	"testing"
)

func TestAttemptTransitions(t *testing.T) {
	cases := []struct {
		from    PaymentAttemptStatus
		to      PaymentAttemptStatus
		allowed bool
	}{
		{AttemptStatusDraft, AttemptStatusPendingPayment, true},
		{AttemptStatusDraft, AttemptStatusPaid, false},
		{AttemptStatusPendingPayment, AttemptStatusAwaitingReceiptUpload, true},
		{AttemptStatusPendingPayment, AttemptStatusAwaitingAdminApproval, true},
		{AttemptStatusPendingPayment, AttemptStatusPaid, true},
		{AttemptStatusAwaitingReceiptUpload, AttemptStatusAwaitingAdminApproval, true},
		{AttemptStatusAwaitingReceiptUpload, AttemptStatusPaid, false},
		{AttemptStatusAwaitingAdminApproval, AttemptStatusPaid, true},
		{AttemptStatusAwaitingAdminApproval, AttemptStatusFailed, true},
		{AttemptStatusAwaitingAdminApproval, AttemptStatusExpired, false},
		{AttemptStatusPaid, AttemptStatusRefunded, true},
		{AttemptStatusPaid, AttemptStatusDraft, false},
		{AttemptStatusFailed, AttemptStatusPendingPayment, false},
		{AttemptStatusExpired, AttemptStatusPaid, false},
		{AttemptStatusRefunded, AttemptStatusPaid, false},
	}

	for _, tc := range cases {
		attempt := PaymentAttempt{Status: tc.from}
		if got := attempt.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestAttemptIsTerminal(t *testing.T) {
	terminal := []PaymentAttemptStatus{
		AttemptStatusPaid, AttemptStatusFailed, AttemptStatusExpired, AttemptStatusRefunded,
	}
	open := []PaymentAttemptStatus{
		AttemptStatusDraft, AttemptStatusPendingPayment,
		AttemptStatusAwaitingReceiptUpload, AttemptStatusAwaitingAdminApproval,
	}

	for _, status := range terminal {
		if !(&PaymentAttempt{Status: status}).IsTerminal() {
			t.Errorf("expected %s to be terminal", status)
		}
	}
	for _, status := range open {
		if (&PaymentAttempt{Status: status}).IsTerminal() {
			t.Errorf("expected %s to be open", status)
		}
	}
}

func TestAttemptReceiptEligible(t *testing.T) {
	manual := PaymentAttempt{Method: PaymentMethodManual, Status: AttemptStatusAwaitingReceiptUpload}
	if !manual.ReceiptEligible() {
		t.Error("manual attempt awaiting upload must accept a receipt")
	}

	// Overwriting while the decision is pending is allowed.
	manual.Status = AttemptStatusAwaitingAdminApproval
	if !manual.ReceiptEligible() {
		t.Error("manual attempt under review must accept a replacement receipt")
	}

	manual.Status = AttemptStatusPaid
	if manual.ReceiptEligible() {
		t.Error("a decided attempt must not accept receipts")
	}

	cash := PaymentAttempt{Method: PaymentMethodCash, Status: AttemptStatusAwaitingAdminApproval}
	if cash.ReceiptEligible() {
		t.Error("cash attempts never carry receipts")
	}
}

func TestAttemptExpirable(t *testing.T) {
	cases := map[PaymentAttemptStatus]bool{
		AttemptStatusDraft:                 true,
		AttemptStatusPendingPayment:        true,
		AttemptStatusAwaitingReceiptUpload: true,
		AttemptStatusAwaitingAdminApproval: false,
		AttemptStatusPaid:                  false,
		AttemptStatusFailed:                false,
	}
	for status, want := range cases {
		if got := (&PaymentAttempt{Status: status}).Expirable(); got != want {
			t.Errorf("%s: Expirable() = %v, want %v", status, got, want)
		}
	}
}
