package model

import (
	"time"

	"gorm.io/gorm"
)

// PaymentMethod identifies how an attempt settles its order balance
type PaymentMethod string

const (
	PaymentMethodOnline PaymentMethod = "online"
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodManual PaymentMethod = "manual"
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodFree   PaymentMethod = "free"
)

// PaymentAttemptStatus is the state of one payment attempt
type PaymentAttemptStatus string

const (
	AttemptStatusDraft                 PaymentAttemptStatus = "draft"
	AttemptStatusPendingPayment        PaymentAttemptStatus = "pending_payment"
	AttemptStatusAwaitingReceiptUpload PaymentAttemptStatus = "awaiting_receipt_upload"
	AttemptStatusAwaitingAdminApproval PaymentAttemptStatus = "awaiting_admin_approval"
	AttemptStatusPaid                  PaymentAttemptStatus = "paid"
	AttemptStatusFailed                PaymentAttemptStatus = "failed"
	AttemptStatusExpired               PaymentAttemptStatus = "expired"
	AttemptStatusRefunded              PaymentAttemptStatus = "refunded"
)

// DefaultAttemptLifetime is how long a draft/pending attempt may sit
// before the expiry sweep closes it. Attempts waiting on an admin are
// exempt; a human review has no deadline.
const DefaultAttemptLifetime = 48 * time.Hour

// attemptTransitions is the full transition table. Anything not listed
// here is an invalid move and must be rejected, not ignored.
var attemptTransitions = map[PaymentAttemptStatus][]PaymentAttemptStatus{
	AttemptStatusDraft: {
		AttemptStatusPendingPayment,
		AttemptStatusExpired,
	},
	AttemptStatusPendingPayment: {
		AttemptStatusAwaitingReceiptUpload, // manual method only
		AttemptStatusAwaitingAdminApproval, // cash method skips the receipt stage
		AttemptStatusPaid,                  // gateway-confirmed methods
		AttemptStatusFailed,
		AttemptStatusExpired,
	},
	AttemptStatusAwaitingReceiptUpload: {
		AttemptStatusAwaitingAdminApproval,
		AttemptStatusExpired,
	},
	AttemptStatusAwaitingAdminApproval: {
		AttemptStatusPaid,
		AttemptStatusFailed,
	},
	AttemptStatusPaid: {
		AttemptStatusRefunded,
	},
	AttemptStatusFailed:   {},
	AttemptStatusExpired:  {},
	AttemptStatusRefunded: {},
}

// PaymentAttempt is one concrete effort to settle an order. Retries
// after failure or rejection are new attempts; an existing attempt is
// never re-opened.
type PaymentAttempt struct {
	ID           uint                 `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	DeletedAt    gorm.DeletedAt       `gorm:"index" json:"-"`
	OrderID      uint                 `gorm:"not null;index" json:"order_id"`
	UserID       uint                 `gorm:"not null;index" json:"user_id"`
	Amount       float64              `gorm:"not null" json:"amount"`
	Currency     string               `gorm:"type:varchar(10);default:'IRR'" json:"currency"`
	Method       PaymentMethod        `gorm:"type:varchar(20);not null" json:"method"`
	TrackingCode string               `gorm:"type:varchar(100);uniqueIndex;not null" json:"tracking_code"`
	Status       PaymentAttemptStatus `gorm:"type:varchar(30);not null;default:'draft';index" json:"status"`
	ExpiresAt    *time.Time           `gorm:"index" json:"expires_at,omitempty"`

	// Manual (bank transfer) receipt fields
	ReceiptURL        string     `gorm:"type:text" json:"receipt_url,omitempty"`
	ReceiptFilename   string     `gorm:"type:varchar(255)" json:"receipt_filename,omitempty"`
	ReceiptUploadedAt *time.Time `json:"receipt_uploaded_at,omitempty"`

	// Admin review fields
	ReviewerID      *uint      `gorm:"index" json:"reviewer_id,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	RejectionReason string     `gorm:"type:text" json:"rejection_reason,omitempty"`

	// Online gateway references
	GatewayOrderID   string `gorm:"type:varchar(100);index" json:"gateway_order_id,omitempty"`
	GatewayPaymentID string `gorm:"type:varchar(100)" json:"gateway_payment_id,omitempty"`

	// Relationships
	Order    Order `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"order,omitempty"`
	User     User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Reviewer *User `gorm:"foreignKey:ReviewerID" json:"reviewer,omitempty"`
}

// TableName specifies the table name for PaymentAttempt
func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}

// CanTransitionTo reports whether moving to the given status is allowed
func (p *PaymentAttempt) CanTransitionTo(next PaymentAttemptStatus) bool {
	for _, s := range attemptTransitions[p.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the attempt can no longer change state,
// refund excepted.
func (p *PaymentAttempt) IsTerminal() bool {
	switch p.Status {
	case AttemptStatusPaid, AttemptStatusFailed, AttemptStatusExpired, AttemptStatusRefunded:
		return true
	}
	return false
}

// ReceiptEligible reports whether a receipt may be uploaded. Overwriting
// a receipt is allowed while the attempt still awaits a decision.
func (p *PaymentAttempt) ReceiptEligible() bool {
	return p.Method == PaymentMethodManual &&
		(p.Status == AttemptStatusAwaitingReceiptUpload || p.Status == AttemptStatusAwaitingAdminApproval)
}

// Expirable reports whether the expiry sweep may close this attempt.
// Attempts under admin review wait indefinitely.
func (p *PaymentAttempt) Expirable() bool {
	switch p.Status {
	case AttemptStatusDraft, AttemptStatusPendingPayment, AttemptStatusAwaitingReceiptUpload:
		return true
	}
	return false
}
