package model

import (
	"time"

	"gorm.io/gorm"
)

// EnrollmentPaymentStatus is derived from paid vs total amount
type EnrollmentPaymentStatus string

const (
	EnrollmentPaymentUnpaid  EnrollmentPaymentStatus = "unpaid"
	EnrollmentPaymentPartial EnrollmentPaymentStatus = "partial"
	EnrollmentPaymentPaid    EnrollmentPaymentStatus = "paid"
)

// EnrollmentStatus is the lifecycle state of an enrollment
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
	EnrollmentStatusSuspended EnrollmentStatus = "suspended"
)

// InstallmentStatus is the payment state of one installment
type InstallmentStatus string

const (
	InstallmentStatusUnpaid  InstallmentStatus = "unpaid"
	InstallmentStatusPartial InstallmentStatus = "partial"
	InstallmentStatusPaid    InstallmentStatus = "paid"
	InstallmentStatusOverdue InstallmentStatus = "overdue"
)

// CourseEnrollment is a student's durable entitlement to a course. It is
// funded by one or more payment attempts (or granted free) and lives
// independently of the order that created it. A (user, course) pair has
// at most one active enrollment; the service layer enforces that before
// creating a new row.
type CourseEnrollment struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	UserID    uint           `gorm:"not null;index:idx_enrollment_user_course" json:"user_id"`
	CourseID  uint           `gorm:"not null;index:idx_enrollment_user_course" json:"course_id"`

	TotalAmount   float64                 `gorm:"not null" json:"total_amount"`
	PaidAmount    float64                 `gorm:"not null;default:0" json:"paid_amount"`
	PaymentStatus EnrollmentPaymentStatus `gorm:"type:varchar(20);not null;default:'unpaid'" json:"payment_status"`
	Status        EnrollmentStatus        `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	CancelReason  string                  `gorm:"type:text" json:"cancel_reason,omitempty"`

	InstallmentsAllowed bool `gorm:"default:false" json:"installments_allowed"`

	// Relationships
	User         User                 `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	Course       Course               `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"course,omitempty"`
	Installments []InstallmentPayment `gorm:"foreignKey:EnrollmentID;constraint:OnDelete:CASCADE" json:"installments,omitempty"`
}

// TableName specifies the table name for CourseEnrollment
func (CourseEnrollment) TableName() string {
	return "course_enrollments"
}

// RemainingAmount is what is still owed
func (e *CourseEnrollment) RemainingAmount() float64 {
	remaining := e.TotalAmount - e.PaidAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecomputePaymentStatus derives the payment status from the amounts.
// A zero-total (free) enrollment counts as paid.
func (e *CourseEnrollment) RecomputePaymentStatus() {
	switch {
	case e.PaidAmount >= e.TotalAmount:
		e.PaymentStatus = EnrollmentPaymentPaid
	case e.PaidAmount > 0:
		e.PaymentStatus = EnrollmentPaymentPartial
	default:
		e.PaymentStatus = EnrollmentPaymentUnpaid
	}
}

// ApplyPayment credits the enrollment, clamping at the total, and
// returns the amount actually applied.
func (e *CourseEnrollment) ApplyPayment(amount float64) float64 {
	applied := amount
	if e.PaidAmount+applied > e.TotalAmount {
		applied = e.TotalAmount - e.PaidAmount
	}
	if applied < 0 {
		applied = 0
	}
	e.PaidAmount += applied
	e.RecomputePaymentStatus()
	return applied
}

// InstallmentPayment is one scheduled partial obligation within an
// enrollment's payment plan. Overdue is derived from the due date, never
// set directly by a caller.
type InstallmentPayment struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	DeletedAt    gorm.DeletedAt    `gorm:"index" json:"-"`
	EnrollmentID uint              `gorm:"not null;uniqueIndex:idx_enrollment_installment" json:"enrollment_id"`
	Number       int               `gorm:"not null;uniqueIndex:idx_enrollment_installment" json:"number"`
	Amount       float64           `gorm:"not null" json:"amount"`
	PaidAmount   float64           `gorm:"not null;default:0" json:"paid_amount"`
	DueDate      time.Time         `gorm:"not null;index" json:"due_date"`
	Status       InstallmentStatus `gorm:"type:varchar(20);not null;default:'unpaid'" json:"status"`

	// Relationships
	Enrollment CourseEnrollment `gorm:"foreignKey:EnrollmentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for InstallmentPayment
func (InstallmentPayment) TableName() string {
	return "installment_payments"
}

// RemainingAmount is what is still owed on this installment
func (i *InstallmentPayment) RemainingAmount() float64 {
	remaining := i.Amount - i.PaidAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecomputeStatus derives the installment status from the amounts and
// the due date.
func (i *InstallmentPayment) RecomputeStatus(now time.Time) {
	switch {
	case i.PaidAmount >= i.Amount:
		i.Status = InstallmentStatusPaid
	case now.After(i.DueDate):
		i.Status = InstallmentStatusOverdue
	case i.PaidAmount > 0:
		i.Status = InstallmentStatusPartial
	default:
		i.Status = InstallmentStatusUnpaid
	}
}
