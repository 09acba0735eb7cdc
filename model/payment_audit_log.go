package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditAction names one meaningful payment-state transition
type AuditAction string

const (
	AuditActionAttemptCreated     AuditAction = "attempt_created"
	AuditActionReceiptUploaded    AuditAction = "receipt_uploaded"
	AuditActionAdminApproved      AuditAction = "admin_approved"
	AuditActionAdminRejected      AuditAction = "admin_rejected"
	AuditActionGatewayConfirmed   AuditAction = "gateway_confirmed"
	AuditActionEnrollmentCredited AuditAction = "enrollment_credited"
	AuditActionEnrollmentFailed   AuditAction = "enrollment_failed"
	AuditActionOrderCompleted     AuditAction = "order_completed"
	AuditActionAttemptExpired     AuditAction = "attempt_expired"
	AuditActionRefunded           AuditAction = "refunded"
)

// PaymentAuditLog is the append-only ledger of payment-state transitions.
// Rows are written inside the same transaction as the transition they
// record and are never updated or deleted, so there is no UpdatedAt or
// soft-delete column.
type PaymentAuditLog struct {
	ID               uint                 `gorm:"primaryKey" json:"id"`
	CreatedAt        time.Time            `json:"created_at"`
	PaymentAttemptID uint                 `gorm:"not null;index" json:"payment_attempt_id"`
	ActorID          uint                 `gorm:"not null;index" json:"actor_id"`
	Action           AuditAction          `gorm:"type:varchar(50);not null" json:"action"`
	FromStatus       PaymentAttemptStatus `gorm:"type:varchar(30)" json:"from_status"`
	ToStatus         PaymentAttemptStatus `gorm:"type:varchar(30)" json:"to_status"`
	Amount           float64              `json:"amount"`
	Reason           string               `gorm:"type:text" json:"reason,omitempty"`
	Metadata         datatypes.JSON       `json:"metadata,omitempty"`

	// Relationships
	PaymentAttempt PaymentAttempt `gorm:"foreignKey:PaymentAttemptID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for PaymentAuditLog
func (PaymentAuditLog) TableName() string {
	return "payment_audit_logs"
}
