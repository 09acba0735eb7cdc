package model

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultIdempotencyLifetime is how long a completed record is kept for
// replaying duplicate requests.
const DefaultIdempotencyLifetime = 24 * time.Hour

// IdempotencyRecord remembers a completed logical operation so a retry
// with the same key replays the stored response instead of re-executing.
// The unique index over (key, user, operation) is what turns two
// concurrent duplicates into one winner and one replay.
type IdempotencyRecord struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Key           string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_idem_key_user_op" json:"key"`
	UserID        uint           `gorm:"not null;uniqueIndex:idx_idem_key_user_op" json:"user_id"`
	OperationType string         `gorm:"type:varchar(50);not null;uniqueIndex:idx_idem_key_user_op" json:"operation_type"`
	RequestHash   string         `gorm:"type:varchar(64);not null" json:"request_hash"`
	Completed     bool           `gorm:"not null;default:false" json:"completed"`
	Response      datatypes.JSON `json:"response,omitempty"`
	ExpiresAt     time.Time      `gorm:"not null;index" json:"expires_at"`
}

// TableName specifies the table name for IdempotencyRecord
func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}

// Expired reports whether the record is past its retention window
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
