package services

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/learnsphere/course-market-api/model"
)

// AuditService writes the append-only payment audit trail. Every entry
// is created through the transaction of the state change it records, so
// a rolled-back transition leaves no trace and a committed one always
// does.
type AuditService struct{}

// NewAuditService creates a new audit service
func NewAuditService() *AuditService {
	return &AuditService{}
}

// AuditEntry describes one transition to record
type AuditEntry struct {
	PaymentAttemptID uint
	ActorID          uint
	Action           model.AuditAction
	FromStatus       model.PaymentAttemptStatus
	ToStatus         model.PaymentAttemptStatus
	Amount           float64
	Reason           string
	Metadata         map[string]interface{}
}

// Record appends one audit row inside the given transaction
func (s *AuditService) Record(tx *gorm.DB, entry AuditEntry) error {
	var metadata datatypes.JSON
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = data
	}

	row := model.PaymentAuditLog{
		PaymentAttemptID: entry.PaymentAttemptID,
		ActorID:          entry.ActorID,
		Action:           entry.Action,
		FromStatus:       entry.FromStatus,
		ToStatus:         entry.ToStatus,
		Amount:           entry.Amount,
		Reason:           entry.Reason,
		Metadata:         metadata,
	}

	return tx.Create(&row).Error
}

// ListForAttempt returns the trail for one attempt, oldest first
func (s *AuditService) ListForAttempt(db *gorm.DB, attemptID uint) ([]model.PaymentAuditLog, error) {
	var rows []model.PaymentAuditLog
	err := db.Where("payment_attempt_id = ?", attemptID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}
