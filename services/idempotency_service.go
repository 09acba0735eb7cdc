package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/apperr"
)

// uniqueViolation is the Postgres error code for a broken unique index
const uniqueViolation = "23505"

// IdempotencyService guards logical operations against double execution.
// A record is inserted at the start of the guarded transaction; the
// unique index over (key, user, operation) makes the database pick the
// single winner when duplicates race, and completed records let later
// retries replay the stored response.
type IdempotencyService struct{}

// NewIdempotencyService creates a new idempotency service
func NewIdempotencyService() *IdempotencyService {
	return &IdempotencyService{}
}

// HashRequest produces the canonical fingerprint of an operation's
// inputs. Two calls with the same key but different inputs are a client
// bug and get rejected instead of replayed.
func HashRequest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Begin claims the idempotency key inside the given transaction.
//
// Returns (nil, record, nil) when this caller won the key and should
// execute the operation, and (stored, nil, nil) when a completed record
// already exists and its stored response should be replayed.
func (s *IdempotencyService) Begin(tx *gorm.DB, key string, userID uint, operationType, requestHash string) (*model.IdempotencyRecord, *model.IdempotencyRecord, error) {
	record := model.IdempotencyRecord{
		Key:           key,
		UserID:        userID,
		OperationType: operationType,
		RequestHash:   requestHash,
		Completed:     false,
		ExpiresAt:     time.Now().Add(model.DefaultIdempotencyLifetime),
	}

	err := tx.Create(&record).Error
	if err == nil {
		return nil, &record, nil
	}

	if !isUniqueViolation(err) {
		return nil, nil, apperr.Unexpected("failed to claim idempotency key", err)
	}

	// Lost the race or retried: load what the winner wrote.
	var existing model.IdempotencyRecord
	if err := tx.Where("key = ? AND user_id = ? AND operation_type = ?", key, userID, operationType).
		First(&existing).Error; err != nil {
		return nil, nil, apperr.Unexpected("failed to load idempotency record", err)
	}

	if existing.Expired(time.Now()) {
		// Stale claim from a past window: take it over.
		existing.RequestHash = requestHash
		existing.Completed = false
		existing.Response = nil
		existing.ExpiresAt = time.Now().Add(model.DefaultIdempotencyLifetime)
		if err := tx.Save(&existing).Error; err != nil {
			return nil, nil, apperr.Unexpected("failed to reclaim idempotency key", err)
		}
		return nil, &existing, nil
	}

	if existing.RequestHash != requestHash {
		return nil, nil, apperr.Conflict("idempotency key was already used with different request parameters")
	}

	if !existing.Completed {
		return nil, nil, apperr.Conflict("the same operation is already in progress")
	}

	return &existing, nil, nil
}

// Complete marks the record done and stores the response for replay
func (s *IdempotencyService) Complete(tx *gorm.DB, record *model.IdempotencyRecord, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return apperr.Unexpected("failed to encode idempotency response", err)
	}

	record.Completed = true
	record.Response = data
	if err := tx.Save(record).Error; err != nil {
		return apperr.Unexpected("failed to complete idempotency record", err)
	}
	return nil
}

// PurgeExpired removes records past their retention window; called by
// the scheduled sweep.
func (s *IdempotencyService) PurgeExpired(db *gorm.DB, now time.Time) (int64, error) {
	result := db.Where("expires_at < ?", now).Delete(&model.IdempotencyRecord{})
	return result.RowsAffected, result.Error
}

// isUniqueViolation detects a broken unique index across the drivers we
// run on (Postgres in production, sqlite in tests).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
