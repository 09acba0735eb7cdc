package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/apperr"
)

func TestIdempotencyBeginClaimsKey(t *testing.T) {
	db := newTestDB(t)
	idem := NewIdempotencyService()

	hash := HashRequest("42", "true", "")
	stored, claimed, err := idem.Begin(db, "key-1", 1, "payment_review", hash)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if stored != nil {
		t.Error("a fresh key must not replay")
	}
	if claimed == nil || claimed.Completed {
		t.Fatalf("expected an incomplete claim, got %+v", claimed)
	}

	// A duplicate arriving before the first finishes is rejected.
	if _, _, err := idem.Begin(db, "key-1", 1, "payment_review", hash); !apperr.IsConflict(err) {
		t.Errorf("expected conflict for an in-progress operation, got %v", err)
	}
}

func TestIdempotencyReplayAfterComplete(t *testing.T) {
	db := newTestDB(t)
	idem := NewIdempotencyService()

	type payload struct {
		Value int `json:"value"`
	}

	hash := HashRequest("42", "true", "")
	_, claimed, err := idem.Begin(db, "key-1", 1, "payment_review", hash)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := idem.Complete(db, claimed, payload{Value: 7}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	stored, again, err := idem.Begin(db, "key-1", 1, "payment_review", hash)
	if err != nil {
		t.Fatalf("replay Begin failed: %v", err)
	}
	if again != nil {
		t.Error("a completed key must not be re-claimed")
	}
	if stored == nil {
		t.Fatal("expected the stored record back")
	}
	var replayed payload
	if err := json.Unmarshal(stored.Response, &replayed); err != nil {
		t.Fatalf("failed to decode stored response: %v", err)
	}
	if replayed.Value != 7 {
		t.Errorf("expected stored response 7, got %d", replayed.Value)
	}
}

func TestIdempotencyRejectsDifferentRequest(t *testing.T) {
	db := newTestDB(t)
	idem := NewIdempotencyService()

	_, claimed, err := idem.Begin(db, "key-1", 1, "payment_review", HashRequest("42", "true", ""))
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := idem.Complete(db, claimed, map[string]int{"value": 1}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// Same key, different inputs: a client bug, not a replay.
	if _, _, err := idem.Begin(db, "key-1", 1, "payment_review", HashRequest("42", "false", "nope")); !apperr.IsConflict(err) {
		t.Errorf("expected conflict for mismatched request hash, got %v", err)
	}

	// A different user owns a separate namespace for the same key.
	if _, _, err := idem.Begin(db, "key-1", 2, "payment_review", HashRequest("42", "true", "")); err != nil {
		t.Errorf("expected a different user to claim the key, got %v", err)
	}
}

func TestIdempotencyReclaimsExpiredKey(t *testing.T) {
	db := newTestDB(t)
	idem := NewIdempotencyService()

	_, claimed, err := idem.Begin(db, "key-1", 1, "payment_review", HashRequest("a"))
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := idem.Complete(db, claimed, map[string]int{"value": 1}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	if err := db.Model(&model.IdempotencyRecord{}).Where("id = ?", claimed.ID).Update("expires_at", past).Error; err != nil {
		t.Fatalf("failed to backdate record: %v", err)
	}

	// Past the retention window the key is free again, even with new
	// request parameters.
	stored, reclaimed, err := idem.Begin(db, "key-1", 1, "payment_review", HashRequest("b"))
	if err != nil {
		t.Fatalf("reclaim Begin failed: %v", err)
	}
	if stored != nil {
		t.Error("an expired record must not replay")
	}
	if reclaimed == nil || reclaimed.Completed {
		t.Fatalf("expected a fresh claim, got %+v", reclaimed)
	}
}

func TestIdempotencyPurgeExpired(t *testing.T) {
	db := newTestDB(t)
	idem := NewIdempotencyService()

	for _, key := range []string{"key-1", "key-2"} {
		if _, _, err := idem.Begin(db, key, 1, "payment_review", HashRequest(key)); err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
	}

	past := time.Now().Add(-time.Hour)
	if err := db.Model(&model.IdempotencyRecord{}).Where("key = ?", "key-1").Update("expires_at", past).Error; err != nil {
		t.Fatalf("failed to backdate record: %v", err)
	}

	purged, err := idem.PurgeExpired(db, time.Now())
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged record, got %d", purged)
	}

	var remaining int64
	db.Model(&model.IdempotencyRecord{}).Count(&remaining)
	if remaining != 1 {
		t.Errorf("expected 1 record left, got %d", remaining)
	}
}

func TestHashRequestDistinguishesBoundaries(t *testing.T) {
	if HashRequest("ab", "c") == HashRequest("a", "bc") {
		t.Error("expected part boundaries to affect the hash")
	}
	if HashRequest("a", "b") != HashRequest("a", "b") {
		t.Error("expected the hash to be deterministic")
	}
}
