package services

import (
	"context"
	"testing"
	"time"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/apperr"
)

func TestCartAddCourse(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	carts := NewCartService(db)

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)

	cart, err := carts.AddCourse(ctx, user.ID, course.ID)
	if err != nil {
		t.Fatalf("AddCourse failed: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(cart.Items))
	}
	if cart.Items[0].UnitPrice != 500000 {
		t.Errorf("expected snapshot price 500000, got %f", cart.Items[0].UnitPrice)
	}
	if cart.TotalAmount() != 500000 {
		t.Errorf("expected total 500000, got %f", cart.TotalAmount())
	}
}

func TestCartAddCourseRefreshesSnapshot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	carts := NewCartService(db)

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)

	if _, err := carts.AddCourse(ctx, user.ID, course.ID); err != nil {
		t.Fatalf("AddCourse failed: %v", err)
	}

	// Price changes in the catalog; re-adding must refresh the snapshot.
	if err := db.Model(course).Update("price", 650000).Error; err != nil {
		t.Fatalf("failed to update course price: %v", err)
	}

	cart, err := carts.AddCourse(ctx, user.ID, course.ID)
	if err != nil {
		t.Fatalf("re-AddCourse failed: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 item after re-add, got %d", len(cart.Items))
	}
	if cart.Items[0].UnitPrice != 650000 {
		t.Errorf("expected refreshed price 650000, got %f", cart.Items[0].UnitPrice)
	}
}

func TestCartAddUnpublishedCourse(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	carts := NewCartService(db)

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "draft-course", 500000, false)
	if err := db.Model(course).Update("is_published", false).Error; err != nil {
		t.Fatalf("failed to unpublish course: %v", err)
	}

	_, err := carts.AddCourse(ctx, user.ID, course.ID)
	if !apperr.IsNotFound(err) {
		t.Errorf("expected not-found for unpublished course, got %v", err)
	}
}

func TestCartAddOwnedCourse(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	carts := NewCartService(db)

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "owned", 500000, false)

	enrollment := model.CourseEnrollment{
		UserID: user.ID, CourseID: course.ID, TotalAmount: 500000,
		Status: model.EnrollmentStatusActive,
	}
	if err := db.Create(&enrollment).Error; err != nil {
		t.Fatalf("failed to create enrollment: %v", err)
	}

	_, err := carts.AddCourse(ctx, user.ID, course.ID)
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict for owned course, got %v", err)
	}
}

func TestCartRemoveCourse(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	carts := NewCartService(db)

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)

	if _, err := carts.AddCourse(ctx, user.ID, course.ID); err != nil {
		t.Fatalf("AddCourse failed: %v", err)
	}

	cart, err := carts.RemoveCourse(ctx, user.ID, course.ID)
	if err != nil {
		t.Fatalf("RemoveCourse failed: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Errorf("expected empty cart, got %d items", len(cart.Items))
	}

	// Removing again reports the course missing.
	if _, err := carts.RemoveCourse(ctx, user.ID, course.ID); !apperr.IsNotFound(err) {
		t.Errorf("expected not-found removing absent course, got %v", err)
	}
}

func TestCartClearIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	carts := NewCartService(db)

	user := createTestUser(t, db, "student@example.com", "student")

	// No cart exists yet; clearing still succeeds.
	if err := carts.Clear(ctx, user.ID); err != nil {
		t.Fatalf("Clear on absent cart failed: %v", err)
	}

	course := createTestCourse(t, db, "go-backend", 500000, false)
	if _, err := carts.AddCourse(ctx, user.ID, course.ID); err != nil {
		t.Fatalf("AddCourse failed: %v", err)
	}
	if err := carts.Clear(ctx, user.ID); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	cart, err := carts.GetByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByUser failed: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Errorf("expected empty cart after clear, got %d items", len(cart.Items))
	}
}

func TestCartPurgeExpired(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	carts := NewCartService(db)

	user := createTestUser(t, db, "student@example.com", "student")
	course := createTestCourse(t, db, "go-backend", 500000, false)
	if _, err := carts.AddCourse(ctx, user.ID, course.ID); err != nil {
		t.Fatalf("AddCourse failed: %v", err)
	}

	// Nothing is expired yet.
	purged, err := carts.PurgeExpired(time.Now())
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 0 {
		t.Errorf("expected 0 purged carts, got %d", purged)
	}

	purged, err = carts.PurgeExpired(time.Now().Add(model.DefaultCartLifetime + time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged cart, got %d", purged)
	}

	var items int64
	db.Model(&model.CartItem{}).Count(&items)
	if items != 0 {
		t.Errorf("expected cart items to be purged with the cart, found %d", items)
	}
}
