package services

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/learnsphere/course-market-api/database"
	"github.com/learnsphere/course-market-api/model"
)

// newTestDB opens a fresh in-memory sqlite database with the full schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, email, role string) *model.User {
	t.Helper()

	user := &model.User{
		Email:        email,
		PasswordHash: "x",
		Name:         "Test User",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func createTestCourse(t *testing.T, db *gorm.DB, slug string, price float64, installments bool) *model.Course {
	t.Helper()

	course := &model.Course{
		Title:               "Course " + slug,
		Slug:                slug,
		Price:               price,
		Currency:            "IRR",
		InstructorName:      "Instructor",
		IsPublished:         true,
		InstallmentsAllowed: installments,
	}
	if err := db.Create(course).Error; err != nil {
		t.Fatalf("failed to create course: %v", err)
	}
	return course
}

// checkoutOrder puts the courses in the user's cart and checks out
func checkoutOrder(t *testing.T, db *gorm.DB, userID uint, courses ...*model.Course) *model.Order {
	t.Helper()

	ctx := context.Background()
	carts := NewCartService(db)
	for _, course := range courses {
		if _, err := carts.AddCourse(ctx, userID, course.ID); err != nil {
			t.Fatalf("failed to add course %d to cart: %v", course.ID, err)
		}
	}

	order, err := NewOrderService(db, NewAuditService()).Checkout(ctx, userID)
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	return order
}

// multipartFile builds a *multipart.FileHeader the way Fiber hands one
// to the upload handler
func multipartFile(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("receipt", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	writer.Close()

	form, err := multipart.NewReader(&buf, writer.Boundary()).ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("failed to parse form: %v", err)
	}
	return form.File["receipt"][0]
}

// pngReceipt is a minimal payload passing the image signature check
func pngReceipt() []byte {
	return append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, bytes.Repeat([]byte{0x01}, 64)...)
}
