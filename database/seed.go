package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/auth"
)

// Seeder handles database seeding operations
type Seeder struct {
	db *gorm.DB
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{db: db}
}

// SeedAll runs all seed functions
func (s *Seeder) SeedAll() error {
	log.Println("🌱 Starting database seeding...")

	// Run seeds in order (respecting foreign key constraints)
	if err := s.SeedAdminUser(); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	if err := s.SeedStudents(); err != nil {
		return fmt.Errorf("failed to seed students: %w", err)
	}

	if err := s.SeedCourses(); err != nil {
		return fmt.Errorf("failed to seed courses: %w", err)
	}

	log.Println("✅ Database seeding completed successfully!")
	return nil
}

// SeedAdminUser creates the default admin user
func (s *Seeder) SeedAdminUser() error {
	// Check if admin already exists
	var count int64
	if err := s.db.Model(&model.User{}).Where("role = ?", "admin").Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Println("Admin user already exists, skipping")
		return nil
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "changeme-admin"
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	admin := model.User{
		Email:        "admin@learnsphere.local",
		PasswordHash: hash,
		Name:         "Platform Admin",
		Role:         "admin",
	}

	if err := s.db.Create(&admin).Error; err != nil {
		return err
	}

	log.Println("Created default admin user:", admin.Email)
	return nil
}

// SeedStudents creates a couple of demo students for local development
func (s *Seeder) SeedStudents() error {
	var count int64
	if err := s.db.Model(&model.User{}).Where("role = ?", "student").Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Println("Students already exist, skipping")
		return nil
	}

	hash, err := auth.HashPassword("student-pass")
	if err != nil {
		return err
	}

	students := []model.User{
		{Email: "sara@example.com", PasswordHash: hash, Name: "Sara Ahmadi", Role: "student"},
		{Email: "reza@example.com", PasswordHash: hash, Name: "Reza Karimi", Role: "student"},
	}

	for _, student := range students {
		if err := s.db.Create(&student).Error; err != nil {
			return err
		}
	}

	log.Printf("Created %d demo students", len(students))
	return nil
}

// SeedCourses creates demo catalog entries, including a free course and
// an installment-enabled course so every payment path is exercisable.
func (s *Seeder) SeedCourses() error {
	var count int64
	if err := s.db.Model(&model.Course{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Println("Courses already exist, skipping")
		return nil
	}

	courses := []model.Course{
		{
			Title:          "Advanced Go Backend Engineering",
			Slug:           "advanced-go-backend",
			Price:          500000,
			Currency:       "IRR",
			InstructorName: "M. Hosseini",
			IsPublished:    true,
		},
		{
			Title:               "Full-Stack Web Bootcamp",
			Slug:                "fullstack-web-bootcamp",
			Price:               1200000,
			Currency:            "IRR",
			InstructorName:      "N. Rahimi",
			IsPublished:         true,
			InstallmentsAllowed: true,
			InstallmentCount:    3,
		},
		{
			Title:          "Introduction to Programming",
			Slug:           "intro-to-programming",
			Price:          0,
			Currency:       "IRR",
			InstructorName: "M. Hosseini",
			IsPublished:    true,
		},
	}

	for _, course := range courses {
		if err := s.db.Create(&course).Error; err != nil {
			return err
		}
	}

	log.Printf("Created %d demo courses", len(courses))
	return nil
}

// CleanupExpiredCarts is used by the seeder CLI to reset stale demo data
func (s *Seeder) CleanupExpiredCarts() error {
	return s.db.Where("expires_at < ?", time.Now()).Delete(&model.Cart{}).Error
}
