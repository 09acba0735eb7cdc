package model

import (
	"time"

	"gorm.io/gorm"
)

// Course represents a sellable course in the catalog. The catalog itself
// is maintained elsewhere; the payment pipeline only reads price, title
// and presentation fields to take snapshots at cart-add and checkout time.
type Course struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	Title          string         `gorm:"not null" json:"title"`
	Slug           string         `gorm:"uniqueIndex;not null" json:"slug"`
	Price          float64        `gorm:"not null;default:0" json:"price"`
	Currency       string         `gorm:"type:varchar(10);default:'IRR'" json:"currency"`
	Thumbnail      string         `gorm:"type:text" json:"thumbnail"`
	InstructorName string         `gorm:"type:varchar(100)" json:"instructor_name"`
	IsPublished    bool           `gorm:"default:true" json:"is_published"`
	// InstallmentsAllowed marks courses whose enrollments may be paid in
	// scheduled parts instead of a single amount.
	InstallmentsAllowed bool `gorm:"default:false" json:"installments_allowed"`
	InstallmentCount    int  `gorm:"default:0" json:"installment_count"`
}

// TableName specifies the table name for Course
func (Course) TableName() string {
	return "courses"
}

// IsFree reports whether the course can be enrolled without payment
func (c *Course) IsFree() bool {
	return c.Price <= 0
}
