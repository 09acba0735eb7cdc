package model

import (
	"time"

	"gorm.io/gorm"
)

// DefaultCartLifetime is how long an untouched cart survives before the
// cleanup sweep may remove it.
const DefaultCartLifetime = 7 * 24 * time.Hour

// Cart is the pre-checkout, mutable collection of courses a user intends
// to buy. Checkout snapshots its items into an order; the cart itself is
// cleared afterwards and never referenced by the order again.
type Cart struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	UserID    uint           `gorm:"not null;uniqueIndex" json:"user_id"`
	ExpiresAt time.Time      `gorm:"not null;index" json:"expires_at"`

	// Relationships
	User  User       `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Items []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// TableName specifies the table name for Cart
func (Cart) TableName() string {
	return "carts"
}

// TotalAmount sums the item price snapshots
func (c *Cart) TotalAmount() float64 {
	var total float64
	for _, item := range c.Items {
		total += item.UnitPrice
	}
	return total
}

// HasCourse reports whether the cart already contains the course
func (c *Cart) HasCourse(courseID uint) bool {
	for _, item := range c.Items {
		if item.CourseID == courseID {
			return true
		}
	}
	return false
}

// CartItem is one course line in a cart. Price, title, thumbnail and
// instructor are snapshots taken when the course is added; catalog edits
// after that point do not flow back into the cart.
type CartItem struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CartID         uint      `gorm:"not null;uniqueIndex:idx_cart_course" json:"cart_id"`
	CourseID       uint      `gorm:"not null;uniqueIndex:idx_cart_course" json:"course_id"`
	UnitPrice      float64   `gorm:"not null" json:"unit_price"`
	Title          string    `gorm:"not null" json:"title"`
	Thumbnail      string    `gorm:"type:text" json:"thumbnail"`
	InstructorName string    `gorm:"type:varchar(100)" json:"instructor_name"`

	// Relationships
	Cart   Cart   `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE" json:"-"`
	Course Course `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for CartItem
func (CartItem) TableName() string {
	return "cart_items"
}
