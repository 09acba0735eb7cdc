package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusDraft          OrderStatus = "draft"
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// orderTransitions lists the allowed forward moves. Completed and
// cancelled are terminal; an order never re-opens.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:          {OrderStatusPendingPayment, OrderStatusCancelled},
	OrderStatusPendingPayment: {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:      {},
	OrderStatusCancelled:      {},
}

// Order is the immutable, checked-out record of intent to pay. The cart
// contents are frozen into ItemsSnapshot at checkout; later catalog or
// cart changes never alter the order's total.
type Order struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	UserID        uint           `gorm:"not null;index" json:"user_id"`
	Number        string         `gorm:"type:varchar(30);uniqueIndex;not null" json:"number"`
	ItemsSnapshot datatypes.JSON `gorm:"not null" json:"items_snapshot"`
	TotalAmount   float64        `gorm:"not null" json:"total_amount"`
	Currency      string         `gorm:"type:varchar(10);default:'IRR'" json:"currency"`
	Status        OrderStatus    `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	CancelReason  string         `gorm:"type:text" json:"cancel_reason,omitempty"`

	// Relationships
	User     User             `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	Attempts []PaymentAttempt `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"attempts,omitempty"`
}

// TableName specifies the table name for Order
func (Order) TableName() string {
	return "orders"
}

// OrderItem is the shape of one entry in ItemsSnapshot
type OrderItem struct {
	CourseID       uint    `json:"course_id"`
	Title          string  `json:"title"`
	UnitPrice      float64 `json:"unit_price"`
	Thumbnail      string  `json:"thumbnail"`
	InstructorName string  `json:"instructor_name"`
}

// CanTransitionTo reports whether moving to the given status is allowed
func (o *Order) CanTransitionTo(next OrderStatus) bool {
	for _, s := range orderTransitions[o.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the order can no longer change state
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}
