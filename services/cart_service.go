package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/apperr"
)

// CartService manages the pre-checkout cart. It only mutates cart state;
// orders and enrollments are never touched from here.
type CartService struct {
	db *gorm.DB
}

// NewCartService creates a new cart service
func NewCartService(db *gorm.DB) *CartService {
	return &CartService{db: db}
}

// AddCourse puts a course into the user's cart, creating the cart on
// first use. Re-adding a course that is already present refreshes its
// price snapshot from the catalog instead of failing; the cart always
// reflects the price the user would be charged if they checked out now.
func (s *CartService) AddCourse(ctx context.Context, userID, courseID uint) (*model.Cart, error) {
	var course model.Course
	if err := s.db.WithContext(ctx).First(&course, courseID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("course not found")
		}
		return nil, apperr.Unexpected("failed to load course", err)
	}
	if !course.IsPublished {
		return nil, apperr.NotFound("course not found")
	}

	// An already-owned course has nothing to buy.
	var enrolled int64
	err := s.db.WithContext(ctx).Model(&model.CourseEnrollment{}).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, model.EnrollmentStatusActive).
		Count(&enrolled).Error
	if err != nil {
		return nil, apperr.Unexpected("failed to check enrollment", err)
	}
	if enrolled > 0 {
		return nil, apperr.Conflict("you are already enrolled in this course")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := s.findOrCreateCart(tx, userID)
		if err != nil {
			return err
		}

		var item model.CartItem
		err = tx.Where("cart_id = ? AND course_id = ?", cart.ID, courseID).First(&item).Error
		switch {
		case err == nil:
			// Refresh the snapshot in place.
			item.UnitPrice = course.Price
			item.Title = course.Title
			item.Thumbnail = course.Thumbnail
			item.InstructorName = course.InstructorName
			if err := tx.Save(&item).Error; err != nil {
				return apperr.Unexpected("failed to update cart item", err)
			}
		case err == gorm.ErrRecordNotFound:
			item = model.CartItem{
				CartID:         cart.ID,
				CourseID:       course.ID,
				UnitPrice:      course.Price,
				Title:          course.Title,
				Thumbnail:      course.Thumbnail,
				InstructorName: course.InstructorName,
			}
			if err := tx.Create(&item).Error; err != nil {
				return apperr.Unexpected("failed to add cart item", err)
			}
		default:
			return apperr.Unexpected("failed to load cart item", err)
		}

		// Any mutation keeps the cart alive for another window.
		cart.ExpiresAt = time.Now().Add(model.DefaultCartLifetime)
		if err := tx.Save(cart).Error; err != nil {
			return apperr.Unexpected("failed to refresh cart expiry", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetByUser(ctx, userID)
}

// RemoveCourse takes a course out of the user's cart
func (s *CartService) RemoveCourse(ctx context.Context, userID, courseID uint) (*model.Cart, error) {
	var cart model.Cart
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&cart).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("cart is empty")
		}
		return nil, apperr.Unexpected("failed to load cart", err)
	}

	result := s.db.WithContext(ctx).
		Where("cart_id = ? AND course_id = ?", cart.ID, courseID).
		Delete(&model.CartItem{})
	if result.Error != nil {
		return nil, apperr.Unexpected("failed to remove cart item", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperr.NotFound("course is not in the cart")
	}

	return s.GetByUser(ctx, userID)
}

// Clear empties the user's cart. Clearing an absent or already-empty
// cart succeeds; there is nothing to conflict with.
func (s *CartService) Clear(ctx context.Context, userID uint) error {
	var cart model.Cart
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&cart).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return apperr.Unexpected("failed to load cart", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cart_id = ?", cart.ID).Delete(&model.CartItem{}).Error; err != nil {
			return apperr.Unexpected("failed to clear cart items", err)
		}
		if err := tx.Delete(&cart).Error; err != nil {
			return apperr.Unexpected("failed to delete cart", err)
		}
		return nil
	})
}

// GetByUser returns the user's cart with items. A user without a
// persisted cart gets an empty one back; no row is created for reads.
func (s *CartService) GetByUser(ctx context.Context, userID uint) (*model.Cart, error) {
	var cart model.Cart
	err := s.db.WithContext(ctx).Preload("Items").Where("user_id = ?", userID).First(&cart).Error
	if err == gorm.ErrRecordNotFound {
		return &model.Cart{
			UserID: userID,
			Items:  []model.CartItem{},
		}, nil
	}
	if err != nil {
		return nil, apperr.Unexpected("failed to load cart", err)
	}
	return &cart, nil
}

// PurgeExpired removes carts whose expiry passed; called by the
// scheduled sweep.
func (s *CartService) PurgeExpired(now time.Time) (int64, error) {
	var expired []model.Cart
	if err := s.db.Where("expires_at < ?", now).Find(&expired).Error; err != nil {
		return 0, err
	}

	var purged int64
	for _, cart := range expired {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("cart_id = ?", cart.ID).Delete(&model.CartItem{}).Error; err != nil {
				return err
			}
			return tx.Delete(&cart).Error
		})
		if err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (s *CartService) findOrCreateCart(tx *gorm.DB, userID uint) (*model.Cart, error) {
	var cart model.Cart
	err := tx.Where("user_id = ?", userID).First(&cart).Error
	if err == nil {
		return &cart, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, apperr.Unexpected("failed to load cart", err)
	}

	cart = model.Cart{
		UserID:    userID,
		ExpiresAt: time.Now().Add(model.DefaultCartLifetime),
	}
	if err := tx.Create(&cart).Error; err != nil {
		return nil, apperr.Unexpected("failed to create cart", err)
	}
	return &cart, nil
}
