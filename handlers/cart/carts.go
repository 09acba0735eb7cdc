package cart

import (
	"github.com/gofiber/fiber/v2"

	"github.com/learnsphere/course-market-api/services"
	"github.com/learnsphere/course-market-api/utils/middleware"
	"github.com/learnsphere/course-market-api/utils/response"
	"github.com/learnsphere/course-market-api/utils/validation"
)

// CartHandler handles cart-related requests
type CartHandler struct {
	carts     *services.CartService
	validator *validation.Validator
}

// NewCartHandler creates a new cart handler
func NewCartHandler(carts *services.CartService) *CartHandler {
	return &CartHandler{
		carts:     carts,
		validator: validation.NewValidator(),
	}
}

// AddItemRequest represents the request body for adding a course
type AddItemRequest struct {
	CourseID uint `json:"course_id" validate:"required,min=1"`
}

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	cart, err := h.carts.GetByUser(c.Context(), userID)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Success(c, fiber.Map{
		"cart":         cart,
		"total_amount": cart.TotalAmount(),
	})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req AddItemRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	cart, err := h.carts.AddCourse(c.Context(), userID, req.CourseID)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.SuccessWithMessage(c, "Course added to cart", fiber.Map{
		"cart":         cart,
		"total_amount": cart.TotalAmount(),
	})
}

// RemoveItem handles DELETE /api/v1/cart/items/:courseId
func (h *CartHandler) RemoveItem(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	courseID, err := c.ParamsInt("courseId")
	if err != nil || courseID < 1 {
		return response.BadRequest(c, "Invalid course id")
	}

	cart, err := h.carts.RemoveCourse(c.Context(), userID, uint(courseID))
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.SuccessWithMessage(c, "Course removed from cart", fiber.Map{
		"cart":         cart,
		"total_amount": cart.TotalAmount(),
	})
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	if err := h.carts.Clear(c.Context(), userID); err != nil {
		return response.FromAppError(c, err)
	}

	return response.SuccessWithMessage(c, "Cart cleared", nil)
}
