package order

import (
	"github.com/gofiber/fiber/v2"

	"github.com/learnsphere/course-market-api/services"
	"github.com/learnsphere/course-market-api/utils/middleware"
	"github.com/learnsphere/course-market-api/utils/response"
	"github.com/learnsphere/course-market-api/utils/validation"
)

// OrderHandler handles order-related requests
type OrderHandler struct {
	orders    *services.OrderService
	validator *validation.Validator
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{
		orders:    orders,
		validator: validation.NewValidator(),
	}
}

// CancelOrderRequest represents the request body for cancelling an order
type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// Checkout handles POST /api/v1/orders/checkout
func (h *OrderHandler) Checkout(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	order, err := h.orders.Checkout(c.Context(), userID)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Created(c, order)
}

// ListOrders handles GET /api/v1/orders
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	orders, err := h.orders.ListByUser(c.Context(), userID)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Success(c, orders)
}

// GetOrder handles GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "User not authenticated")
	}

	orderID, err := c.ParamsInt("id")
	if err != nil || orderID < 1 {
		return response.BadRequest(c, "Invalid order id")
	}

	order, err := h.orders.GetByID(c.Context(), user.ID, user.Role == "admin", uint(orderID))
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Success(c, order)
}

// CancelOrder handles POST /api/v1/orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	orderID, err := c.ParamsInt("id")
	if err != nil || orderID < 1 {
		return response.BadRequest(c, "Invalid order id")
	}

	var req CancelOrderRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}
	req.Reason = validation.SanitizeString(req.Reason)

	order, err := h.orders.Cancel(c.Context(), userID, uint(orderID), req.Reason)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.SuccessWithMessage(c, "Order cancelled", order)
}
