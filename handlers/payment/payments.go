package payment

import (
	"github.com/gofiber/fiber/v2"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/services"
	"github.com/learnsphere/course-market-api/utils/middleware"
	"github.com/learnsphere/course-market-api/utils/response"
	"github.com/learnsphere/course-market-api/utils/validation"
)

// PaymentHandler handles payment attempt requests
type PaymentHandler struct {
	payments  *services.PaymentService
	validator *validation.Validator
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		validator: validation.NewValidator(),
	}
}

// CreateAttemptRequest represents the request body for opening an attempt
type CreateAttemptRequest struct {
	OrderID uint    `json:"order_id" validate:"required,min=1"`
	Method  string  `json:"method" validate:"required,oneof=online wallet manual cash"`
	Amount  float64 `json:"amount" validate:"omitempty,gt=0"`
}

// ConfirmGatewayRequest represents the gateway callback payload
type ConfirmGatewayRequest struct {
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
}

// CreateAttempt handles POST /api/v1/payments
func (h *PaymentHandler) CreateAttempt(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req CreateAttemptRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	attempt, err := h.payments.CreateAttempt(c.Context(), userID, req.OrderID, model.PaymentMethod(req.Method), req.Amount)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Created(c, attempt)
}

// UploadReceipt handles POST /api/v1/payments/:id/receipt
func (h *PaymentHandler) UploadReceipt(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	attemptID, err := c.ParamsInt("id")
	if err != nil || attemptID < 1 {
		return response.BadRequest(c, "Invalid payment attempt id")
	}

	file, err := c.FormFile("receipt")
	if err != nil {
		return response.BadRequest(c, "A receipt file is required")
	}

	attempt, err := h.payments.UploadReceipt(c.Context(), userID, uint(attemptID), file)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.SuccessWithMessage(c, "Receipt uploaded; your payment is awaiting review", attempt)
}

// ConfirmGateway handles POST /api/v1/payments/:id/confirm
func (h *PaymentHandler) ConfirmGateway(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	attemptID, err := c.ParamsInt("id")
	if err != nil || attemptID < 1 {
		return response.BadRequest(c, "Invalid payment attempt id")
	}

	var req ConfirmGatewayRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	attempt, settlement, err := h.payments.ConfirmGatewayPayment(c.Context(), userID, uint(attemptID), req.GatewayPaymentID, req.Signature)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.SuccessWithMessage(c, "Payment confirmed", fiber.Map{
		"attempt":    attempt,
		"settlement": settlement,
	})
}

// GetAttempt handles GET /api/v1/payments/:id
func (h *PaymentHandler) GetAttempt(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "User not authenticated")
	}

	attemptID, err := c.ParamsInt("id")
	if err != nil || attemptID < 1 {
		return response.BadRequest(c, "Invalid payment attempt id")
	}

	attempt, err := h.payments.GetByID(c.Context(), user.ID, user.Role == "admin", uint(attemptID))
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Success(c, attempt)
}
