package admin

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/learnsphere/course-market-api/services"
	"github.com/learnsphere/course-market-api/utils/middleware"
	"github.com/learnsphere/course-market-api/utils/response"
	"github.com/learnsphere/course-market-api/utils/validation"
)

// ReviewHandler handles the admin payment review endpoints
type ReviewHandler struct {
	db        *gorm.DB
	payments  *services.PaymentService
	reviews   *services.ReviewService
	audit     *services.AuditService
	reports   *services.ReportService
	validator *validation.Validator
}

// NewReviewHandler creates a new review handler
func NewReviewHandler(db *gorm.DB, payments *services.PaymentService, reviews *services.ReviewService, audit *services.AuditService, reports *services.ReportService) *ReviewHandler {
	return &ReviewHandler{
		db:        db,
		payments:  payments,
		reviews:   reviews,
		audit:     audit,
		reports:   reports,
		validator: validation.NewValidator(),
	}
}

// ReviewRequest represents the request body for a payment decision
type ReviewRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason" validate:"omitempty,max=500"`
}

// RefundRequest represents the request body for a refund
type RefundRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// ListPending handles GET /api/v1/admin/payments/pending
func (h *ReviewHandler) ListPending(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	attempts, total, err := h.payments.ListPendingReview(c.Context(), page, limit)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Paginated(c, attempts, response.CalculatePagination(page, limit, total))
}

// Review handles POST /api/v1/admin/payments/:id/review
//
// The client may pass an X-Idempotency-Key header; without one the
// decision is still idempotent per admin and direction.
func (h *ReviewHandler) Review(c *fiber.Ctx) error {
	admin, ok := middleware.GetUser(c)
	if !ok || admin == nil {
		return response.Unauthorized(c, "User not authenticated")
	}

	attemptID, err := c.ParamsInt("id")
	if err != nil || attemptID < 1 {
		return response.BadRequest(c, "Invalid payment attempt id")
	}

	var req ReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}
	req.Reason = validation.SanitizeString(req.Reason)

	idemKey := c.Get("X-Idempotency-Key")

	result, err := h.reviews.Review(c.Context(), admin.ID, uint(attemptID), req.Approve, req.Reason, idemKey)
	if err != nil {
		return response.FromAppError(c, err)
	}

	message := "Payment rejected"
	if req.Approve {
		message = "Payment approved"
	}
	if result.Replayed {
		message += " (replayed earlier decision)"
	}
	return response.SuccessWithMessage(c, message, result)
}

// Refund handles POST /api/v1/admin/payments/:id/refund
func (h *ReviewHandler) Refund(c *fiber.Ctx) error {
	admin, ok := middleware.GetUser(c)
	if !ok || admin == nil {
		return response.Unauthorized(c, "User not authenticated")
	}

	attemptID, err := c.ParamsInt("id")
	if err != nil || attemptID < 1 {
		return response.BadRequest(c, "Invalid payment attempt id")
	}

	var req RefundRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}
	req.Reason = validation.SanitizeString(req.Reason)

	attempt, err := h.reviews.Refund(c.Context(), admin.ID, uint(attemptID), req.Reason)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.SuccessWithMessage(c, "Payment refunded", attempt)
}

// AuditTrail handles GET /api/v1/admin/payments/:id/audit
func (h *ReviewHandler) AuditTrail(c *fiber.Ctx) error {
	attemptID, err := c.ParamsInt("id")
	if err != nil || attemptID < 1 {
		return response.BadRequest(c, "Invalid payment attempt id")
	}

	trail, err := h.audit.ListForAttempt(h.db, uint(attemptID))
	if err != nil {
		return response.InternalServerError(c, "Failed to load audit trail")
	}

	return response.Success(c, trail)
}

// PaymentsReport handles GET /api/v1/admin/reports/payments
// Query parameters from and to are YYYY-MM-DD; to defaults to today and
// from to thirty days before it.
func (h *ReviewHandler) PaymentsReport(c *fiber.Ctx) error {
	to := time.Now().Truncate(24 * time.Hour).Add(24 * time.Hour)
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return response.BadRequest(c, "to must be YYYY-MM-DD")
		}
		to = parsed.Add(24 * time.Hour)
	}

	from := to.Add(-31 * 24 * time.Hour)
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return response.BadRequest(c, "from must be YYYY-MM-DD")
		}
		from = parsed
	}

	workbook, err := h.reports.PaymentsReport(c.Context(), from, to)
	if err != nil {
		return response.FromAppError(c, err)
	}

	filename := fmt.Sprintf("payments-%s-%s.xlsx", from.Format("20060102"), to.Format("20060102"))
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	return c.Send(workbook)
}
