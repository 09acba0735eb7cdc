package enrollment

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/learnsphere/course-market-api/services"
	"github.com/learnsphere/course-market-api/utils/middleware"
	"github.com/learnsphere/course-market-api/utils/response"
	"github.com/learnsphere/course-market-api/utils/validation"
)

// EnrollmentHandler handles enrollment and installment requests
type EnrollmentHandler struct {
	enrollments *services.EnrollmentService
	validator   *validation.Validator
}

// NewEnrollmentHandler creates a new enrollment handler
func NewEnrollmentHandler(enrollments *services.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{
		enrollments: enrollments,
		validator:   validation.NewValidator(),
	}
}

// EnrollFreeRequest represents the request body for a free enrollment
type EnrollFreeRequest struct {
	CourseID uint `json:"course_id" validate:"required,min=1"`
}

// CreateInstallmentPlanRequest represents the request body for a plan
type CreateInstallmentPlanRequest struct {
	Count        int    `json:"count" validate:"required,min=2,max=12"`
	FirstDueDate string `json:"first_due_date" validate:"required"`
	IntervalDays int    `json:"interval_days" validate:"required,min=7,max=90"`
}

// CancelEnrollmentRequest represents the request body for cancellation
type CancelEnrollmentRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// ListEnrollments handles GET /api/v1/enrollments
func (h *EnrollmentHandler) ListEnrollments(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	enrollments, err := h.enrollments.ListByUser(c.Context(), userID)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Success(c, enrollments)
}

// GetEnrollment handles GET /api/v1/enrollments/:id
func (h *EnrollmentHandler) GetEnrollment(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "User not authenticated")
	}

	enrollmentID, err := c.ParamsInt("id")
	if err != nil || enrollmentID < 1 {
		return response.BadRequest(c, "Invalid enrollment id")
	}

	enrollment, err := h.enrollments.GetByID(c.Context(), user.ID, user.Role == "admin", uint(enrollmentID))
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Success(c, enrollment)
}

// GetStatus handles GET /api/v1/enrollments/status/:courseId
func (h *EnrollmentHandler) GetStatus(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	courseID, err := c.ParamsInt("courseId")
	if err != nil || courseID < 1 {
		return response.BadRequest(c, "Invalid course id")
	}

	status, err := h.enrollments.GetStatus(c.Context(), userID, uint(courseID))
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Success(c, status)
}

// EnrollFree handles POST /api/v1/enrollments/free
func (h *EnrollmentHandler) EnrollFree(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req EnrollFreeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	enrollment, err := h.enrollments.EnrollFree(c.Context(), userID, req.CourseID)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Created(c, enrollment)
}

// CreateInstallmentPlan handles POST /api/v1/enrollments/:id/installments
func (h *EnrollmentHandler) CreateInstallmentPlan(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "User not authenticated")
	}

	enrollmentID, err := c.ParamsInt("id")
	if err != nil || enrollmentID < 1 {
		return response.BadRequest(c, "Invalid enrollment id")
	}

	var req CreateInstallmentPlanRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	firstDue, err := time.Parse("2006-01-02", req.FirstDueDate)
	if err != nil {
		return response.BadRequest(c, "first_due_date must be YYYY-MM-DD")
	}

	// The caller must own the enrollment; GetByID enforces that.
	if _, err := h.enrollments.GetByID(c.Context(), user.ID, user.Role == "admin", uint(enrollmentID)); err != nil {
		return response.FromAppError(c, err)
	}

	interval := time.Duration(req.IntervalDays) * 24 * time.Hour
	enrollment, err := h.enrollments.CreateInstallmentPlan(c.Context(), uint(enrollmentID), req.Count, firstDue, interval)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.Created(c, enrollment)
}

// CompleteEnrollment handles POST /api/v1/enrollments/:id/complete
func (h *EnrollmentHandler) CompleteEnrollment(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "User not authenticated")
	}

	enrollmentID, err := c.ParamsInt("id")
	if err != nil || enrollmentID < 1 {
		return response.BadRequest(c, "Invalid enrollment id")
	}

	if _, err := h.enrollments.GetByID(c.Context(), user.ID, user.Role == "admin", uint(enrollmentID)); err != nil {
		return response.FromAppError(c, err)
	}

	enrollment, err := h.enrollments.CompleteEnrollment(c.Context(), uint(enrollmentID))
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.SuccessWithMessage(c, "Enrollment completed", enrollment)
}

// CancelEnrollment handles POST /api/v1/enrollments/:id/cancel
func (h *EnrollmentHandler) CancelEnrollment(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "User not authenticated")
	}

	enrollmentID, err := c.ParamsInt("id")
	if err != nil || enrollmentID < 1 {
		return response.BadRequest(c, "Invalid enrollment id")
	}

	var req CancelEnrollmentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}
	req.Reason = validation.SanitizeString(req.Reason)

	if _, err := h.enrollments.GetByID(c.Context(), user.ID, user.Role == "admin", uint(enrollmentID)); err != nil {
		return response.FromAppError(c, err)
	}

	enrollment, err := h.enrollments.CancelEnrollment(c.Context(), uint(enrollmentID), req.Reason)
	if err != nil {
		return response.FromAppError(c, err)
	}

	return response.SuccessWithMessage(c, "Enrollment cancelled", enrollment)
}
