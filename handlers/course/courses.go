package course

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/response"
)

// CourseHandler serves the public course catalog
type CourseHandler struct {
	db *gorm.DB
}

// NewCourseHandler creates a new course handler
func NewCourseHandler(db *gorm.DB) *CourseHandler {
	return &CourseHandler{db: db}
}

// ListCourses handles GET /api/v1/courses
func (h *CourseHandler) ListCourses(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	search := c.Query("search", "")

	query := h.db.Model(&model.Course{}).Where("is_published = ?", true)

	if search != "" {
		query = query.Where("title ILIKE ? OR instructor_name ILIKE ?",
			"%"+search+"%", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return response.InternalServerError(c, "Failed to count courses")
	}

	pagination := response.CalculatePagination(page, limit, total)

	var courses []model.Course
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&courses).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch courses")
	}

	return response.Paginated(c, courses, pagination)
}

// GetCourse handles GET /api/v1/courses/:slug
func (h *CourseHandler) GetCourse(c *fiber.Ctx) error {
	slug := c.Params("slug")

	var course model.Course
	if err := h.db.Where("slug = ? AND is_published = ?", slug, true).First(&course).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Course not found")
		}
		return response.InternalServerError(c, "Failed to fetch course")
	}

	return response.Success(c, course)
}
