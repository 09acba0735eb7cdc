package router

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/learnsphere/course-market-api/config"
	"github.com/learnsphere/course-market-api/database"
	"github.com/learnsphere/course-market-api/handlers"
	admin_handlers "github.com/learnsphere/course-market-api/handlers/admin"
	cart_handlers "github.com/learnsphere/course-market-api/handlers/cart"
	course_handlers "github.com/learnsphere/course-market-api/handlers/course"
	enrollment_handlers "github.com/learnsphere/course-market-api/handlers/enrollment"
	order_handlers "github.com/learnsphere/course-market-api/handlers/order"
	payment_handlers "github.com/learnsphere/course-market-api/handlers/payment"
	"github.com/learnsphere/course-market-api/services"
	"github.com/learnsphere/course-market-api/utils/auth"
	"github.com/learnsphere/course-market-api/utils/cache"
	"github.com/learnsphere/course-market-api/utils/middleware"
)

// Dependencies carries the shared services constructed at startup
type Dependencies struct {
	Env         *config.EnviornmentVariable
	Cache       *cache.RedisCache
	Carts       *services.CartService
	Orders      *services.OrderService
	Payments    *services.PaymentService
	Enrollments *services.EnrollmentService
	Reviews     *services.ReviewService
	Audit       *services.AuditService
	Reports     *services.ReportService
}

func SetupRoutes(app *fiber.App, store database.Storage, deps *Dependencies) {
	jwtSecret := deps.Env.JWT_SECRET
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}

	jwtIssuer := deps.Env.JWT_ISSUER
	if jwtIssuer == "" {
		jwtIssuer = "course-market-api"
	}

	// Initialize JWT manager with config
	jwtConfig := auth.JWTConfig{
		Secret: jwtSecret,
		Expiry: 24 * time.Hour, // Access token expires in 24 hours
		Issuer: jwtIssuer,
	}
	jwtManager := auth.NewJWTManager(jwtConfig)

	db := store.GetDB()

	// Initialize auth middleware
	authMiddleware := middleware.NewAuthMiddleware(jwtManager, db)

	// Rate limiters for the sensitive payment operations
	uploadLimiter := middleware.NewRateLimiter(deps.Cache, "receipt_upload", 10, 10*time.Minute)
	attemptLimiter := middleware.NewRateLimiter(deps.Cache, "payment_attempt", 20, time.Hour)

	// Initialize handlers
	courseHandler := course_handlers.NewCourseHandler(db)
	cartHandler := cart_handlers.NewCartHandler(deps.Carts)
	orderHandler := order_handlers.NewOrderHandler(deps.Orders)
	paymentHandler := payment_handlers.NewPaymentHandler(deps.Payments)
	enrollmentHandler := enrollment_handlers.NewEnrollmentHandler(deps.Enrollments)
	reviewHandler := admin_handlers.NewReviewHandler(db, deps.Payments, deps.Reviews, deps.Audit, deps.Reports)

	// Health check endpoint (public)
	app.Get("/ping", func(c *fiber.Ctx) error { return handlers.HandleCheckHealth(c, store) })

	// API v1 group
	api := app.Group("/api/v1")

	// Course catalog (public)
	courses := api.Group("/courses")
	courses.Get("/", courseHandler.ListCourses)
	courses.Get("/:slug", courseHandler.GetCourse)

	// Cart routes (protected)
	cart := api.Group("/cart", authMiddleware.Required())
	cart.Get("/", cartHandler.GetCart)
	cart.Post("/items", cartHandler.AddItem)
	cart.Delete("/items/:courseId", cartHandler.RemoveItem)
	cart.Delete("/", cartHandler.ClearCart)

	// Order routes (protected)
	orders := api.Group("/orders", authMiddleware.Required())
	orders.Post("/checkout", orderHandler.Checkout)
	orders.Get("/", orderHandler.ListOrders)
	orders.Get("/:id", orderHandler.GetOrder)
	orders.Post("/:id/cancel", orderHandler.CancelOrder)

	// Payment routes (protected)
	payments := api.Group("/payments", authMiddleware.Required())
	payments.Post("/", attemptLimiter.Limit(), paymentHandler.CreateAttempt)
	payments.Get("/:id", paymentHandler.GetAttempt)
	payments.Post("/:id/receipt", uploadLimiter.Limit(), paymentHandler.UploadReceipt)
	payments.Post("/:id/confirm", paymentHandler.ConfirmGateway)

	// Enrollment routes (protected)
	enrollments := api.Group("/enrollments", authMiddleware.Required())
	enrollments.Get("/", enrollmentHandler.ListEnrollments)
	enrollments.Get("/status/:courseId", enrollmentHandler.GetStatus)
	enrollments.Post("/free", enrollmentHandler.EnrollFree)
	enrollments.Get("/:id", enrollmentHandler.GetEnrollment)
	enrollments.Post("/:id/installments", enrollmentHandler.CreateInstallmentPlan)
	enrollments.Post("/:id/complete", enrollmentHandler.CompleteEnrollment)
	enrollments.Post("/:id/cancel", enrollmentHandler.CancelEnrollment)

	// Admin routes
	admin := api.Group("/admin", authMiddleware.Required(), middleware.RequireAdmin())
	admin.Get("/payments/pending", reviewHandler.ListPending)
	admin.Post("/payments/:id/review", reviewHandler.Review)
	admin.Post("/payments/:id/refund", reviewHandler.Refund)
	admin.Get("/payments/:id/audit", reviewHandler.AuditTrail)
	admin.Get("/reports/payments", reviewHandler.PaymentsReport)
}
