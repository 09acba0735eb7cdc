package app

import (
	"fmt"
	"log"
	"os"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/learnsphere/course-market-api/api"
	"github.com/learnsphere/course-market-api/config"
	"github.com/learnsphere/course-market-api/database"
	"github.com/learnsphere/course-market-api/router"
	"github.com/learnsphere/course-market-api/services"
	"github.com/learnsphere/course-market-api/services/cron"
	"github.com/learnsphere/course-market-api/services/events"
	"github.com/learnsphere/course-market-api/services/gateway"
	"github.com/learnsphere/course-market-api/services/storage"
	"github.com/learnsphere/course-market-api/utils/cache"
)

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		print("Check whether the Postgres is running or not\n")
		print("If not running, run the following command:\n")
		print("  make docker-up   (for Docker setup)\n")
		print("  make db-up       (for local PostgreSQL)\n")
		return err
	}

	if err := store.Init(); err != nil {
		print("Failed to initialize database tables\n")
		print("Error running migrations:\n")
		return err
	}

	db := store.GetDB()

	// Redis cache for rate limiting and enrollment status lookups
	var redisCache *cache.RedisCache
	if getEnv.REDIS_URL != "" {
		redisCache, err = cache.NewRedisCache(getEnv.REDIS_URL)
		if err != nil {
			log.Printf("Warning: Failed to connect to Redis: %v. Rate limiting and status caching will be disabled.", err)
			redisCache = nil
		}
	}

	// Receipt blob store: S3-compatible bucket, or in-memory for local
	// development without credentials.
	var blobs storage.BlobStore
	if getEnv.STORAGE_ACCESS_KEY != "" && getEnv.STORAGE_SECRET_KEY != "" {
		blobs, err = storage.NewS3Store(storage.S3Config{
			AccessKey: getEnv.STORAGE_ACCESS_KEY,
			SecretKey: getEnv.STORAGE_SECRET_KEY,
			Bucket:    getEnv.STORAGE_BUCKET,
			Region:    getEnv.STORAGE_REGION,
			Endpoint:  getEnv.STORAGE_ENDPOINT,
			CDNURL:    getEnv.STORAGE_CDN_URL,
		})
		if err != nil {
			return err
		}
	} else {
		log.Println("Warning: Object storage credentials not configured. Using in-memory blob store.")
		blobs = storage.NewMemoryStore()
	}

	// Online payment gateway (nil when not configured)
	gatewayClient := gateway.NewClient(gateway.Config{
		KeyID:     getEnv.RAZORPAY_KEY_ID,
		KeySecret: getEnv.RAZORPAY_KEY_SECRET,
	})

	// Kafka publisher for outbox dispatch (nil when not configured)
	publisher := events.NewPublisher(events.Config{
		Brokers: getEnv.KAFKA_BROKERS,
		Topic:   getEnv.KAFKA_TOPIC,
	})

	// Build the service graph once; router and cron share it
	auditService := services.NewAuditService()
	idemService := services.NewIdempotencyService()
	cartService := services.NewCartService(db)
	orderService := services.NewOrderService(db, auditService)
	enrollmentService := services.NewEnrollmentService(db, redisCache)
	paymentService := services.NewPaymentService(db, blobs, gatewayClient, auditService, enrollmentService)
	mailerService := services.NewMailerService(getEnv)
	invoiceService := services.NewInvoiceService(blobs)
	reviewService := services.NewReviewService(db, auditService, idemService, enrollmentService, mailerService, invoiceService)
	reportService := services.NewReportService(db)
	outboxDispatcher := services.NewOutboxDispatcher(db, publisher)

	// Initialize Cron Manager (only if enabled via environment variable)
	var cronManager *cron.CronManager
	if os.Getenv("CRON_ENABLED") != "false" { // Default to enabled
		cronManager = cron.NewCronManager(db, cartService, paymentService, enrollmentService, idemService, outboxDispatcher)
		if err := cronManager.Start(); err != nil {
			print("Warning: Failed to start cron jobs\n")
			print("Error: ", err.Error(), "\n")
			// Don't fail the app, just log the warning
		}
	}

	// Defer Closing DB, publisher and cron jobs
	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
		if publisher != nil {
			publisher.Close()
		}
		if redisCache != nil {
			redisCache.Close()
		}
		store.Close()
	}()

	// Init API
	var server *api.APIServer = api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT))
	app := server.GetEngine()

	// Attach Middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Setup Routes
	router.SetupRoutes(app, store, &router.Dependencies{
		Env:         getEnv,
		Cache:       redisCache,
		Carts:       cartService,
		Orders:      orderService,
		Payments:    paymentService,
		Enrollments: enrollmentService,
		Reviews:     reviewService,
		Audit:       auditService,
		Reports:     reportService,
	})

	// Get the PORT & Start the Server
	return server.Run()

}
