package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"flowroom/internal/config"
	"flowroom/internal/database"
	"flowroom/internal/handlers"
	"flowroom/internal/jobs"
	"flowroom/internal/logging"
	"flowroom/internal/middleware"
	"flowroom/internal/presence"
	"flowroom/internal/realtime"
	"flowroom/internal/services"
	"flowroom/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting FlowRoom Presence Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, heartbeat: %v, offline: %v)",
		cfg.Port, cfg.Presence.HeartbeatInterval, cfg.Presence.OfflineThreshold)

	// Initialize MySQL database (optional - room membership rows)
	var db *database.DB
	var roomService *services.RoomMembershipService
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.Initialize(); err != nil {
			log.Fatalf("❌ Failed to initialize database: %v", err)
		}

		roomService = services.NewRoomMembershipService(db)
		log.Println("✅ Room membership service initialized")
	} else {
		log.Println("⚠️ DATABASE_URL not set - room membership cleanup disabled")
	}

	// Initialize MongoDB (optional - profiles and tasks)
	var mongoDB *database.MongoDB
	var taskService *services.TaskService
	var profileService *services.ProfileService
	if cfg.MongoURI != "" {
		log.Println("🔗 Connecting to MongoDB...")
		var err error
		mongoDB, err = database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Printf("⚠️ Failed to connect to MongoDB: %v (profiles and task pause disabled)", err)
		} else {
			defer mongoDB.Close(context.Background())
			log.Println("✅ MongoDB connected successfully")

			taskService = services.NewTaskService(mongoDB)
			profileService = services.NewProfileService(mongoDB)
			log.Println("✅ Task and profile services initialized")
		}
	} else {
		log.Println("⚠️ MONGODB_URI not set - profiles and task pause disabled")
	}

	// Initialize Redis and the realtime store. Without Redis the store is
	// in-memory: fine for a single instance or local development.
	var redisService *services.RedisService
	var store realtime.Store
	var redisStore *realtime.RedisStore
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		var err error
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer redisService.Close()

		redisStore = realtime.NewRedisStore(redisService.Client())
		if err := redisStore.Start(); err != nil {
			log.Fatalf("❌ Failed to start realtime store: %v", err)
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		log.Println("⚠️ REDIS_URL not set - using in-memory realtime store")
		store = realtime.NewMemoryStore()
	}

	// Initialize services
	connManager := services.NewConnectionManager()

	// Initialize Prometheus metrics
	metrics := services.InitMetrics(connManager)
	log.Println("✅ Prometheus metrics initialized")

	// Presence registrar. nil interfaces must stay nil, not typed nils.
	var tasks presence.TaskService
	if taskService != nil {
		tasks = taskService
	}
	var rooms presence.RoomService
	if roomService != nil {
		rooms = roomService
	}
	registrar := presence.NewRegistrar(store, tasks, rooms, metrics, presence.OptionsFromConfig(cfg.Presence))
	log.Println("✅ Presence registrar initialized")

	// JWT auth (nil disables auth in development)
	var jwtAuth *auth.JWTAuth
	if cfg.JWTSecret != "" {
		var err error
		jwtAuth, err = auth.NewJWTAuth(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("✅ JWT auth initialized")
	} else {
		log.Println("⚠️ JWT_SECRET not set - auth runs in development bypass mode")
	}

	// Background jobs
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}

	sweeper := jobs.NewStaleRoomSweeperJob(store, redisService, metrics,
		cfg.Presence.OfflineThreshold, cfg.Presence.StaleRoomThreshold, cfg.Presence.SweepPeriod)
	if err := jobScheduler.Register(sweeper); err != nil {
		log.Fatalf("❌ Failed to register sweeper job: %v", err)
	}
	jobScheduler.Start()

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:        "FlowRoom Presence v1.0",
		ReadTimeout:    120 * time.Second,
		WriteTimeout:   120 * time.Second,
		IdleTimeout:    120 * time.Second,
		ReadBufferSize: 16384, // 16KB for request headers (Brave/privacy browsers send extra headers)
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("flowroom")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// Load rate limiting configuration
	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Presence=%d/min, WS=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.PresenceReadMax,
		rateLimitConfig.WebSocketMax,
	)

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		// Default to localhost for development
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	allowCredentials := allowedOrigins != "*"

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
	}))

	// Global API rate limiter - first line of DDoS defense
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(connManager)

	var profiles handlers.ProfileLookup
	if profileService != nil {
		profiles = profileService
	}
	presenceHandler := handlers.NewPresenceHandler(registrar, profiles)
	wsHandler := handlers.NewPresenceWebSocketHandler(connManager, registrar)

	// Routes
	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")
	api.Get("/presence/:roomId",
		middleware.AuthMiddleware(jwtAuth),
		middleware.PresenceReadRateLimiter(rateLimitConfig),
		presenceHandler.GetRoomPresence,
	)

	// WebSocket route (requires auth)
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	wsConfig := websocket.Config{
		Origins: strings.Split(allowedOrigins, ","),
	}

	app.Use("/ws/presence", middleware.WebSocketRateLimiter(rateLimitConfig))
	app.Use("/ws/presence", middleware.AuthMiddleware(jwtAuth))
	app.Get("/ws/presence", websocket.New(wsHandler.Handle, wsConfig))

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Stop background jobs
		jobScheduler.Stop()

		// Shutdown Fiber; open sockets close, which runs each session's
		// disconnect cleanup through the handlers.
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
