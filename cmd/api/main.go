package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/agent"
	"github.com/shopsight/backend/internal/api/handlers"
	"github.com/shopsight/backend/internal/cache/redis"
	"github.com/shopsight/backend/internal/formatter"
	"github.com/shopsight/backend/internal/insight"
	"github.com/shopsight/backend/internal/intent"
	"github.com/shopsight/backend/internal/llm"
	"github.com/shopsight/backend/internal/metrics"
	"github.com/shopsight/backend/internal/middleware/ratelimit"
	"github.com/shopsight/backend/internal/middleware/security"
	"github.com/shopsight/backend/internal/middleware/validation"
	"github.com/shopsight/backend/internal/shopify"
	"github.com/shopsight/backend/internal/shopifyql"
	"github.com/shopsight/backend/internal/storage/sqlite"
	"github.com/shopsight/backend/pkg/config"
	"github.com/shopsight/backend/pkg/crypto"
	appLogger "github.com/shopsight/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ShopSight API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// The answer cache is optional: a dead Redis downgrades startup to
	// uncached operation instead of blocking it.
	var cacheClient *redis.Client
	if cfg.Cache.Enabled {
		cacheClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, answer cache disabled", zap.Error(err))
			cacheClient = nil
		} else {
			defer cacheClient.Close()
		}
	}

	sealer, err := crypto.NewTokenSealer(cfg.Security.SecretKey)
	if err != nil {
		appLogger.Fatal("Failed to create token sealer", zap.Error(err))
	}

	log := appLogger.GetLogger()
	llmClient := llm.NewClient(cfg.LLM, "", log)

	// One agent per request, bound to the requesting store's credentials.
	// The LLM gateway is shared so its circuit breaker sees all traffic.
	newAgent := func(shopDomain, accessToken string) *agent.Agent {
		return agent.New(
			intent.NewClassifier(llmClient, log),
			shopifyql.NewGenerator(llmClient, log),
			shopify.NewClient(shopDomain, accessToken, cfg.Shopify, log),
			insight.NewSynthesizer(llmClient, log),
			formatter.NewFormatter(llmClient, log),
			log,
		)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Store-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		Embedded: cfg.Security.Embedded,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               log,
	})
	defer limiter.Stop()

	cacheTTL := time.Duration(cfg.Cache.TTLMinutes) * time.Minute
	questionHandler := handlers.NewQuestionHandler(sqliteClient, cacheClient, sealer, newAgent, cacheTTL)
	authHandler := handlers.NewAuthHandler(sqliteClient, sealer, cfg.Shopify)
	wsHandler := handlers.NewWebSocketHandler(sqliteClient, sealer, newAgent)

	api := app.Group("/api/v1")

	api.Post("/questions", limiter.Middleware(), validation.Middleware(validation.Config{Logger: log}), questionHandler.HandleQuestion)
	api.Get("/questions/history", questionHandler.HandleHistory)

	api.Get("/auth/shopify", authHandler.HandleInstall)
	api.Get("/auth/shopify/callback", authHandler.HandleCallback)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/questions", websocket.New(wsHandler.HandleConnection))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		if err := sqliteClient.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
			})
		}
		if cacheClient != nil {
			if err := cacheClient.Ping(c.Context()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "unavailable",
				})
			}
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
