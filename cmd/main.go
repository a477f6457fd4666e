package main

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"net/http"
	"os"
	"os/signal"
	"storefront-service/internal/api"
	"storefront-service/internal/cache"
	"storefront-service/internal/carrier"
	"storefront-service/internal/config"
	"storefront-service/internal/consumer"
	"storefront-service/internal/gateway"
	"storefront-service/internal/repository"
	"storefront-service/internal/service"
	"storefront-service/migrations"
	"syscall"
	"time"
)

func connectDB(dsn string) (*sql.DB, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	mc.ParseTime = true
	// compare-and-set updates count matched rows, not changed ones
	mc.ClientFoundRows = true

	var db *sql.DB
	for i := 0; i < 10; i++ {
		db, err = sql.Open("mysql", mc.FormatDSN())
		if err == nil {
			err = db.Ping()
			if err == nil {
				log.Info().Msgf("✅ Connected to DB %s", mc.DBName)
				return db, nil
			}
		}
		log.Warn().Msgf("❌ Retry %d: Failed to connect to DB %s (%s): %v", i+1, mc.DBName, mc.Addr, err)
		time.Sleep(3 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to DB %s at %s after retries: %v", mc.DBName, mc.Addr, err)
}

func main() {
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	db, err := connectDB(cfg.MySQL.DSN)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if err := migrations.AutoMigrate(cfg.MySQL.MigrateRetries, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate tables")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	kafkaWriter := config.NewKafkaWriter(cfg.Kafka)
	defer kafkaWriter.Close()

	if cfg.Razorpay.WebhookSecret == "" {
		log.Warn().Msg("razorpay.webhook_secret is empty: webhooks will be accepted without signature verification")
	}

	orderRepo := repository.NewOrderRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	storeRepo := repository.NewStoreRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	redisStore := cache.NewStore(rdb)

	razorpay := gateway.NewClient(gateway.Config{
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret,
		BaseURL:   cfg.Razorpay.BaseURL,
		Timeout:   cfg.Razorpay.Timeout,
	})
	shiprocket := carrier.NewClient(carrier.Config{
		Email:    cfg.Shiprocket.Email,
		Password: cfg.Shiprocket.Password,
		BaseURL:  cfg.Shiprocket.BaseURL,
	}, redisStore)

	storeService := service.NewStoreService(storeRepo, inventoryRepo, service.WhatsAppConfig{
		Number: cfg.WhatsApp.Number,
		Brand:  cfg.WhatsApp.Brand,
	})
	referralService := service.NewReferralService(referralRepo, storeService, cfg.App.OrderPrefix)
	orderService := service.NewOrderService(orderRepo, inventoryRepo, storeService, razorpay, referralService,
		kafkaWriter, redisStore, storeService, service.OrderOptions{
			OrderPrefix:   cfg.App.OrderPrefix,
			Currency:      cfg.App.Currency,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
		})
	shipmentService := service.NewShipmentService(shiprocket, orderService, redisStore, cfg.Shiprocket.PickupPincode)
	adminService := service.NewAdminService(cfg.Admin.PasswordHash, cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go orderService.RunAbandonedSweeper(ctx, cfg.Sweeper.Interval)

	shipmentConsumer := consumer.NewConsumer(config.NewKafkaReader(cfg.Kafka), shipmentService, cfg.Shiprocket.AutoCreate)
	go shipmentConsumer.StartKafkaConsumer(ctx)

	e := echo.New()
	e.HideBanner = true

	limiterConfig := middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			// the gateway retries on 429, so webhooks are never throttled
			return c.Path() == "/api/webhooks/razorpay"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit.RPS),
				Burst:     cfg.RateLimit.Burst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(context echo.Context) (string, error) {
			return context.RealIP(), nil
		},
		ErrorHandler: func(context echo.Context, err error) error {
			return context.JSON(429, map[string]string{"error": "rate limit exceeded"})
		},
		DenyHandler: func(context echo.Context, identifier string, err error) error {
			return context.JSON(429, map[string]string{"error": "rate limit exceeded"})
		},
	}

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RateLimiterWithConfig(limiterConfig))

	api.RegisterRoutes(e, api.Handlers{
		Orders: api.NewOrderHandler(orderService, storeService),
		Store:  api.NewStoreHandler(storeService, referralService, shipmentService),
		Admin:  api.NewAdminHandler(adminService, storeService, shipmentService),
	}, adminService.JWTSecret())

	e.GET("/api/health", func(c echo.Context) error {
		return c.JSON(200, map[string]interface{}{
			"status":  "ok",
			"service": cfg.App.Name,
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	}
}
