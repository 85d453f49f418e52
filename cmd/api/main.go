package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/template-storefront/internal/audit"
	"github.com/flicky/template-storefront/internal/broadcast"
	"github.com/flicky/template-storefront/internal/config"
	"github.com/flicky/template-storefront/internal/handler"
	"github.com/flicky/template-storefront/internal/idempotency"
	"github.com/flicky/template-storefront/internal/middleware"
	"github.com/flicky/template-storefront/internal/paymob"
	"github.com/flicky/template-storefront/internal/ratelimit"
	"github.com/flicky/template-storefront/internal/repository"
	"github.com/flicky/template-storefront/internal/service"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
	if err != nil {
		log.Error("parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = cfg.DB.MaxConns

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		log.Error("ping database", "error", err)
		os.Exit(1)
	}
	log.Info("connected to PostgreSQL")

	if cfg.DB.AutoMigrate {
		if err := repository.Migrate(ctx, dbPool, "up"); err != nil {
			log.Error("migrate database", "error", err)
			os.Exit(1)
		}
	}

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis")

	// RabbitMQ
	amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		log.Error("connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()

	amqpCh, err := amqpConn.Channel()
	if err != nil {
		log.Error("open RabbitMQ channel", "error", err)
		os.Exit(1)
	}
	defer amqpCh.Close()

	publisher := broadcast.NewPublisher(amqpCh, cfg.RabbitMQ.Exchange)
	if err := publisher.Setup(); err != nil {
		log.Error("setup RabbitMQ", "error", err)
		os.Exit(1)
	}
	log.Info("connected to RabbitMQ", "exchange", cfg.RabbitMQ.Exchange)

	verifier := paymob.NewVerifier(cfg.Paymob.HMACSecret)
	if !verifier.Configured() {
		log.Warn("PAYMOB_HMAC_SECRET is not set, paymob webhooks will be rejected")
	}

	// Repositories
	txManager := repository.NewTxManager(dbPool, cfg.DB.TxRetries)
	userRepo := repository.NewUserRepository(dbPool)
	productRepo := repository.NewProductRepository(dbPool)
	orderRepo := repository.NewOrderRepository(dbPool)
	templateRepo := repository.NewTemplateRepository(dbPool)
	purchaseRepo := repository.NewPurchaseRepository(dbPool)

	auditLog := audit.NewLogger(log)

	// Services
	authSvc := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	orderSvc := service.NewOrderService(txManager, productRepo, orderRepo, userRepo, publisher, auditLog, log)
	paymentSvc := service.NewPaymentService(
		txManager,
		purchaseRepo,
		templateRepo,
		userRepo,
		verifier,
		idempotency.NewStore(redisClient, cfg.Paymob.IdempotencyTTL),
		cfg.Paymob.VerifyCallback,
		auditLog,
		log,
	)

	// Handlers
	authH := handler.NewAuthHandler(authSvc, log)
	orderH := handler.NewOrderHandler(orderSvc, log)
	paymentH := handler.NewPaymentHandler(paymentSvc, cfg.Web.BaseURL, cfg.Web.DefaultLocale, log)
	templateH := handler.NewTemplateHandler(paymentSvc, log)
	healthH := handler.NewHealthHandler(
		handler.Dependency{Name: "postgres", Ping: dbPool.Ping},
		handler.Dependency{Name: "redis", Ping: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}},
		handler.Dependency{Name: "rabbitmq", Ping: func(context.Context) error {
			if amqpConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}},
	)

	orderLimiter := ratelimit.NewRedisLimiter(redisClient, "ratelimit", cfg.RateLimit.OrderRequests, cfg.RateLimit.OrderWindow)
	requireAuth := middleware.AuthMiddleware(cfg.JWT.Secret)

	// Router
	router := gin.Default()
	router.GET("/healthz", healthH.Healthz)
	router.GET("/readyz", healthH.Readyz)

	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		auth.POST("/register", authH.Register)
		auth.POST("/login", authH.Login)

		api.POST("/orders",
			middleware.OptionalAuth(cfg.JWT.Secret),
			middleware.RateLimit(orderLimiter, "orders", log),
			orderH.CreateOrder,
		)
		api.GET("/orders/:id", requireAuth, orderH.GetOrder)

		admin := api.Group("/admin", requireAuth, middleware.AdminOnly())
		admin.PATCH("/orders/:id/state", orderH.UpdateState)
		admin.PATCH("/orders/:id/payment-status", orderH.UpdatePaymentStatus)

		pm := api.Group("/paymob")
		pm.POST("/webhook", paymentH.Webhook)
		pm.GET("/callback", paymentH.Callback)

		templates := api.Group("/templates", requireAuth)
		templates.POST("/:id/purchases", templateH.StartPurchase)
		templates.GET("/purchased", templateH.ListPurchased)
		templates.POST("/purchases/:id/download", templateH.Download)
		templates.PATCH("/purchases/:id/paymob-order", templateH.AttachPaymobOrder)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	cancel()
	log.Info("server stopped")
}
