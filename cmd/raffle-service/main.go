package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-raffle/internal/allocator"
	allocator_api "ms-raffle/internal/allocator/api"
	"ms-raffle/internal/auth"
	"ms-raffle/internal/config"
	"ms-raffle/internal/dashboard"
	dashboard_api "ms-raffle/internal/dashboard/api"
	"ms-raffle/internal/database/migrations"
	"ms-raffle/internal/invoice"
	invoice_api "ms-raffle/internal/invoice/api"
	"ms-raffle/internal/kafka"
	"ms-raffle/internal/ledger"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/payment"
	payment_api "ms-raffle/internal/payment/api"
	"ms-raffle/internal/purchasetoken"
	"ms-raffle/internal/receipt"
	rediswrap "ms-raffle/internal/redis"
	"ms-raffle/internal/referral"
	"ms-raffle/internal/tickets"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Addr))
	return client
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Raffle Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	defer runner.Close()

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	payment.Init(cfg.Stripe.SecretKey)

	redisStore := rediswrap.NewRedis(redisClient)

	var producer *kafka.Producer
	var allocEvents allocator.EventPublisher
	var invoiceEvents invoice.EventPublisher
	var referralEvents referral.EventPublisher
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics)
		allocEvents = producer
		invoiceEvents = producer
		referralEvents = producer
		defer producer.Close()
		log.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for brokers %v", cfg.Kafka.Brokers))
	} else {
		log.Warn("KAFKA", "Kafka disabled, events will not be published")
	}

	ledgerDB := &ledger.DB{Bun: bunDB}
	invoiceDB := &invoice.DB{Bun: bunDB}

	allocatorService := allocator.NewService(ledgerDB, redisStore, allocEvents, log)
	tokenService := purchasetoken.NewService(cfg.Token.Secret, cfg.Token.TTL, ledgerDB)
	invoiceService := invoice.NewService(invoiceDB, ledgerDB, allocatorService, invoiceEvents, log)
	paymentService := payment.NewService(cfg.Stripe, tokenService, invoiceService, allocatorService, log)
	ticketService := tickets.NewService(ledgerDB, redisStore, log)
	dashboardService := dashboard.NewService(bunDB)
	referralService := referral.NewService(bunDB, referralEvents, log, cfg.Server.PublicBaseURL)
	receipts := receipt.NewQRGenerator(cfg.Receipt.Secret)

	// The consumer keeps the cached sold counter honest across instances.
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.EntriesAllocated, cfg.Kafka.GroupID)
		defer consumer.Close()
		go consumer.Start(consumerCtx, func(event models.AllocationEvent) {
			if err := redisStore.InvalidateSoldCount(event.RaffleID); err != nil {
				log.Warn("REDIS", fmt.Sprintf("Failed to invalidate sold count for raffle %s: %v", event.RaffleID, err))
			}
		})
		log.Info("KAFKA", "Allocation event consumer started")
	}

	storefrontHandler := allocator_api.NewHandler(allocatorService, ticketService, ledgerDB, receipts)
	paymentHandler := payment_api.NewHandler(tokenService, paymentService)
	invoiceHandler := invoice_api.NewHandler(invoiceService, invoiceDB)
	dashboardHandler := dashboard_api.NewHandler(dashboardService, referralService)

	var oidcMiddleware func(http.Handler) http.Handler
	if cfg.Auth.OIDCIssuer != "" {
		var err error
		oidcMiddleware, err = auth.Middleware(cfg.Auth.OIDCIssuer)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("Failed to initialize OIDC middleware: %v", err))
		}
		log.Info("AUTH", "OIDC middleware applied to admin routes")
	} else {
		log.Warn("AUTH", "OIDC_ISSUER not set, admin routes are unprotected")
	}

	adminRoutes := func(r chi.Router) {
		r.Post("/register", storefrontHandler.RegisterNumbers)

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", invoiceHandler.CreateInvoice)
			r.Get("/", invoiceHandler.ListInvoices)
			r.Get("/{orderNumber}", invoiceHandler.GetInvoice)
			r.Put("/{orderNumber}/complete", invoiceHandler.CompleteInvoice)
			r.Put("/{orderNumber}/fail", invoiceHandler.FailInvoice)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/metrics", dashboardHandler.GetMetrics)
			r.Get("/winners", dashboardHandler.GetWinners)
		})

		r.Route("/referrals", func(r chi.Router) {
			r.Get("/", dashboardHandler.ListReferralStats)
			r.Post("/", dashboardHandler.CreateReferral)
			r.Put("/{code}", dashboardHandler.UpdateReferral)
			r.Delete("/{code}", dashboardHandler.DeleteReferral)
		})
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		// --- Public Routes ---
		r.Get("/raffle", storefrontHandler.GetActiveRaffle)
		r.Get("/raffle/sold-count", storefrontHandler.GetSoldCount)
		r.Get("/raffle/blessed-numbers", storefrontHandler.GetBlessedNumbers)
		r.Get("/tickets", storefrontHandler.GetUserTickets)
		r.Get("/entries/{entryId}/qr", storefrontHandler.GetEntryQR)

		r.Post("/purchase-token", paymentHandler.IssuePurchaseToken)
		r.Post("/purchase-token/validate", paymentHandler.ValidatePurchaseToken)
		r.Post("/checkout", paymentHandler.CreateCheckoutSession)
		r.Post("/webhook/stripe", paymentHandler.HandleStripeWebhook)

		r.Get("/referrals/{code}", dashboardHandler.GetReferral)

		// --- Protected Routes ---
		if oidcMiddleware != nil {
			r.Group(func(r chi.Router) {
				r.Use(oidcMiddleware)
				r.Route("/admin", adminRoutes)
			})
		} else {
			r.Route("/admin", adminRoutes)
		}
	})
	log.Info("ROUTER", "Storefront routes registered under /api, admin routes under /api/admin")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Raffle Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	stopConsumer()
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Raffle Service shutdown complete")
	}
}
