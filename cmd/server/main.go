package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	"github.com/streamtip/backend/docs"
	"github.com/streamtip/backend/internal/database"
	mW "github.com/streamtip/backend/internal/middleware"
	"github.com/streamtip/backend/internal/services"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title StreamTip Token Core API
// @version 1.0
// @description Token-economy accounting core for the StreamTip livestream platform
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("billing.sweep_interval", "BILLING_SWEEP_INTERVAL")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledger := services.NewTokenLedgerService(db)
	battleService := services.NewBattleService()
	giftService := services.NewGiftService(db, redisClient, ledger, battleService)
	showService := services.NewPrivateShowService(db, redisClient, ledger)
	redemptionService := services.NewRedemptionService(db, ledger)
	accountService := services.NewAccountService(db, ledger)

	// Billing scheduler: the one background task sweeping active sessions.
	viper.SetDefault("billing.sweep_interval", 5*time.Second)
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go showService.RunScheduler(schedulerCtx, viper.GetDuration("billing.sweep_interval"))

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for gift icons
	r.Handle("/static/gift-icons/*", http.StripPrefix("/static/gift-icons/",
		mW.StaticFileServer("./static/gift-icons")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/gifts", giftService.ListGifts)
		r.Post("/gifts/send", giftService.SendGiftHandler)

		r.Post("/private-shows/start", showService.StartShow)
		r.Post("/private-shows/stop", showService.StopShow)
		r.Get("/private-shows/{roomName}", showService.ShowStatus)

		r.Post("/battles/start", battleService.StartBattle)
		r.Get("/battles/{roomName}", battleService.GetBattle)
		r.Delete("/battles/{roomName}", battleService.StopBattle)

		r.Post("/vouchers/redeem", redemptionService.RedeemVoucherHandler)
		r.Post("/payments/credit", redemptionService.CreditPayment)

		r.Get("/accounts/balance-enquiry", accountService.BalanceEnquiry)
		r.Post("/accounts/adjust", accountService.AdjustBalance)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
