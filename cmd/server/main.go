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

	"github.com/p2psettle/backend/internal/config"
	"github.com/p2psettle/backend/internal/database"
	"github.com/p2psettle/backend/internal/handlers"
	mW "github.com/p2psettle/backend/internal/middleware"
	"github.com/p2psettle/backend/internal/parser"
	"github.com/p2psettle/backend/internal/services"
	"github.com/p2psettle/backend/internal/store"
	"github.com/p2psettle/backend/internal/workers"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

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

	config.Bind()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	reconCfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load reconciliation config: %v", err)
	}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	st := store.New(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := st.EnsureSchema(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	cancel()

	// Initialize services
	rates := services.NewCachedRateSource(redisClient, reconCfg.ApproxRate)
	engine := services.NewMatchingEngine(st, reconCfg, rates, services.LogNotifier{})
	sweeper := services.NewSweeper(st, reconCfg, engine)
	extractor := parser.NewRetryingExtractor(parser.NewPDFExtractor(), reconCfg.ExtractTimeout, reconCfg.ExtractRetries)
	ingest := services.NewIngestService(st, redisClient, extractor, reconCfg.DedupWindow)
	admin := handlers.NewAdminHandler(st, ingest, sweeper, engine)

	// Background workers
	recon := workers.NewReconWorkers(engine, sweeper, reconCfg)
	recon.Start()
	defer recon.Stop()

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/receipts", admin.IngestReceipt)
		r.Post("/payouts/sync", admin.SyncPayout)

		r.Get("/quarantine", admin.ListQuarantine)
		r.Get("/ambiguities", admin.ListAmbiguities)
		r.Post("/sweep", admin.RunSweep)

		r.Post("/repairs/link", admin.RepairLink)
		r.Post("/repairs/unlink", admin.RepairUnlink)
		r.Post("/repairs/swap", admin.RepairSwap)
		r.Post("/repairs/merge", admin.RepairMerge)
		r.Post("/transactions/force-status", admin.ForceStatus)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
