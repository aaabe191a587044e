package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seller_agent_backend/config"
	"seller_agent_backend/models"
	"seller_agent_backend/routes"
	"seller_agent_backend/scheduler"
	"seller_agent_backend/services/audit"
	"seller_agent_backend/services/bulkops"
	"seller_agent_backend/services/jobqueue"
	"seller_agent_backend/services/listingdata"
	"seller_agent_backend/services/pricing"
	"seller_agent_backend/services/stream"
	"seller_agent_backend/services/worker"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	log.Println("==============================================")
	log.Println("  Seller Agent Core - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database connection
	db, err := config.InitDB()
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}

	// Run database migrations
	log.Println("Running database migrations...")
	if err := runMigrations(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Database migrations completed successfully")

	// Build services; collaborators are injected at construction
	listings := listingdata.NewStore(db)
	engine := pricing.NewEngine(db, listings, listings, listings)
	executor := bulkops.NewExecutor(db, listings)
	hub := stream.NewHub()
	sink := audit.NewSink()

	jobWorker := worker.NewWorker(engine, executor)
	queue := jobqueue.NewQueue(db, jobWorker.Handle)
	jobWorker.BindQueue(queue)

	// Applied price changes: write back to the listing feed, push to
	// stream consumers, record for audit
	engine.SetPriceChangeCallback(func(res pricing.Result) {
		if err := listings.UpdatePrice(res.ListingID, res.NewPrice); err != nil {
			log.Printf("Error applying price change to listing %s: %v", res.ListingID, err)
		}
		hub.Broadcast(stream.MessagePriceChange, res)
		sink.Record(res)
	})
	queue.SetObserver(func(job *models.Job) {
		hub.Broadcast(stream.MessageJobProgress, job)
	})

	if err := engine.LoadRules(); err != nil {
		log.Printf("Warning: Could not load pricing rules: %v", err)
	}

	go hub.Run()
	if err := queue.Start(); err != nil {
		log.Fatalf("Failed to start job queue: %v", err)
	}

	jobScheduler := scheduler.NewScheduler(db, engine, sink)
	jobScheduler.Start()

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	setupHealthEndpoints(router, db)
	routes.SetupRoutes(router, queue, engine, executor, listings, hub)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(server, queue, jobScheduler, hub, sink)
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB) error {
	if err := models.MigrateJobModels(db); err != nil {
		return err
	}
	if err := models.MigratePricingModels(db); err != nil {
		return err
	}
	if err := models.MigrateBulkOperationModels(db); err != nil {
		return err
	}
	return models.MigrateListingModels(db)
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine, db *gorm.DB) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Seller Agent Core",
			"version": "1.0.0",
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not reachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, queue *jobqueue.Queue,
	jobScheduler *scheduler.Scheduler, hub *stream.Hub, sink *audit.Sink) {

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop producers first, then the server
	jobScheduler.Stop()
	queue.Stop()
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	sink.Close()
	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
