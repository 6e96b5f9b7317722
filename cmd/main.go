package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"neurospace-backend/internal/ai"
	"neurospace-backend/internal/config"
	"neurospace-backend/internal/logger"
	"neurospace-backend/internal/queue"
	"neurospace-backend/internal/storage"
	"neurospace-backend/internal/telemetry"
	"neurospace-backend/internal/vectorstore"
	"neurospace-backend/middleware"
	"neurospace-backend/routes"
	"neurospace-backend/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("neurospace-api")
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	// Connect to Redis (rate limiting)
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	ctx := context.Background()

	objectStore, err := storage.NewS3Store(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize object store:", err)
	}

	embeddingClient := ai.NewEmbeddingClient(cfg)
	generationClient := ai.NewGenerationClient(cfg)

	// A dimension mismatch between the index and the embedding model
	// is a configuration error; refuse to start.
	pinecone := vectorstore.NewPineconeClient(cfg)
	if err := pinecone.EnsureIndex(ctx); err != nil {
		log.Fatal("Failed to prepare vector index:", err)
	}

	queueClient := queue.NewClient(queue.RedisConnOpt(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB))
	defer queueClient.Close()

	metadata := services.NewMetadataService(mongoClient, cfg.DBName)
	processing := services.NewProcessingService(metadata, objectStore, embeddingClient, pinecone, queueClient, cfg)
	query := services.NewQueryService(embeddingClient, pinecone, generationClient, cfg.DefaultTopK)
	files := services.NewFileService(metadata, pinecone, objectStore)

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("neurospace-api"))
	router.Use(middleware.RequestIDMiddleware())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-API-Key"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg)
	rateLimit := middleware.RateLimitMiddleware(rdb, cfg)

	processingGroup := router.Group("/processing", rateLimit, authMiddleware.RequireAuth())
	{
		processingGroup.POST("/process", routes.HandleProcessFile(processing))
		processingGroup.GET("/status/:job_id", routes.HandleJobStatus(metadata))
		processingGroup.GET("/file-status", routes.HandleFileStatus(metadata))
	}

	queryGroup := router.Group("/query", rateLimit, authMiddleware.RequireAuth())
	{
		queryGroup.POST("/ask", routes.HandleAsk(query, cfg))
		queryGroup.POST("/ask_direct", routes.HandleAskDirect(query, cfg))
		queryGroup.POST("/ask_stream", routes.HandleAskStream(query, cfg))
		queryGroup.POST("/ask_direct_stream", routes.HandleAskDirectStream(query, cfg))
	}

	filesGroup := router.Group("/files", rateLimit, authMiddleware.RequireAuth())
	{
		filesGroup.GET("", routes.HandleListFiles(files))
		filesGroup.DELETE("/:file_id", routes.HandleDeleteFile(files))
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
