package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"neurospace-backend/internal/ai"
	"neurospace-backend/internal/config"
	"neurospace-backend/internal/logger"
	"neurospace-backend/internal/queue"
	"neurospace-backend/internal/storage"
	"neurospace-backend/internal/telemetry"
	"neurospace-backend/internal/vectorstore"
	"neurospace-backend/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("neurospace-worker")
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
	defer mongoClient.Disconnect(context.Background())

	ctx := context.Background()

	objectStore, err := storage.NewS3Store(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize object store:", err)
	}

	embeddingClient := ai.NewEmbeddingClient(cfg)

	pinecone := vectorstore.NewPineconeClient(cfg)
	if err := pinecone.EnsureIndex(ctx); err != nil {
		log.Fatal("Failed to prepare vector index:", err)
	}

	metadata := services.NewMetadataService(mongoClient, cfg.DBName)
	processing := services.NewProcessingService(metadata, objectStore, embeddingClient, pinecone, nil, cfg)

	redisOpt := queue.RedisConnOpt(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)

	processor := queue.NewTaskProcessor(processing)

	// Create Asynq server. The error handler finalizes documents and
	// jobs whose transient failures have exhausted their retries.
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			// Ingestion is network-bound; most time is spent waiting on
			// the embedding API.
			Concurrency: 10,
			Queues: map[string]int{
				queue.QueueDefault: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(processor.HandleError),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeFileProcess, processor.HandleFileProcess)

	logger.Info("Starting worker", "concurrency", 10, "queue", queue.QueueDefault)

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
