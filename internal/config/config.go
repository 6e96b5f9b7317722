package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string

	Port        string
	GinMode     string
	CORSOrigins []string
	Debug       bool

	// Internal service authentication
	BackendAPIKey string
	AccessSecret  string

	// Redis Configuration (rate limiting + task queue)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// NVIDIA NIM (OpenAI-compatible embeddings + chat completions)
	NIMAPIKey     string
	NIMBaseURL    string
	NIMEmbedModel string
	NIMChatModel  string

	// Embedding client tuning
	EmbedDimension    int
	EmbedMaxRetries   int
	EmbedBackoffSecs  int
	EmbedConcurrency  int
	EmbedBatchPauseMs int

	// Pinecone
	PineconeAPIKey    string
	PineconeIndexName string
	PineconeCloud     string
	PineconeRegion    string

	// AWS S3
	AWSRegion    string
	S3BucketName string

	// Ingestion guards
	MaxFileSizeMB int64
	MaxTextBytes  int64
	MaxChunkCount int
	ChunkSize     int
	ChunkOverlap  int

	// Retrieval
	DefaultTopK int

	RateLimitReqs   int
	RateLimitWindow int
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/neurospace"),
		DBName:   getEnv("DB_NAME", "neurospace"),

		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		Debug:       getEnvBool("DEBUG", true),

		BackendAPIKey: getEnv("BACKEND_API_KEY", ""),
		AccessSecret:  getEnv("ACCESS_SECRET", ""),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		NIMAPIKey:     getEnv("NVIDIA_NIM_API_KEY", ""),
		NIMBaseURL:    getEnv("NVIDIA_NIM_BASE_URL", "https://integrate.api.nvidia.com/v1"),
		NIMEmbedModel: getEnv("NIM_EMBED_MODEL", "nvidia/nv-embedqa-e5-v5"),
		NIMChatModel:  getEnv("NIM_CHAT_MODEL", "nvidia/llama-3.3-nemotron-super-49b-v1.5"),

		// The embedding dimension is configuration, not something introspected
		// from the API. It must match the Pinecone index dimension.
		EmbedDimension:    getEnvInt("EMBED_DIMENSION", 1024),
		EmbedMaxRetries:   getEnvInt("EMBED_MAX_RETRIES", 3),
		EmbedBackoffSecs:  getEnvInt("EMBED_BACKOFF_SECONDS", 2),
		EmbedConcurrency:  getEnvInt("EMBED_CONCURRENCY", 5),
		EmbedBatchPauseMs: getEnvInt("EMBED_BATCH_PAUSE_MS", 500),

		PineconeAPIKey:    getEnv("PINECONE_API_KEY", ""),
		PineconeIndexName: getEnv("PINECONE_INDEX_NAME", "neurospace-embeddings"),
		PineconeCloud:     getEnv("PINECONE_CLOUD", "aws"),
		PineconeRegion:    getEnv("PINECONE_REGION", "us-east-1"),

		AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
		S3BucketName: getEnv("AWS_S3_BUCKET_NAME", ""),

		MaxFileSizeMB: getEnvInt64("MAX_FILE_SIZE_MB", 50),
		MaxTextBytes:  getEnvInt64("MAX_TEXT_BYTES", 10*1024*1024),
		MaxChunkCount: getEnvInt("MAX_CHUNK_COUNT", 1000),
		ChunkSize:     getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:  getEnvInt("CHUNK_OVERLAP", 200),

		DefaultTopK: getEnvInt("DEFAULT_TOP_K", 5),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),
	}

	// Validate required fields
	if cfg.NIMAPIKey == "" {
		return nil, fmt.Errorf("NVIDIA_NIM_API_KEY is required - set it in .env file")
	}

	if cfg.PineconeAPIKey == "" {
		return nil, fmt.Errorf("PINECONE_API_KEY is required - set it in .env file")
	}

	if cfg.S3BucketName == "" {
		return nil, fmt.Errorf("AWS_S3_BUCKET_NAME is required - set it in .env file")
	}

	if cfg.AccessSecret == "" {
		return nil, fmt.Errorf("ACCESS_SECRET is required - set it in .env file")
	}

	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
