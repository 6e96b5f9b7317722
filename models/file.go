package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document processing states.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusError      = "error"
)

// Processing job states.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Document is one uploaded file and its ingestion outcome. file_key is
// unique per owning user.
type Document struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      string             `bson:"user_id" json:"user_id"`
	FileKey     string             `bson:"file_key" json:"file_key"`
	FileName    string             `bson:"file_name" json:"file_name"`
	ContentType string             `bson:"content_type" json:"content_type"`
	FileSize    int64              `bson:"file_size" json:"file_size"`

	Status         string `bson:"status" json:"status"`
	ChunksCount    int    `bson:"chunks_count" json:"chunks_count"`
	EmbeddingCount int    `bson:"embedding_count" json:"embedding_count"`
	LastError      string `bson:"last_error,omitempty" json:"last_error,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ProcessingJob tracks one ingestion attempt for a (file, user) pair.
// At most one active job per file; the get-or-create lookup enforces
// that.
type ProcessingJob struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID  string             `bson:"user_id" json:"user_id"`
	FileKey string             `bson:"file_key" json:"file_key"`

	Status string `bson:"status" json:"status"`
	Error  string `bson:"error,omitempty" json:"error,omitempty"`

	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updated_at"`
	FinishedAt *time.Time `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
}
