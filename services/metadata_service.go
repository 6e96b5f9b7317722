package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"neurospace-backend/models"
)

// MetadataService persists Document and ProcessingJob records.
type MetadataService struct {
	files *mongo.Collection
	jobs  *mongo.Collection
}

func NewMetadataService(client *mongo.Client, dbName string) *MetadataService {
	db := client.Database(dbName)
	return &MetadataService{
		files: db.Collection("files"),
		jobs:  db.Collection("processing_jobs"),
	}
}

// GetDocument returns nil without error when no record exists.
func (ms *MetadataService) GetDocument(ctx context.Context, userID, fileKey string) (*models.Document, error) {
	var doc models.Document
	err := ms.files.FindOne(ctx, bson.M{"user_id": userID, "file_key": fileKey}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up document: %w", err)
	}
	return &doc, nil
}

// EnsureDocument creates the record on first sight of a file key and
// returns the stored state either way.
func (ms *MetadataService) EnsureDocument(ctx context.Context, userID, fileKey, fileName, contentType string, fileSize int64) (*models.Document, error) {
	now := time.Now()
	update := bson.M{
		"$setOnInsert": bson.M{
			"user_id":         userID,
			"file_key":        fileKey,
			"file_name":       fileName,
			"content_type":    contentType,
			"file_size":       fileSize,
			"status":          models.StatusUploaded,
			"chunks_count":    0,
			"embedding_count": 0,
			"created_at":      now,
		},
		"$set": bson.M{"updated_at": now},
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc models.Document
	err := ms.files.FindOneAndUpdate(ctx, bson.M{"user_id": userID, "file_key": fileKey}, update, opts).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure document: %w", err)
	}
	return &doc, nil
}

// UpdateDocumentStatus records the processing outcome. Counts reflect
// chunks that were embedded and accepted, not raw chunk counts, so
// partial failure stays visible.
func (ms *MetadataService) UpdateDocumentStatus(ctx context.Context, userID, fileKey, status string, chunksCount, embeddingCount int, lastError string) error {
	set := bson.M{
		"status":          status,
		"chunks_count":    chunksCount,
		"embedding_count": embeddingCount,
		"updated_at":      time.Now(),
	}
	update := bson.M{"$set": set}
	if lastError != "" {
		set["last_error"] = lastError
	} else {
		update["$unset"] = bson.M{"last_error": ""}
	}

	_, err := ms.files.UpdateOne(ctx, bson.M{"user_id": userID, "file_key": fileKey}, update)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return nil
}

func (ms *MetadataService) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := ms.files.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer cursor.Close(ctx)

	docs := []models.Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes the record and returns it so the caller can
// clean up the object store and vector index.
func (ms *MetadataService) DeleteDocument(ctx context.Context, userID, fileID string) (*models.Document, error) {
	oid, err := primitive.ObjectIDFromHex(fileID)
	if err != nil {
		return nil, fmt.Errorf("invalid file id: %w", err)
	}

	var doc models.Document
	err = ms.files.FindOneAndDelete(ctx, bson.M{"_id": oid, "user_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete document: %w", err)
	}
	return &doc, nil
}

// GetOrCreateJob reuses an active job for the file if one exists, so a
// double-submitted ingestion request doesn't spawn parallel work.
func (ms *MetadataService) GetOrCreateJob(ctx context.Context, userID, fileKey string) (*models.ProcessingJob, error) {
	var existing models.ProcessingJob
	err := ms.jobs.FindOne(ctx, bson.M{
		"user_id":  userID,
		"file_key": fileKey,
		"status":   bson.M{"$in": []string{models.JobQueued, models.JobProcessing}},
	}).Decode(&existing)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}

	now := time.Now()
	job := models.ProcessingJob{
		UserID:    userID,
		FileKey:   fileKey,
		Status:    models.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := ms.jobs.InsertOne(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	job.ID = res.InsertedID.(primitive.ObjectID)
	return &job, nil
}

func (ms *MetadataService) GetJob(ctx context.Context, userID, jobID string) (*models.ProcessingJob, error) {
	oid, err := primitive.ObjectIDFromHex(jobID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id: %w", err)
	}

	var job models.ProcessingJob
	err = ms.jobs.FindOne(ctx, bson.M{"_id": oid, "user_id": userID}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}
	return &job, nil
}

// UpdateJobStatus finalizes or advances a job. Terminal states also
// stamp finished_at.
func (ms *MetadataService) UpdateJobStatus(ctx context.Context, jobID primitive.ObjectID, status, errMsg string) error {
	set := bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errMsg != "" {
		set["error"] = errMsg
	}
	if status == models.JobCompleted || status == models.JobFailed {
		now := time.Now()
		set["finished_at"] = now
	}

	_, err := ms.jobs.UpdateOne(ctx, bson.M{"_id": jobID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}
