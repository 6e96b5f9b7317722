package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"neurospace-backend/internal/config"
	"neurospace-backend/internal/extract"
	"neurospace-backend/internal/logger"
	"neurospace-backend/internal/storage"
	"neurospace-backend/internal/vectorstore"
	"neurospace-backend/models"
)

// ErrTerminal marks a processing failure that is already recorded in
// the document status and must not be retried by the task queue.
var ErrTerminal = errors.New("terminal processing failure")

// ErrInvalidFileKey rejects keys outside uploads/<user_id>/<safe-name>.
var ErrInvalidFileKey = errors.New("invalid file key")

// ErrForeignFileKey marks a structurally valid key owned by another
// user.
var ErrForeignFileKey = errors.New("file key does not belong to the requesting user")

var fileKeyPattern = regexp.MustCompile(`^uploads/([A-Za-z0-9_-]+)/([A-Za-z0-9._-]+)$`)

// ValidateFileKey checks that the key belongs to the requesting user
// and contains no path traversal or unsafe characters.
func ValidateFileKey(fileKey, userID string) error {
	m := fileKeyPattern.FindStringSubmatch(fileKey)
	if m == nil {
		return fmt.Errorf("%w: must match uploads/<user_id>/<filename>", ErrInvalidFileKey)
	}
	if m[1] != userID {
		return fmt.Errorf("%w: %w", ErrInvalidFileKey, ErrForeignFileKey)
	}
	if strings.Contains(m[2], "..") {
		return fmt.Errorf("%w: filename must not contain path traversal", ErrInvalidFileKey)
	}
	return nil
}

// Narrow views of the collaborators, so tests can swap in fakes
// without a Mongo or Pinecone instance.

type documentStore interface {
	GetDocument(ctx context.Context, userID, fileKey string) (*models.Document, error)
	EnsureDocument(ctx context.Context, userID, fileKey, fileName, contentType string, fileSize int64) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, userID, fileKey, status string, chunksCount, embeddingCount int, lastError string) error
	GetOrCreateJob(ctx context.Context, userID, fileKey string) (*models.ProcessingJob, error)
	UpdateJobStatus(ctx context.Context, jobID primitive.ObjectID, status, errMsg string) error
}

type embedder interface {
	EmbedBatch(ctx context.Context, texts []string) [][]float32
	Dimension() int
}

type vectorIndex interface {
	Upsert(ctx context.Context, records []vectorstore.Record) (*vectorstore.UpsertResult, error)
}

type taskEnqueuer interface {
	EnqueueProcessFile(ctx context.Context, fileKey, fileName, userID, contentType, jobID string) error
}

// ProcessRequest is the unit of work handed to the orchestrator.
type ProcessRequest struct {
	FileKey     string `json:"file_key"`
	FileName    string `json:"file_name"`
	UserID      string `json:"user_id"`
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size,omitempty"`
	JobID       string `json:"job_id,omitempty"`
}

// ProcessingService drives a document through
// download → extract → chunk → embed → upsert → status update.
type ProcessingService struct {
	meta     documentStore
	store    storage.ObjectStore
	embedder embedder
	index    vectorIndex
	queue    taskEnqueuer
	cfg      *config.Config
}

func NewProcessingService(meta documentStore, store storage.ObjectStore, emb embedder, index vectorIndex, queue taskEnqueuer, cfg *config.Config) *ProcessingService {
	return &ProcessingService{
		meta:     meta,
		store:    store,
		embedder: emb,
		index:    index,
		queue:    queue,
		cfg:      cfg,
	}
}

// RequestProcessing validates an ingestion request, records the
// document, and dispatches the work to the background queue. Returns
// the job tracking the attempt.
func (ps *ProcessingService) RequestProcessing(ctx context.Context, req ProcessRequest) (*models.ProcessingJob, error) {
	if err := ValidateFileKey(req.FileKey, req.UserID); err != nil {
		return nil, err
	}

	if _, err := ps.meta.EnsureDocument(ctx, req.UserID, req.FileKey, req.FileName, req.ContentType, req.FileSize); err != nil {
		return nil, err
	}

	job, err := ps.meta.GetOrCreateJob(ctx, req.UserID, req.FileKey)
	if err != nil {
		return nil, err
	}

	req.JobID = job.ID.Hex()
	if err := ps.queue.EnqueueProcessFile(ctx, req.FileKey, req.FileName, req.UserID, req.ContentType, req.JobID); err != nil {
		return nil, fmt.Errorf("failed to enqueue processing task: %w", err)
	}

	return job, nil
}

// ProcessFile runs one ingestion attempt. Terminal failures are
// persisted on the document and returned wrapped in ErrTerminal;
// anything else is a transient infrastructure error and the queue may
// redeliver it; the idempotency check makes redelivery safe.
func (ps *ProcessingService) ProcessFile(ctx context.Context, req ProcessRequest) error {
	if err := ValidateFileKey(req.FileKey, req.UserID); err != nil {
		return ps.fail(ctx, req, 0, err.Error())
	}

	// Idempotency: a processed file is never reprocessed.
	doc, err := ps.meta.GetDocument(ctx, req.UserID, req.FileKey)
	if err != nil {
		return err
	}
	if doc != nil && doc.Status == models.StatusProcessed {
		logger.Info("File already processed, skipping", "file_key", req.FileKey, "user_id", req.UserID)
		ps.updateJob(ctx, req, models.JobCompleted, "")
		return nil
	}

	if err := ps.meta.UpdateDocumentStatus(ctx, req.UserID, req.FileKey, models.StatusProcessing, 0, 0, ""); err != nil {
		return err
	}
	ps.updateJob(ctx, req, models.JobProcessing, "")

	size, err := ps.store.GetSize(ctx, req.FileKey)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	maxBytes := ps.cfg.MaxFileSizeMB * 1024 * 1024
	if size > maxBytes {
		return ps.fail(ctx, req, 0, fmt.Sprintf("File is %d bytes, exceeds the %dMB limit", size, ps.cfg.MaxFileSizeMB))
	}

	tempPath, err := ps.store.Download(ctx, req.FileKey)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	// Cleanup on every exit path, success or failure.
	defer storage.CleanupTemp(tempPath)

	content, err := os.ReadFile(tempPath)
	if err != nil {
		return fmt.Errorf("failed to read downloaded file: %w", err)
	}

	text, err := extract.ExtractText(content, req.ContentType)
	if errors.Is(err, extract.ErrNoText) {
		return ps.fail(ctx, req, 0, "No extractable text found in document")
	}
	if errors.Is(err, extract.ErrUnsupportedType) {
		return ps.fail(ctx, req, 0, fmt.Sprintf("Unsupported content type: %s", req.ContentType))
	}
	if err != nil {
		return ps.fail(ctx, req, 0, fmt.Sprintf("Text extraction failed: %v", err))
	}

	if int64(len(text)) > ps.cfg.MaxTextBytes {
		return ps.fail(ctx, req, 0, fmt.Sprintf("Extracted text is %d bytes, exceeds the %d byte limit", len(text), ps.cfg.MaxTextBytes))
	}

	chunks := extract.ChunkText(text, ps.cfg.ChunkSize, ps.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return ps.fail(ctx, req, 0, "No extractable text found in document")
	}
	if len(chunks) > ps.cfg.MaxChunkCount {
		return ps.fail(ctx, req, len(chunks), fmt.Sprintf("Document produced %d chunks, exceeds the %d chunk limit", len(chunks), ps.cfg.MaxChunkCount))
	}

	vectors := ps.embedder.EmbedBatch(ctx, chunks)

	records := make([]vectorstore.Record, 0, len(chunks))
	failed := 0
	for i, vector := range vectors {
		if vector == nil {
			failed++
			continue
		}
		records = append(records, vectorstore.Record{
			ID:     fmt.Sprintf("%s#%d", req.FileKey, i),
			Values: vector,
			Metadata: map[string]any{
				vectorstore.MetaUserID:  req.UserID,
				vectorstore.MetaFileKey: req.FileKey,
				"file_name":             req.FileName,
				"chunk_index":           i,
				"text":                  preview(chunks[i]),
				"content_type":          req.ContentType,
			},
		})
	}

	if len(records) == 0 {
		return ps.fail(ctx, req, len(chunks), fmt.Sprintf("%d/%d embeddings failed", failed, len(chunks)))
	}
	if failed > 0 {
		logger.Warn("Partial embedding failure", "file_key", req.FileKey, "failed", failed, "total", len(chunks))
	}

	result, err := ps.index.Upsert(ctx, records)
	if err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	if !result.Successful() {
		reason := "vector index accepted no records"
		if len(result.Errors) > 0 {
			reason = result.Errors[0]
		}
		return ps.fail(ctx, req, len(chunks), fmt.Sprintf("Vector upsert failed: %s", reason))
	}

	if err := ps.meta.UpdateDocumentStatus(ctx, req.UserID, req.FileKey, models.StatusProcessed, result.Accepted, result.Accepted, ""); err != nil {
		return err
	}
	ps.updateJob(ctx, req, models.JobCompleted, "")

	logger.Info("File processed",
		"file_key", req.FileKey,
		"user_id", req.UserID,
		"chunks", len(chunks),
		"embedded", len(records),
		"accepted", result.Accepted)
	return nil
}

// fail records a terminal error on the document and the job, then
// returns ErrTerminal so the queue does not redeliver.
func (ps *ProcessingService) fail(ctx context.Context, req ProcessRequest, chunksCount int, reason string) error {
	ps.markFailed(ctx, req, chunksCount, reason)
	return fmt.Errorf("%s: %w", reason, ErrTerminal)
}

// MarkFailed persists a failure outcome without deciding retry policy.
// The worker calls it when a transient failure has exhausted its
// retries, so the document and job never stay in a non-final state.
func (ps *ProcessingService) MarkFailed(ctx context.Context, req ProcessRequest, reason string) {
	ps.markFailed(ctx, req, 0, reason)
}

func (ps *ProcessingService) markFailed(ctx context.Context, req ProcessRequest, chunksCount int, reason string) {
	logger.Error("Processing failed", "file_key", req.FileKey, "user_id", req.UserID, "reason", reason)

	if err := ps.meta.UpdateDocumentStatus(ctx, req.UserID, req.FileKey, models.StatusError, chunksCount, 0, reason); err != nil {
		logger.Error("Failed to record error status", "file_key", req.FileKey, "error", err)
	}
	ps.updateJob(ctx, req, models.JobFailed, reason)
}

func (ps *ProcessingService) updateJob(ctx context.Context, req ProcessRequest, status, errMsg string) {
	if req.JobID == "" {
		return
	}
	oid, err := primitive.ObjectIDFromHex(req.JobID)
	if err != nil {
		logger.Warn("Invalid job id on processing request", "job_id", req.JobID)
		return
	}
	if err := ps.meta.UpdateJobStatus(ctx, oid, status, errMsg); err != nil {
		logger.Error("Failed to finalize job", "job_id", req.JobID, "error", err)
	}
}

// preview truncates chunk text for vector metadata without splitting
// a multi-byte character.
func preview(text string) string {
	const max = 500
	if len(text) <= max {
		return text
	}
	runes := []rune(text)
	if len(runes) > max {
		runes = runes[:max]
	}
	return string(runes)
}
