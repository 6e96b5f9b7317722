package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"neurospace-backend/internal/logger"
	"neurospace-backend/services"
)

const (
	TypeFileProcess = "file:process"

	QueueDefault = "default"
)

// FileProcessPayload is the serialized unit of work for one ingestion
// attempt.
type FileProcessPayload struct {
	FileKey     string `json:"file_key"`
	FileName    string `json:"file_name"`
	UserID      string `json:"user_id"`
	ContentType string `json:"content_type"`
	JobID       string `json:"job_id"`
}

// RedisConnOpt builds the asynq connection options from config,
// accepting either a redis:// URI or a bare host:port.
func RedisConnOpt(redisURL, password string, db int) asynq.RedisConnOpt {
	if len(redisURL) >= 8 && (redisURL[:8] == "redis://" || (len(redisURL) >= 9 && redisURL[:9] == "rediss://")) {
		if opt, err := asynq.ParseRedisURI(redisURL); err == nil {
			return opt
		}
		logger.Warn("Failed to parse Redis URI, falling back to host:port", "url", redisURL)
	}
	return asynq.RedisClientOpt{
		Addr:     redisURL,
		Password: password,
		DB:       db,
	}
}

// Client enqueues background work.
type Client struct {
	client *asynq.Client
}

func NewClient(redisOpt asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpt)}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueProcessFile dispatches an ingestion task. Delivery is
// at-least-once; the orchestrator's idempotency check makes redelivery
// safe.
func (c *Client) EnqueueProcessFile(ctx context.Context, fileKey, fileName, userID, contentType, jobID string) error {
	payload, err := json.Marshal(FileProcessPayload{
		FileKey:     fileKey,
		FileName:    fileName,
		UserID:      userID,
		ContentType: contentType,
		JobID:       jobID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TypeFileProcess, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(20*time.Minute),
		asynq.Queue(QueueDefault),
	)

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	logger.Info("Enqueued processing task", "task_id", info.ID, "file_key", fileKey, "queue", info.Queue)
	return nil
}

// fileProcessor is the slice of the orchestrator the worker needs.
type fileProcessor interface {
	ProcessFile(ctx context.Context, req services.ProcessRequest) error
	MarkFailed(ctx context.Context, req services.ProcessRequest, reason string)
}

// TaskProcessor executes queued work inside the worker process.
type TaskProcessor struct {
	processing fileProcessor
}

func NewTaskProcessor(processing fileProcessor) *TaskProcessor {
	return &TaskProcessor{processing: processing}
}

// HandleFileProcess runs one ingestion attempt. Terminal failures are
// already persisted on the document, so they skip retry; anything else
// is surfaced to asynq for redelivery.
func (tp *TaskProcessor) HandleFileProcess(ctx context.Context, t *asynq.Task) error {
	var payload FileProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	err := tp.processing.ProcessFile(ctx, services.ProcessRequest{
		FileKey:     payload.FileKey,
		FileName:    payload.FileName,
		UserID:      payload.UserID,
		ContentType: payload.ContentType,
		JobID:       payload.JobID,
	})
	if err != nil {
		if errors.Is(err, services.ErrTerminal) {
			logger.Warn("Processing ended in terminal failure", "file_key", payload.FileKey, "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

// HandleError is the asynq server error handler. Transient failures
// are retried, but once the last retry is spent the task is archived
// and nothing else will touch the record: the document and job must be
// finalized here or they stay in a non-final state forever.
func (tp *TaskProcessor) HandleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	tp.handleError(task, err, retried, maxRetry)
}

func (tp *TaskProcessor) handleError(task *asynq.Task, err error, retried, maxRetry int) {
	logger.Error("Task failed", "type", task.Type(), "error", err, "retried", retried, "max_retry", maxRetry)

	if errors.Is(err, asynq.SkipRetry) {
		// Terminal failures were already recorded by the handler.
		return
	}
	if retried < maxRetry || task.Type() != TypeFileProcess {
		return
	}

	var payload FileProcessPayload
	if uErr := json.Unmarshal(task.Payload(), &payload); uErr != nil {
		logger.Error("Cannot finalize failed task, payload unreadable", "type", task.Type(), "error", uErr)
		return
	}

	tp.processing.MarkFailed(context.Background(), services.ProcessRequest{
		FileKey:     payload.FileKey,
		FileName:    payload.FileName,
		UserID:      payload.UserID,
		ContentType: payload.ContentType,
		JobID:       payload.JobID,
	}, fmt.Sprintf("Processing failed after %d attempts: %v", retried+1, err))
}
