package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"neurospace-backend/middleware"
	"neurospace-backend/models"
	"neurospace-backend/services"
	"neurospace-backend/utils"
)

type processRequestBody struct {
	FileKey     string `json:"file_key" binding:"required"`
	FileName    string `json:"file_name" binding:"required"`
	UserID      string `json:"user_id"`
	ContentType string `json:"content_type" binding:"required"`
	FileSize    int64  `json:"file_size"`
}

// HandleProcessFile accepts an ingestion request and dispatches it to
// the background queue. The response is 202: processing happens out of
// band and the caller polls the returned job.
func HandleProcessFile(processing *services.ProcessingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body processRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"error": err.Error()})
			return
		}

		userID := middleware.ResolveUserID(c, body.UserID)
		if userID == "" {
			utils.RespondWithBadRequest(c, "user_id is required", nil)
			return
		}

		job, err := processing.RequestProcessing(c.Request.Context(), services.ProcessRequest{
			FileKey:     body.FileKey,
			FileName:    body.FileName,
			UserID:      userID,
			ContentType: body.ContentType,
			FileSize:    body.FileSize,
		})
		if err != nil {
			if errors.Is(err, services.ErrForeignFileKey) {
				utils.RespondWithForbidden(c, "File key belongs to a different user")
				return
			}
			if errors.Is(err, services.ErrInvalidFileKey) {
				utils.RespondWithBadRequest(c, err.Error(), nil)
				return
			}
			utils.RespondWithInternalError(c, "Failed to schedule processing", nil)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"job_id":   job.ID.Hex(),
			"status":   job.Status,
			"message":  "File accepted for processing",
			"file_key": body.FileKey,
		})
	}
}

// HandleJobStatus reports the state of one processing job.
func HandleJobStatus(meta *services.MetadataService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.ResolveUserID(c, c.Query("user_id"))
		if userID == "" {
			utils.RespondWithBadRequest(c, "user_id is required", nil)
			return
		}

		job, err := meta.GetJob(c.Request.Context(), userID, c.Param("job_id"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid job id", nil)
			return
		}
		if job == nil {
			utils.RespondWithNotFound(c, "Job not found")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"job_id":      job.ID.Hex(),
			"file_key":    job.FileKey,
			"status":      job.Status,
			"error":       job.Error,
			"created_at":  job.CreatedAt,
			"updated_at":  job.UpdatedAt,
			"finished_at": job.FinishedAt,
		})
	}
}

// HandleFileStatus reports the ingestion outcome for a file key.
func HandleFileStatus(meta *services.MetadataService) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileKey := c.Query("file_key")
		if fileKey == "" {
			utils.RespondWithBadRequest(c, "file_key is required", nil)
			return
		}

		userID := middleware.ResolveUserID(c, c.Query("user_id"))
		if userID == "" {
			utils.RespondWithBadRequest(c, "user_id is required", nil)
			return
		}

		doc, err := meta.GetDocument(c.Request.Context(), userID, fileKey)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to look up file", nil)
			return
		}
		if doc == nil {
			utils.RespondWithNotFound(c, "File not found")
			return
		}

		response := gin.H{
			"file_key":        doc.FileKey,
			"file_name":       doc.FileName,
			"status":          doc.Status,
			"chunks_count":    doc.ChunksCount,
			"embedding_count": doc.EmbeddingCount,
			"updated_at":      doc.UpdatedAt,
		}
		if doc.Status == models.StatusError {
			response["last_error"] = doc.LastError
		}
		c.JSON(http.StatusOK, response)
	}
}
