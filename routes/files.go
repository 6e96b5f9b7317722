package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"neurospace-backend/middleware"
	"neurospace-backend/services"
	"neurospace-backend/utils"
)

// HandleListFiles lists the caller's documents with their processing
// state.
func HandleListFiles(files *services.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.ResolveUserID(c, c.Query("user_id"))
		if userID == "" {
			utils.RespondWithBadRequest(c, "user_id is required", nil)
			return
		}

		docs, err := files.List(c.Request.Context(), userID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list files", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"files": docs,
			"count": len(docs),
		})
	}
}

// HandleDeleteFile removes a document and its derived data.
func HandleDeleteFile(files *services.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.ResolveUserID(c, c.Query("user_id"))
		if userID == "" {
			utils.RespondWithBadRequest(c, "user_id is required", nil)
			return
		}

		doc, err := files.Delete(c.Request.Context(), userID, c.Param("file_id"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid file id", nil)
			return
		}
		if doc == nil {
			utils.RespondWithNotFound(c, "File not found")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":  "File deleted",
			"file_key": doc.FileKey,
		})
	}
}
