package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"neurospace-backend/internal/ai"
	"neurospace-backend/internal/config"
	"neurospace-backend/internal/logger"
	"neurospace-backend/middleware"
	"neurospace-backend/services"
	"neurospace-backend/utils"
)

type askRequestBody struct {
	Question      string       `json:"question" binding:"required"`
	UserID        string       `json:"user_id"`
	TopK          int          `json:"top_k"`
	SelectedFiles []string     `json:"selected_files"`
	History       []ai.Message `json:"history"`
}

func bindAskRequest(c *gin.Context) (services.QueryRequest, bool) {
	var body askRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"error": err.Error()})
		return services.QueryRequest{}, false
	}
	if strings.TrimSpace(body.Question) == "" {
		utils.RespondWithBadRequest(c, "question must not be empty", nil)
		return services.QueryRequest{}, false
	}

	userID := middleware.ResolveUserID(c, body.UserID)
	if userID == "" {
		utils.RespondWithBadRequest(c, "user_id is required", nil)
		return services.QueryRequest{}, false
	}

	return services.QueryRequest{
		UserID:        userID,
		Question:      body.Question,
		TopK:          body.TopK,
		SelectedFiles: body.SelectedFiles,
		History:       body.History,
	}, true
}

// HandleAsk answers a question grounded in the user's documents.
func HandleAsk(query *services.QueryService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindAskRequest(c)
		if !ok {
			return
		}

		answer, err := query.Ask(c.Request.Context(), req)
		if err != nil {
			utils.RespondWithUpstreamError(c, err, cfg.Debug)
			return
		}
		c.JSON(http.StatusOK, answer)
	}
}

// HandleAskDirect answers without consulting the user's documents.
func HandleAskDirect(query *services.QueryService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindAskRequest(c)
		if !ok {
			return
		}

		answer, err := query.AskGeneral(c.Request.Context(), req)
		if err != nil {
			utils.RespondWithUpstreamError(c, err, cfg.Debug)
			return
		}
		c.JSON(http.StatusOK, answer)
	}
}

// HandleAskStream streams a grounded answer: a JSON header line with
// mode and references, then raw text fragments.
func HandleAskStream(query *services.QueryService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindAskRequest(c)
		if !ok {
			return
		}

		streamAnswer(c, cfg, func(emit func(string) error) error {
			return query.AskStream(c.Request.Context(), req, emit)
		})
	}
}

// HandleAskDirectStream streams a general answer.
func HandleAskDirectStream(query *services.QueryService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindAskRequest(c)
		if !ok {
			return
		}

		streamAnswer(c, cfg, func(emit func(string) error) error {
			return query.AskGeneralStream(c.Request.Context(), req, emit)
		})
	}
}

// streamAnswer bridges the service's emit callback onto the HTTP
// response. Errors before the first byte still get a proper status;
// after that the connection is committed and failures surface as
// terminal fragments from the service.
func streamAnswer(c *gin.Context, cfg *config.Config, run func(emit func(string) error) error) {
	flusher, canFlush := c.Writer.(http.Flusher)

	wroteHeader := false
	emit := func(fragment string) error {
		if !wroteHeader {
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.Header("Cache-Control", "no-cache")
			c.Header("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
			wroteHeader = true
		}
		if _, err := c.Writer.WriteString(fragment); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	if err := run(emit); err != nil {
		if wroteHeader {
			// The stream already started; nothing sensible left to send.
			logger.Warn("Stream aborted after headers were written", "error", err)
			return
		}
		utils.RespondWithUpstreamError(c, err, cfg.Debug)
	}
}
