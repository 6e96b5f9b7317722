package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"neurospace-backend/internal/ai"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithUnauthorized sends a 401 Unauthorized error
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

// RespondWithForbidden sends a 403 Forbidden error
func RespondWithForbidden(c *gin.Context, message string) {
	RespondWithError(c, http.StatusForbidden, "forbidden", message, nil)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}

// RespondWithUpstreamError maps a typed model-call failure onto a
// caller-facing status. Detailed upstream diagnostics only leave the
// process when debug is enabled; production callers get the generic
// message plus the machine-matchable code.
func RespondWithUpstreamError(c *gin.Context, err error, debug bool) {
	status := ai.HTTPStatus(err)

	code := "upstream_error"
	message := "The request could not be completed. Please try again."
	var details interface{}

	if aiErr, ok := ai.AsError(err); ok {
		code = string(aiErr.Code)
		switch aiErr.Code {
		case ai.ErrRateLimited:
			message = "Too many requests to the model service. Please retry shortly."
		case ai.ErrTimeout:
			message = "The model service took too long to respond."
		case ai.ErrEmptyInput, ai.ErrInvalidInput:
			message = aiErr.Message
		case ai.ErrMissingAPIKey, ai.ErrAuthenticationFailed, ai.ErrAccessForbidden:
			message = "The model service is misconfigured. Check the API credentials."
		}
		if debug {
			details = gin.H{"upstream": aiErr.Message}
		}
	} else if debug {
		details = gin.H{"error": err.Error()}
	}

	RespondWithError(c, status, code, message, details)
}
