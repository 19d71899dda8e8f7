package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/meditrack/reminder-api/pkg/errors"
	"github.com/meditrack/reminder-api/pkg/logger"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// ErrorHandler converts errors attached to the gin context into a
// response, mapping application error codes to HTTP statuses.
func ErrorHandler(lg *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			lg.Error(e.Err, "request error",
				"request_id", requestID,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		}

		lastErr := c.Errors.Last()
		status := statusForError(lastErr.Err)
		c.JSON(status, ErrorResponse{
			Code:    status,
			Message: lastErr.Error(),
			TraceID: requestID,
		})
	}
}

func statusForError(err error) int {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrBadRequest, apperrors.ErrValidation:
		return http.StatusBadRequest
	case apperrors.ErrRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrConflictDetected:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
