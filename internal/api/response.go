package api

import (
	"errors"
	"net/http"

	"chatedit/server/internal/dispatch"
	"chatedit/server/internal/model"
	"chatedit/server/internal/store"

	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"data":     data,
		"trace_id": traceIDFromContext(c),
	})
}

func writeError(c *gin.Context, status int, code, message string, retryable bool, details map[string]any) {
	c.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			Retryable: retryable,
			Details:   details,
		},
		"trace_id": traceIDFromContext(c),
	})
}

func writeUnauthorized(c *gin.Context) {
	writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", false, nil)
}

// writeServiceError maps service errors onto the error envelope. what names
// the resource for not-found responses, e.g. "MEDIA".
func writeServiceError(c *gin.Context, what string, err error) {
	var (
		verr        *model.ValidationError
		unsupported *model.UnsupportedActionError
	)
	switch {
	case errors.As(err, &verr):
		writeError(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED", verr.Error(), false, map[string]any{
			"action": verr.Action,
			"fields": verr.Fields,
		})
	case errors.As(err, &unsupported):
		writeError(c, http.StatusUnprocessableEntity, "UNSUPPORTED_ACTION", model.UnsupportedMessage, false, map[string]any{
			"action": unsupported.Action,
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, what+"_NOT_FOUND", "Not found", false, nil)
	case errors.Is(err, store.ErrForbidden):
		writeError(c, http.StatusForbidden, "FORBIDDEN", "No access to "+lowerName(what), false, nil)
	case errors.Is(err, store.ErrBadRequest):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
	case errors.Is(err, store.ErrConflict):
		writeError(c, http.StatusConflict, "CONFLICT", err.Error(), false, nil)
	case errors.Is(err, dispatch.ErrTooManyRunning):
		writeError(c, http.StatusTooManyRequests, "USER_OPERATION_LIMIT", "Too many running operations", true, nil)
	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", true, nil)
	}
}

func lowerName(what string) string {
	switch what {
	case "MEDIA":
		return "media"
	case "OPERATION":
		return "operation"
	case "VERSION":
		return "version"
	}
	return "resource"
}
