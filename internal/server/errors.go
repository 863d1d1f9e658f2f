package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/smallbiznis/usageguard/internal/dedup"
	frauddomain "github.com/smallbiznis/usageguard/internal/fraud/domain"
	ingestdomain "github.com/smallbiznis/usageguard/internal/ingest/domain"
	meterdomain "github.com/smallbiznis/usageguard/internal/meter/domain"
	"github.com/smallbiznis/usageguard/internal/ratelimit"
)

// ErrInvalidRequest covers malformed request bodies and parameters.
var ErrInvalidRequest = errors.New("invalid_request")

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware renders the last handler error after the chain
// finishes, unless a response was already written.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

// AbortWithError records the error for the middleware to render.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, meterdomain.ErrUnknownMetric):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "unknown metric"}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	case errors.Is(err, meterdomain.ErrMissingProperty):
		// Catalog misconfiguration, not a client mistake.
		return http.StatusInternalServerError, errorPayload{Type: "configuration_error", Message: "metric has no aggregation property configured"}
	case errors.Is(err, dedup.ErrStoreUnavailable),
		errors.Is(err, ratelimit.ErrStoreUnavailable),
		errors.Is(err, frauddomain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "backing store unavailable"}
	case errors.Is(err, ingestdomain.ErrBatchTooLarge):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "batch exceeds maximum size"}
	case errors.Is(err, dedup.ErrEmptyTransactionID),
		errors.Is(err, ratelimit.ErrEmptyCustomerID),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

// classifyErrorForLog feeds the request logger; mirrors mapError buckets.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, err.Error()
}
