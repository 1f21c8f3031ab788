// Package handlers implements the HTTP endpoints of the rates API: rule
// mutations per hotel, materialized rate reads and recomputation job
// inspection.
//
// Every failure is written as an ErrorResponse with a stable code (see
// errors.go). Handlers stay transport-thin: they parse the request, call a
// service and translate service sentinels into statuses in writeServiceError.
//
// Example error response:
//
//	HTTP/1.1 422 Unprocessable Entity
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "derivation_cycle",
//	  "message": "validation failed: derived rate plans would form a cycle: bar -> nr -> bar"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rate-engine/internal/http/middleware"
	"github.com/tbourn/go-rate-engine/internal/services"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code"`
	// Human-readable message
	Message string `json:"message"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail, used by the router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// writeServiceError maps a service error onto status and code. The cycle
// check precedes the generic validation check because ErrDerivationCycle
// wraps ErrValidation.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrDerivationCycle):
		fail(c, http.StatusUnprocessableEntity, ErrCodeDerivationCycle, err.Error())
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, services.ErrHotelNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "hotel not found")
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
	case errors.Is(err, services.ErrInvalidJobState):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrQueueUnavailable):
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeDispatchFailed, "rule not saved: recomputation queue unavailable, retry")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
