// Package handlers implements the public HTTP endpoints.
//
// This file holds the response helpers every endpoint funnels through. All
// failures leave the server as an ErrorResponse with a stable code from
// errors.go, all 5xx failures are logged with the request-scoped logger,
// and successes are plain JSON bodies. One shape for everything keeps
// payment clients out of the business of parsing ad-hoc error strings:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "conflict",
//	  "message": "payment already processed"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coria/go-payments-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by all endpoints. RequestID
// echoes X-Request-ID so a client error can be matched to server logs,
// Code is machine-readable and stable, Message is safe to show to users.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"conflict"`
	Message   string `json:"message" example:"payment already processed"`
}

// fail aborts the request with the error envelope. Server-side failures
// (>= 500) additionally log through the request-scoped logger; client
// errors are already visible in the access log line.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail exposes fail to the router for NoRoute and NoMethod fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as JSON with the given status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent answers 204 for operations with nothing to return.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
