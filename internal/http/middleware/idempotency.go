// Package middleware holds the Gin middleware shared across the HTTP API.
//
// This file validates the Idempotency-Key header that payment creation
// relies on for safe retries. The middleware owns transport concerns only:
// it checks the header's shape, stashes the key in the Gin context, and
// asks a caller-supplied lookup whether a completed request already exists
// for this (user, key) pair. Persistence of idempotency records and replay
// of the stored payment stay with the handlers and the repo layer.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header clients send with POST
// /payments so that network and client retries deduplicate onto one
// payment instead of charging twice.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys for idempotency state, read through the accessors below.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated key stashed by
// IdempotencyValidator, with ok reporting presence. Handlers should use
// this instead of re-reading the header.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether this request duplicates a previously completed
// one. Handlers serve the stored result rather than re-executing.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation. TTL is not enforced
// here; the lookup decides whether a stored record is still live.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length; values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Nil falls back to a token
	// pattern of letters, digits, and ._~-: punctuation.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a completed, still-valid request exists
// for (userID, key) at now. Lookup failures must not block processing, so
// errors are treated the same as a miss.
type IdempotencyLookup func(ctx context.Context, userID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator returns the Gin middleware. Requests without the
// header pass through untouched. A malformed key is rejected with 400
// before any handler runs. On a lookup hit the request is flagged as a
// replay and marked to bypass the edge rate limiter, since serving a
// stored result costs nothing and throttling it would push clients into
// retrying the mutation itself.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			uid := userIDFromCtx(c)
			if exists, _ := lookup(c.Request.Context(), uid, key, time.Now().UTC()); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// userIDFromCtx derives the caller identity the same way the handlers do:
// the "userID" context value set by auth middleware, then the X-User-ID
// header, then the development fallback. The orders must stay aligned or
// replay detection would key records under a different user than the
// handler stores them for.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}
