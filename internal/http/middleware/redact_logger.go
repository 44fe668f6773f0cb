// Package middleware holds the Gin middleware shared across the HTTP API.
//
// This file implements RedactingLogger, a structured access logger that scrubs
// identifying values from request metadata before anything reaches the logs.
// Payment traffic routinely carries wallet addresses, transaction signatures,
// and payment IDs in query strings and headers; none of that belongs in log
// storage verbatim.
//
// What it does:
//   - Never logs request or response bodies.
//   - Pattern-redacts emails, phone numbers, UUIDs, and long base58 runs
//     (wallet addresses and transaction signatures) from query strings and
//     header values.
//   - Fully masks Authorization, Cookie, Set-Cookie, and any headers listed
//     in RedactOptions.MaskHeaders.
//   - Emits one zerolog JSON line per request, leveled by outcome
//     (info for 2xx/3xx, warn for 4xx, error for 5xx).
//
// Redaction reduces exposure; it does not make logs a safe place for secrets.
// Clients should still keep credentials out of query strings.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Ordering matters when these are applied: UUIDs first (hyphenated digit runs
// would otherwise feed the phone pattern), then base58 runs (hex-free, so they
// must go before the looser patterns), then email, then phone.
var (
	scrubUUID = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	// Base58 alphabet, 32..90 chars: covers wallet addresses and tx signatures.
	scrubAddr  = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,90}\b`)
	scrubEmail = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits-only phone shapes like "+1 212-555-1212" or "(212) 555-1212".
	scrubPhone = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

func scrub(s string) string {
	if s == "" {
		return s
	}
	s = scrubUUID.ReplaceAllString(s, "[REDACTED:id]")
	s = scrubAddr.ReplaceAllString(s, "[REDACTED:addr]")
	s = scrubEmail.ReplaceAllString(s, "[REDACTED:email]")
	s = scrubPhone.ReplaceAllString(s, "[REDACTED:phone]")
	return s
}

// RedactOptions configures extra scrub behavior for RedactingLogger.
// MaskHeaders lists additional header names (case-insensitive) whose values
// are replaced wholesale with "[REDACTED]", on top of the built-in set
// (Authorization, Cookie, Set-Cookie).
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger returns a Gin middleware that logs method, route path,
// scrubbed query string, status, response size, latency, and scrubbed request
// headers. The request ID is taken from the X-Request-ID response header when
// present, falling back to the request header.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := scrub(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = scrub(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
