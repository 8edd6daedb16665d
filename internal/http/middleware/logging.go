// Package middleware holds the Gin middleware of the relay's HTTP surface:
// request correlation, access logging (plain and redacting), panic recovery,
// security headers, Prometheus instrumentation and Idempotency-Key handling.
//
// Order the chain RequestID, then an access logger, then Recovery, so panics
// are logged with the request's correlation id.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxQueryLogLength caps the logged query string in bytes.
	maxQueryLogLength = 2048
)

// Client-supplied ids outside this shape are replaced, so they cannot
// smuggle arbitrary text into log lines.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)

// RequestID keeps a well-formed incoming X-Request-ID or mints a UUIDv4, and
// exposes it both in the context and on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if !requestIDPattern.MatchString(id) {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Logger is the unredacted access logger, used when LOG_REDACT=false. It
// logs the route, client, masked query, sizes, status and latency of each
// request, plus gin errors when handlers recorded any.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		l := attachScopedLogger(c)
		bytesIn := c.Request.ContentLength // -1 when unknown
		query := truncate(scrubQuery(c.Request.URL.RawQuery, defaultMaskedParams), maxQueryLogLength)

		c.Next()

		ev := accessEvent(l, c)
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", query).
			Int64("bytes_in", bytesIn).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Bool("replayed", replayed(c)).
			Msg("request")
	}
}

// Recovery logs a panic with its stack. If the response is still unwritten
// it answers 500 with the JSON error envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				recovered(c, rec)
			}
		}()
		c.Next()
	}
}

func recovered(c *gin.Context, rec any) {
	rid := asString(c.Value(requestIDKey))
	log.Error().
		Interface("panic", rec).
		Bytes("stack", debug.Stack()).
		Str("request_id", rid).
		Str("chat_id", c.Param("id")).
		Msg("panic recovered")

	if c.Writer.Written() {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Header(requestIDHeader, rid)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"request_id": rid,
		"code":       "internal_error",
		"message":    "internal server error",
	})
}

// LoggerFrom returns the logger attached by the access logger, or the global
// logger when none ran. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if l, ok := c.Value(loggerKey).(*zerolog.Logger); ok {
		return l
	}
	l := log.Logger
	return &l
}

// attachScopedLogger stores a logger carrying request_id and chat_id for
// handlers to pick up through LoggerFrom.
func attachScopedLogger(c *gin.Context) *zerolog.Logger {
	l := log.With().
		Str("request_id", asString(c.Value(requestIDKey))).
		Str("chat_id", c.Param("id")).
		Logger()
	c.Set(loggerKey, &l)
	return &l
}

// accessEvent picks the level of an access line: error for 5xx or recorded
// gin errors, warn for 4xx, info otherwise.
func accessEvent(l *zerolog.Logger, c *gin.Context) *zerolog.Event {
	switch status := c.Writer.Status(); {
	case len(c.Errors) > 0, status >= 500:
		return l.Error()
	case status >= 400:
		return l.Warn()
	default:
		return l.Info()
	}
}

// routePath is the matched route pattern, or the raw path when unmatched.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func replayed(c *gin.Context) bool {
	return c.Writer.Header().Get(HeaderIdempotencyReplayed) == "true"
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate cuts s to max bytes and appends an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max] + "…"
	}
	return s
}
