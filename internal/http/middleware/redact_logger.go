// RedactingLogger is the default access logger. Bodies are never logged.
// Query strings and header values pass through two filters before they
// reach zerolog: credential-bearing names are masked outright, and anything
// left is scanned for identifiers (UUIDs, emails, phone numbers).
//
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-API-Key"},
//	}))

package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions extends the built-in mask sets. Names are case-insensitive.
type RedactOptions struct {
	// MaskHeaders are replaced with "[REDACTED]" in addition to
	// Authorization, Cookie and Set-Cookie.
	MaskHeaders []string
	// MaskQueryParams are replaced with "[REDACTED]" in addition to
	// defaultMaskedParams.
	MaskQueryParams []string
}

// defaultMaskedParams are query parameters that carry shortening credentials.
var defaultMaskedParams = map[string]struct{}{
	"api":        {},
	"token":      {},
	"credential": {},
}

var defaultMaskedHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
}

// Applied in this order; the phone pattern is loose enough to eat UUID
// segments if it ran first.
var piiPatterns = []struct {
	re  *regexp.Regexp
	tag string
}{
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

func redactPII(s string) string {
	for _, p := range piiPatterns {
		if s == "" {
			break
		}
		s = p.re.ReplaceAllString(s, p.tag)
	}
	return s
}

// maskSet merges base with extra, lower-cased and trimmed.
func maskSet(base map[string]struct{}, extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(base)+len(extra))
	for k := range base {
		out[k] = struct{}{}
	}
	for _, e := range extra {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			out[e] = struct{}{}
		}
	}
	return out
}

// scrubQuery masks the values of the named parameters in rawQuery. A query
// that does not parse is replaced wholesale.
func scrubQuery(rawQuery string, names map[string]struct{}) string {
	if rawQuery == "" {
		return ""
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "[REDACTED:unparsable]"
	}
	masked := false
	for k := range q {
		if _, ok := names[strings.ToLower(k)]; ok {
			q[k] = []string{"[REDACTED]"}
			masked = true
		}
	}
	if !masked {
		return rawQuery
	}
	return q.Encode()
}

// RedactingLogger logs one "http_request" line per request with the scrubbed
// query and request headers. It also attaches a request-scoped logger
// (request_id, chat_id) for LoggerFrom. The request_id field prefers the
// response header set by RequestID and falls back to the incoming header.
// Level is warn for 4xx and error for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	headers := maskSet(defaultMaskedHeaders, opts.MaskHeaders)
	params := maskSet(defaultMaskedParams, opts.MaskQueryParams)

	return func(c *gin.Context) {
		start := time.Now()

		query := redactPII(scrubQuery(c.Request.URL.RawQuery, params))
		attachScopedLogger(c)

		hdrs := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, masked := headers[strings.ToLower(k)]; masked {
				hdrs[k] = "[REDACTED]"
			} else {
				hdrs[k] = redactPII(strings.Join(vv, ", "))
			}
		}

		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		if status >= 500 {
			ev = log.Error()
		} else if status >= 400 {
			ev = log.Warn()
		}

		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}
		ev.
			Str("request_id", reqID).
			Str("chat_id", c.Param("id")).
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Str("query", truncate(query, maxQueryLogLength)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Bool("replayed", replayed(c)).
			Interface("headers", hdrs).
			Msg("http_request")
	}
}
