package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-shortlink-relay/internal/domain"
)

// newDB gives the redaction tests the same schema the router runs against.
func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:redactlog?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Credential{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func withCapturedLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func mustContain(t *testing.T, logs string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		if !strings.Contains(logs, w) {
			t.Fatalf("missing %s in logs: %s", w, logs)
		}
	}
}

func TestRedactingLogger_ScrubsQueryAndHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_ = newDB(t)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-resp")
		c.Next()
	})
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/chats/:id/info", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	q := "email=a.b+tag@example.com&phone=+1-555-123-4567&id=123e4567-e89b-12d3-a456-426614174000"
	req := httptest.NewRequest(http.MethodGet, "/chats/9/info?"+q, nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("X-Api-Key", "shhh")
	req.Header.Set("X-Custom", "email a@b.com id=123e4567-e89b-12d3-a456-426614174000 phone 555-123-4567")
	req.Header.Set("X-Request-ID", "rid-req")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	mustContain(t, buf.String(),
		`"level":"info"`,
		`"path":"/chats/:id/info"`,
		`"chat_id":"9"`,
		`"request_id":"rid-resp"`,
		`[REDACTED:email]`, `[REDACTED:phone]`, `[REDACTED:id]`,
		`"Authorization":"[REDACTED]"`,
		`"Cookie":"[REDACTED]"`,
		`"X-Api-Key":"[REDACTED]"`,
		`"X-Custom":"email [REDACTED:email] id=[REDACTED:id] phone [REDACTED:phone]"`,
		`"replayed":false`,
	)
	if strings.Contains(buf.String(), "topsecret") || strings.Contains(buf.String(), "shhh") {
		t.Fatalf("secret header leaked: %s", buf.String())
	}
}

func TestRedactingLogger_LevelsAndRequestIDFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/error", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for path, rid := range map[string]string{"/warn": "rid-warn", "/error": "rid-err"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Request-ID", rid)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		switch {
		case strings.Contains(line, `"request_id":"rid-warn"`):
			mustContain(t, line, `"level":"warn"`)
		case strings.Contains(line, `"request_id":"rid-err"`):
			mustContain(t, line, `"level":"error"`)
		default:
			t.Fatalf("unexpected line: %s", line)
		}
	}
}

func TestRedactPII_UUIDBeforePhone(t *testing.T) {
	got := redactPII("id 123e4567-e89b-12d3-a456-426614174000")
	if got != "id [REDACTED:id]" {
		t.Fatalf("redactPII = %q", got)
	}
	if redactPII("") != "" {
		t.Fatalf("empty input must stay empty")
	}
}

func TestRedactingLogger_MasksCredentialQueryParams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	buf := withCapturedLogger(t)

	r.Use(RedactingLogger(RedactOptions{MaskQueryParams: []string{"Secret"}}))
	r.GET("/st", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/st?api=abc123key&url=https%3A%2F%2Fx.io&secret=zz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	logs := buf.String()
	if strings.Contains(logs, "abc123key") || strings.Contains(logs, "secret=zz") {
		t.Fatalf("credential leaked into logs: %s", logs)
	}
	if !strings.Contains(logs, "api=%5BREDACTED%5D") || !strings.Contains(logs, "secret=%5BREDACTED%5D") {
		t.Fatalf("expected masked params, got: %s", logs)
	}
	if !strings.Contains(logs, "url=https%3A%2F%2Fx.io") {
		t.Fatalf("non-sensitive params must survive: %s", logs)
	}
}

func TestRedactingLogger_AttachesRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	buf := withCapturedLogger(t)

	r.Use(RequestID(), RedactingLogger(RedactOptions{}))
	r.POST("/chats/:id/messages", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("handler_log")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/chats/77/messages", nil)
	req.Header.Set("X-Request-ID", "rid-77")
	r.ServeHTTP(httptest.NewRecorder(), req)

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, "handler_log") {
			if !strings.Contains(line, `"request_id":"rid-77"`) || !strings.Contains(line, `"chat_id":"77"`) {
				t.Fatalf("handler log missing request fields: %s", line)
			}
			return
		}
	}
	t.Fatalf("handler log not emitted: %s", buf.String())
}

func TestScrubQuery(t *testing.T) {
	names := map[string]struct{}{"api": {}}
	if got := scrubQuery("", names); got != "" {
		t.Fatalf("empty query = %q", got)
	}
	if got := scrubQuery("a=1&b=2", names); got != "a=1&b=2" {
		t.Fatalf("untouched query changed: %q", got)
	}
	if got := scrubQuery("API=k", names); got != "API=%5BREDACTED%5D" {
		t.Fatalf("case-insensitive mask failed: %q", got)
	}
	if got := scrubQuery("a=%zz", names); got != "[REDACTED:unparsable]" {
		t.Fatalf("unparsable query = %q", got)
	}
}
