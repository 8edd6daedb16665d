package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// responseRouter installs a request id and a buffer-backed request logger.
func responseRouter(buf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	lg := zerolog.New(buf)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-1")
		c.Set("logger", &lg)
		c.Next()
	})
	return r
}

func TestFailEnvelopeAndLogLevel(t *testing.T) {
	for _, tc := range []struct {
		status int
		code   string
		level  string
	}{
		{http.StatusBadRequest, ErrCodeBadRequest, "debug"},
		{http.StatusNotFound, ErrCodeNotFound, "debug"},
		{http.StatusInternalServerError, ErrCodeInternal, "error"},
		{http.StatusBadGateway, ErrCodeHandleFailed, "error"},
	} {
		var buf bytes.Buffer
		r := responseRouter(&buf)
		r.GET("/x", func(c *gin.Context) { Fail(c, tc.status, tc.code, "msg-"+tc.code) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

		var er ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
			t.Fatalf("%d: body %q: %v", tc.status, w.Body.String(), err)
		}
		want := ErrorResponse{RequestID: "rid-1", Code: tc.code, Message: "msg-" + tc.code}
		if w.Code != tc.status || er != want {
			t.Errorf("%d: got %d %+v", tc.status, w.Code, er)
		}
		if !strings.Contains(buf.String(), `"level":"`+tc.level+`"`) {
			t.Errorf("%d: expected %s log, got %s", tc.status, tc.level, buf.String())
		}
	}
}

func TestFailWith_LogsCauseButHidesIt(t *testing.T) {
	var buf bytes.Buffer
	r := responseRouter(&buf)
	r.GET("/x", func(c *gin.Context) {
		failWith(c, http.StatusInternalServerError, ErrCodeHandleFailed, "could not process message",
			errors.New("GET https://sho.rt/api?api=SECRET: timeout"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if strings.Contains(w.Body.String(), "SECRET") {
		t.Fatalf("cause leaked to client: %s", w.Body.String())
	}
	if !strings.Contains(buf.String(), "timeout") || !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("cause not logged: %s", buf.String())
	}
}

func TestSuccessHelpers(t *testing.T) {
	var buf bytes.Buffer
	r := responseRouter(&buf)
	r.GET("/ok", func(c *gin.Context) {
		ok(c, http.StatusOK, PostMessageResponse{Route: "list"})
	})
	r.PUT("/none", func(c *gin.Context) { noContent(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"route":"list"`) {
		t.Fatalf("ok: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/none", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("noContent: %d %q", w.Code, w.Body.String())
	}
}
