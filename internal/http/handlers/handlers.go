// Package handlers provides HTTP handler implementations for the public API.
//
// This file declares the service contracts the handlers depend on, the
// Handlers wiring type, and the small endpoints that need no service:
//   - GET /         (plain-text liveness page)
//   - GET /health   (JSON liveness probe)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-shortlink-relay/internal/domain"
)

//
// Service contracts (context-aware)
//

// MessageRouter classifies and processes chat messages. It is implemented by
// services.RouterService and is shared with the Telegram transport.
type MessageRouter interface {
	// Handle routes one message and returns the reply to send back, if any.
	Handle(ctx context.Context, msg domain.IncomingMessage) (domain.Outcome, error)
	// SetCredential stores the shortening credential for chatID.
	SetCredential(ctx context.Context, chatID, credential string) error
}

// IdempotencyStore persists the outcome of a keyed message request so a retry
// can be answered without calling the shortening provider again.
type IdempotencyStore interface {
	// Lookup returns the stored outcome for (chatID, key), or ok=false when no
	// live record exists.
	Lookup(ctx context.Context, chatID, key string, now time.Time) (domain.Outcome, bool, error)
	// Save records out under (chatID, key) for ttl.
	Save(ctx context.Context, chatID, key string, out domain.Outcome, ttl time.Duration) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the relay. Idempotency support is
// optional: with a nil store every request is processed normally.
type Handlers struct {
	router  MessageRouter
	idem    IdempotencyStore
	idemTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
// A non-positive idemTTL defaults to 24h.
func New(router MessageRouter, idem IdempotencyStore, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{router: router, idem: idem, idemTTL: idemTTL}
}

// maxChatIDLen matches the width of the credentials.chat_id column.
const maxChatIDLen = 64

// chatIDParam returns the trimmed :id route parameter and whether it is
// usable as a chat identity.
func chatIDParam(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" || len(id) > maxChatIDLen || strings.ContainsAny(id, " \t\r\n/") {
		return id, false
	}
	return id, true
}

// Home godoc
// @ID          home
// @Summary     Liveness page
// @Description Plain-text page kept for uptime monitors that ping the bot host.
// @Tags        Health
// @Produce     plain
// @Success     200  {string}  string  "Hello World!"
// @Router      / [get]
func (h *Handlers) Home(c *gin.Context) {
	c.String(http.StatusOK, "Hello World!")
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Health
// @Produce     json
// @Success     200  {object}  map[string]string
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}
