// Message HTTP handlers.
//
// This file exposes the REST entry point of the message router:
//   - POST /chats/{id}/messages   (route one message for a chat and return the reply)
//
// It lets non-Telegram clients drive the same pipeline the bot runs for each
// update: /setapi, /start, list mode and rewrite mode.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (chat, key), the handler returns the recorded outcome and
// sets `Idempotency-Replayed: true` without contacting the shortening provider.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-shortlink-relay/internal/domain"
	"github.com/tbourn/go-shortlink-relay/internal/http/middleware"
	"github.com/tbourn/go-shortlink-relay/internal/services"
)

// maxMessageRunes mirrors the Telegram limit for one text message.
const maxMessageRunes = 4096

//
// DTOs
//

// PostMessageRequest is the JSON payload for routing a chat message.
type PostMessageRequest struct {
	// Text is the raw message text, exactly as the chat user typed it.
	Text string `json:"text" binding:"required" example:"check https://example.com/page"`
	// Username is used to greet the user on /start.
	Username string `json:"username,omitempty" example:"alice"`
}

// PostMessageResponse is the JSON envelope for a routed message.
type PostMessageResponse struct {
	// Route is the classification the message received.
	Route domain.Route `json:"route" example:"list"`
	// Reply is omitted when the message was ignored.
	Reply *domain.Reply `json:"reply,omitempty"`
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Route a chat message
// @Description Classifies the message (/setapi, /start, URL list, post rewrite, ignored),
// @Description shortens any URLs with the chat's stored credential, and returns the reply.
// @Description Supports idempotency via the Idempotency-Key header (same key → same reply).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Chat ID"  example(42)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     200  {object}  handlers.PostMessageResponse  "Routing outcome"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()

	chatID, valid := chatIDParam(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid chat id")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}
	if utf8.RuneCountInString(req.Text) > maxMessageRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text too long")
		return
	}

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.idem != nil {
		prev, found, err := h.idem.Lookup(ctx, chatID, idemKey, time.Now().UTC())
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
		}
		if found {
			c.Header(middleware.HeaderIdempotencyReplayed, "true")
			ok(c, http.StatusOK, PostMessageResponse{Route: prev.Route, Reply: prev.Reply})
			return
		}
	}

	out, err := h.router.Handle(ctx, domain.IncomingMessage{
		ChatID:   chatID,
		Username: strings.TrimSpace(req.Username),
		Text:     req.Text,
	})
	if err != nil {
		if out.Route == domain.RouteSetCredential {
			failWith(c, http.StatusInternalServerError, ErrCodeStoreFailed, "could not store credential", err)
			return
		}
		failWith(c, http.StatusInternalServerError, ErrCodeHandleFailed, "could not process message", err)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && h.idem != nil {
		if err := h.idem.Save(ctx, chatID, idemKey, out, h.idemTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency save failed")
		}
	}

	ok(c, http.StatusOK, PostMessageResponse{Route: out.Route, Reply: out.Reply})
}

// CredentialRequest is the JSON payload for setting a chat's credential.
type CredentialRequest struct {
	// Credential is the shortening provider API token, stored verbatim.
	Credential string `json:"credential" binding:"required" example:"ABC123"`
}

// PutCredential godoc
// @ID          putCredential
// @Summary     Set the shortening credential for a chat
// @Description Equivalent to sending "/setapi <credential>" from the chat. Last write wins.
// @Tags        Credentials
// @Accept      json
//
// @Param       id    path  string                        true  "Chat ID"  example(42)
// @Param       body  body  handlers.CredentialRequest    true  "Credential payload"
//
// @Success     204  "Stored"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats/{id}/credential [put]
func (h *Handlers) PutCredential(c *gin.Context) {
	chatID, valid := chatIDParam(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid chat id")
		return
	}

	var req CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "credential required")
		return
	}

	if err := h.router.SetCredential(c.Request.Context(), chatID, req.Credential); err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyCredential):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "credential required")
		default:
			failWith(c, http.StatusInternalServerError, ErrCodeStoreFailed, "could not store credential", err)
		}
		return
	}
	noContent(c)
}
