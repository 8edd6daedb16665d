// Package telegram is the Bot API transport: a long-polling update loop that
// feeds chat messages to the router and delivers its replies.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxMessageRunes is the Bot API limit for a text message.
const MaxMessageRunes = 4096

// MaxCaptionRunes is the Bot API limit for a photo caption.
const MaxCaptionRunes = 1024

// API is a minimal Bot API client.
type API struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewAPI returns a client for the bot identified by token. A nil httpClient
// gets a fresh one sized for long polling.
func NewAPI(httpClient *http.Client, baseURL, token string) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &API{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// Update is a subset of the Bot API Update object.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is a subset of the Bot API Message object.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      *Chat  `json:"chat,omitempty"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Chat identifies the conversation.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// User is the message sender.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// InlineKeyboardButton opens URL when pressed.
type InlineKeyboardButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// InlineKeyboardMarkup is attached to a message as reply_markup.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type getUpdatesResponse struct {
	OK          bool     `json:"ok"`
	Result      []Update `json:"result"`
	Description string   `json:"description,omitempty"`
}

type okResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

type sendMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type sendPhotoRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Photo       string                `json:"photo"`
	Caption     string                `json:"caption,omitempty"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// RequestError is a failed Bot API call.
type RequestError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *RequestError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = "request failed"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("telegram %s http %d: %s", e.Method, e.StatusCode, desc)
	}
	return fmt.Sprintf("telegram %s: %s", e.Method, desc)
}

// IsParseError reports whether err is the Bot API rejecting formatted text.
func IsParseError(err error) bool {
	var re *RequestError
	if !errors.As(err, &re) {
		return false
	}
	d := strings.ToLower(re.Description)
	return strings.Contains(d, "can't parse entities") || strings.Contains(d, "can't find end of the entity")
}

// GetUpdates long-polls for updates at or after offset and returns them along
// with the next offset to ask for.
func (api *API) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d", api.baseURL, api.token, secs)
	if offset > 0 {
		endpoint += fmt.Sprintf("&offset=%d", offset)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, offset, transportError("getUpdates", err)
	}
	resp, err := api.http.Do(req)
	if err != nil {
		return nil, offset, transportError("getUpdates", err)
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, offset, fmt.Errorf("read getUpdates response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, offset, &RequestError{Method: "getUpdates", StatusCode: resp.StatusCode, Description: describe(raw)}
	}

	var out getUpdatesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, offset, fmt.Errorf("decode getUpdates: %w", err)
	}
	if !out.OK {
		return nil, offset, &RequestError{Method: "getUpdates", Description: out.Description}
	}

	next := offset
	for _, u := range out.Result {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return out.Result, next, nil
}

// SendMessage posts text to chatID. parseMode and markup are optional.
func (api *API) SendMessage(ctx context.Context, chatID int64, text, parseMode string, markup *InlineKeyboardMarkup) error {
	return api.post(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: markup,
	})
}

// SendPhoto posts the photo at photoURL with an optional caption.
func (api *API) SendPhoto(ctx context.Context, chatID int64, photoURL, caption, parseMode string, markup *InlineKeyboardMarkup) error {
	return api.post(ctx, "sendPhoto", sendPhotoRequest{
		ChatID:      chatID,
		Photo:       photoURL,
		Caption:     caption,
		ParseMode:   parseMode,
		ReplyMarkup: markup,
	})
}

func (api *API) post(ctx context.Context, method string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", api.baseURL, api.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return transportError(method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := api.http.Do(req)
	if err != nil {
		return transportError(method, err)
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var ok okResponse
	_ = json.Unmarshal(raw, &ok)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		desc := ok.Description
		if desc == "" {
			desc = strings.TrimSpace(string(raw))
		}
		return &RequestError{Method: method, StatusCode: resp.StatusCode, Description: desc}
	}
	if !ok.OK {
		return &RequestError{Method: method, Description: ok.Description}
	}
	return nil
}

// transportError drops the request URL from err; the bot token is a path
// segment and must not reach the logs.
func transportError(method string, err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("telegram %s: %s: %w", method, ue.Op, ue.Err)
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}

func describe(raw []byte) string {
	var ok okResponse
	if err := json.Unmarshal(raw, &ok); err == nil && ok.Description != "" {
		return ok.Description
	}
	return strings.TrimSpace(string(raw))
}
