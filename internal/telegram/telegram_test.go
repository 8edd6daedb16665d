package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-shortlink-relay/internal/domain"
)

// fakeBotAPI records sendMessage/sendPhoto payloads and serves queued
// getUpdates batches.
type fakeBotAPI struct {
	mu        sync.Mutex
	updates   [][]Update
	offsets   []string
	sent      []map[string]any
	rejectFmt bool // answer 400 "can't parse entities" to formatted sends
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			f.offsets = append(f.offsets, r.URL.Query().Get("offset"))
			var batch []Update
			if len(f.updates) > 0 {
				batch, f.updates = f.updates[0], f.updates[1:]
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": batch})
		case strings.HasSuffix(r.URL.Path, "/sendMessage"), strings.HasSuffix(r.URL.Path, "/sendPhoto"):
			if !strings.Contains(r.URL.Path, "/botTOKEN/") {
				t.Errorf("token missing from path %q", r.URL.Path)
			}
			raw, _ := io.ReadAll(r.Body)
			var body map[string]any
			_ = json.Unmarshal(raw, &body)
			body["_method"] = r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			if f.rejectFmt && body["parse_mode"] != nil {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: unsupported start tag"}`))
				return
			}
			f.sent = append(f.sent, body)
			_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeBotAPI) sentCopy() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.sent...)
}

func newFake(t *testing.T) (*fakeBotAPI, *API) {
	t.Helper()
	f := &fakeBotAPI{}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return f, NewAPI(srv.Client(), srv.URL+"/", "TOKEN")
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []domain.IncomingMessage
	out  domain.Outcome
	err  error
}

func (h *recordingHandler) Handle(_ context.Context, m domain.IncomingMessage) (domain.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, m)
	return h.out, h.err
}

// ---------- API ----------

func TestGetUpdates_AdvancesOffset(t *testing.T) {
	f, api := newFake(t)
	f.updates = [][]Update{{{UpdateID: 10}, {UpdateID: 12}}}

	ups, next, err := api.GetUpdates(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(ups) != 2 || next != 13 {
		t.Fatalf("got %d updates next=%d", len(ups), next)
	}
	if _, next2, _ := api.GetUpdates(context.Background(), next, time.Second); next2 != 13 {
		t.Fatalf("empty batch must keep offset, got %d", next2)
	}
	if f.offsets[0] != "" || f.offsets[1] != "13" {
		t.Fatalf("offsets sent = %v", f.offsets)
	}
}

func TestGetUpdates_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, _, err := NewAPI(srv.Client(), srv.URL, "bad").GetUpdates(context.Background(), 5, time.Second)
	var re *RequestError
	if !errors.As(err, &re) || re.StatusCode != 401 || re.Description != "Unauthorized" {
		t.Fatalf("expected RequestError 401, got %v", err)
	}
}

func TestAPI_TransportErrorsOmitToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	api := NewAPI(&http.Client{Timeout: time.Second}, base, "123:BOTSECRET")
	_, _, pollErr := api.GetUpdates(context.Background(), 7, time.Second)
	sendErr := api.SendMessage(context.Background(), 1, "hi", "", nil)

	for name, err := range map[string]error{"getUpdates": pollErr, "sendMessage": sendErr} {
		if err == nil {
			t.Fatalf("%s: expected error against a closed port", name)
		}
		if strings.Contains(err.Error(), "BOTSECRET") {
			t.Fatalf("%s: bot token leaked in error: %v", name, err)
		}
		if !strings.HasPrefix(err.Error(), "telegram "+name+": ") {
			t.Fatalf("%s: unexpected error shape: %v", name, err)
		}
	}
}

func TestAPI_TruncatedBodyIsReadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte(`{"ok":true`))
	}))
	defer srv.Close()

	_, _, err := NewAPI(srv.Client(), srv.URL, "T").GetUpdates(context.Background(), 0, time.Second)
	if err == nil || !strings.Contains(err.Error(), "read getUpdates response") {
		t.Fatalf("expected read error, got %v", err)
	}
	if err := NewAPI(srv.Client(), srv.URL, "T").SendMessage(context.Background(), 1, "x", "", nil); err == nil || !strings.Contains(err.Error(), "read sendMessage response") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestIsParseError(t *testing.T) {
	if !IsParseError(&RequestError{Method: "sendMessage", StatusCode: 400, Description: "Bad Request: can't parse entities"}) {
		t.Fatalf("expected parse error")
	}
	if IsParseError(&RequestError{Description: "chat not found"}) || IsParseError(errors.New("x")) {
		t.Fatalf("unexpected parse error match")
	}
}

// ---------- Deliver ----------

func TestDeliver_PlainText(t *testing.T) {
	f, api := newFake(t)
	p := &Poller{API: api}

	if err := p.Deliver(context.Background(), 42, &domain.Reply{Text: "Shortened URLs:\n\nhttps://sho.rt/a"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	sent := f.sentCopy()
	if len(sent) != 1 || sent[0]["_method"] != "sendMessage" {
		t.Fatalf("unexpected sends: %v", sent)
	}
	if sent[0]["text"] != "Shortened URLs:\n\nhttps://sho.rt/a" || sent[0]["chat_id"].(float64) != 42 {
		t.Fatalf("unexpected payload: %v", sent[0])
	}
	if _, ok := sent[0]["parse_mode"]; ok {
		t.Fatalf("plain reply must not set parse_mode")
	}
}

func TestDeliver_SplitsLongText(t *testing.T) {
	f, api := newFake(t)
	p := &Poller{API: api}

	long := strings.Repeat("a", MaxMessageRunes+10)
	if err := p.Deliver(context.Background(), 1, &domain.Reply{Text: long}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	sent := f.sentCopy()
	if len(sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sent))
	}
	if len(sent[0]["text"].(string)) != MaxMessageRunes || len(sent[1]["text"].(string)) != 10 {
		t.Fatalf("unexpected split sizes")
	}
}

func TestDeliver_PhotoWithCaptionAndKeyboard(t *testing.T) {
	f, api := newFake(t)
	p := &Poller{API: api}

	rep := &domain.Reply{
		Text:      "<b>Hello</b>",
		ParseMode: domain.ParseModeHTML,
		PhotoURL:  "https://img/x.jpg",
		Keyboard:  [][]domain.Button{{{Text: "Get API Token", URL: "https://p/tools"}}},
	}
	if err := p.Deliver(context.Background(), 1, rep); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	sent := f.sentCopy()
	if len(sent) != 1 || sent[0]["_method"] != "sendPhoto" {
		t.Fatalf("unexpected sends: %v", sent)
	}
	if sent[0]["photo"] != "https://img/x.jpg" || sent[0]["caption"] != "<b>Hello</b>" || sent[0]["parse_mode"] != "HTML" {
		t.Fatalf("unexpected payload: %v", sent[0])
	}
	mk, _ := sent[0]["reply_markup"].(map[string]any)
	rows, _ := mk["inline_keyboard"].([]any)
	if len(rows) != 1 {
		t.Fatalf("expected keyboard with one row, got %v", mk)
	}
}

func TestDeliver_HTMLRejected_FallsBackToPlain(t *testing.T) {
	f, api := newFake(t)
	f.rejectFmt = true
	p := &Poller{API: api}

	rep := &domain.Reply{Text: "Updated Telegram Post:\n\n<oops", ParseMode: domain.ParseModeHTML}
	if err := p.Deliver(context.Background(), 1, rep); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	sent := f.sentCopy()
	if len(sent) != 1 || sent[0]["text"] != rep.Text {
		t.Fatalf("expected plain resend, got %v", sent)
	}
	if _, ok := sent[0]["parse_mode"]; ok {
		t.Fatalf("resend must drop parse_mode")
	}
}

// ---------- Run ----------

func TestRun_DispatchesAndReplies(t *testing.T) {
	f, api := newFake(t)
	f.updates = [][]Update{{
		{UpdateID: 1, Message: &Message{Chat: &Chat{ID: 42}, From: &User{Username: "bob"}, Text: "check https://x.io/page"}},
		// no text, then not a message: both skipped
		{UpdateID: 2, Message: &Message{Chat: &Chat{ID: 42}, Text: ""}},
		{UpdateID: 3},
	}}
	h := &recordingHandler{out: domain.Outcome{Route: domain.RouteList, Reply: &domain.Reply{Text: "Shortened URLs:\n\nhttps://sho.rt/a"}}}
	p := &Poller{API: api, Handler: h, PollTimeout: time.Second, RetryDelay: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(f.sentCopy()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.msgs) != 1 {
		t.Fatalf("expected 1 handled message, got %d", len(h.msgs))
	}
	if m := h.msgs[0]; m.ChatID != "42" || m.Username != "bob" || m.Text != "check https://x.io/page" {
		t.Fatalf("unexpected incoming message: %+v", m)
	}
	sent := f.sentCopy()
	if len(sent) != 1 || sent[0]["text"] != "Shortened URLs:\n\nhttps://sho.rt/a" {
		t.Fatalf("unexpected sends: %v", sent)
	}
}

func TestRun_HandlerErrorAndIgnoredSendNothing(t *testing.T) {
	f, api := newFake(t)
	f.updates = [][]Update{{
		{UpdateID: 1, Message: &Message{Chat: &Chat{ID: 1}, Text: "/setapi X"}},
	}}
	h := &recordingHandler{err: errors.New("disk full")}
	p := &Poller{API: api, Handler: h, PollTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		n := len(h.msgs)
		h.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if len(f.sentCopy()) != 0 {
		t.Fatalf("no reply expected on handler error")
	}
}

func TestKeyboardMarkup_Empty(t *testing.T) {
	if keyboardMarkup(nil) != nil {
		t.Fatalf("expected nil markup")
	}
}
