// Package services – RouterService
//
// This file implements the message router. Each incoming chat message is
// classified once, first match wins:
//
//  1. /start              welcome message with links keyboard
//  2. /setapi <token>     store the chat's credential
//  3. any URL candidate   list mode (reply with the short links)
//  4. post marker present rewrite mode (reply with the rewritten post)
//  5. anything else       ignored, no reply
//
// Commands are matched case-insensitively and accept the "/cmd@BotName" form.
// Engine errors that have a user-facing meaning become replies; only storage
// faults on credential writes are returned as errors.
package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"

	"github.com/tbourn/go-shortlink-relay/internal/domain"
)

// User-facing replies.
const (
	MsgMissingCredential = "Please set your API token first using: /setapi YOUR_API_TOKEN"
	MsgBatchEmpty        = "Failed to shorten the URLs. Please check your API token."
	MsgNoCandidates      = "No valid links found in the Telegram post."

	listHeader    = "Shortened URLs:\n\n"
	rewriteHeader = "Updated Telegram Post:\n\n"
)

const (
	cmdStart  = "/start"
	cmdSetAPI = "/setapi"
)

var routedMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bot_messages_total",
		Help: "Total number of routed chat messages by route.",
	},
	[]string{"route"},
)

func init() {
	prometheus.MustRegister(routedMessages)
	// Pre-create the route series so they export as zero.
	for _, r := range []domain.Route{domain.RouteIgnored, domain.RouteStart, domain.RouteSetCredential, domain.RouteList, domain.RouteRewrite} {
		routedMessages.WithLabelValues(string(r))
	}
}

// Extractor finds URL candidates in message text.
type Extractor interface {
	Extract(text string) []string
}

// Batcher runs shortening batches; implemented by *BatchService.
type Batcher interface {
	List(ctx context.Context, chatID string, candidates []string) ([]string, error)
	Rewrite(ctx context.Context, chatID, text string, candidates []string) (string, error)
}

// Welcome configures the /start reply. Empty URLs drop their button.
type Welcome struct {
	PhotoURL        string
	AdminChatURL    string
	PaymentProofURL string
	TokenPageURL    string
}

// RouterService classifies incoming messages and produces their replies.
type RouterService struct {
	Store     CredentialStore
	Batch     Batcher
	Extractor Extractor

	// PostMarker identifies forwarded posts for rewrite mode (e.g. "t.me/").
	PostMarker string
	// ProviderName is shown in the welcome and confirmation replies.
	ProviderName string
	Welcome      Welcome
}

// Handle routes msg and returns the outcome to deliver back to the chat.
func (s *RouterService) Handle(ctx context.Context, msg domain.IncomingMessage) (domain.Outcome, error) {
	ctx, span := otel.Tracer("services/RouterService").Start(ctx, "Handle",
		trace.WithAttributes(attribute.String("chat.id", msg.ChatID)),
	)
	defer span.End()

	out, err := s.route(ctx, msg)
	span.SetAttributes(attribute.String("bot.route", string(out.Route)))
	if err != nil {
		span.RecordError(err)
		return out, err
	}
	routedMessages.WithLabelValues(string(out.Route)).Inc()
	return out, nil
}

func (s *RouterService) route(ctx context.Context, msg domain.IncomingMessage) (domain.Outcome, error) {
	text := msg.Text
	if strings.TrimSpace(text) == "" {
		return domain.Outcome{Route: domain.RouteIgnored}, nil
	}

	cmd, arg := splitCommand(text)
	switch normalizeCommand(cmd) {
	case cmdStart:
		return domain.Outcome{Route: domain.RouteStart, Reply: s.welcomeReply(msg.Username)}, nil
	case cmdSetAPI:
		if arg != "" {
			if err := s.SetCredential(ctx, msg.ChatID, arg); err != nil {
				return domain.Outcome{Route: domain.RouteSetCredential}, err
			}
			return domain.Outcome{
				Route: domain.RouteSetCredential,
				Reply: &domain.Reply{Text: s.confirmation(arg)},
			}, nil
		}
	}

	candidates := s.Extractor.Extract(text)
	if len(candidates) > 0 {
		return s.list(ctx, msg.ChatID, candidates)
	}
	if s.PostMarker != "" && strings.Contains(text, s.PostMarker) {
		return s.rewrite(ctx, msg.ChatID, text, candidates)
	}
	return domain.Outcome{Route: domain.RouteIgnored}, nil
}

// SetCredential stores credential (trimmed) for chatID. Storage faults are
// returned wrapped.
func (s *RouterService) SetCredential(ctx context.Context, chatID, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ErrEmptyCredential
	}
	if err := s.Store.Set(ctx, chatID, credential); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func (s *RouterService) list(ctx context.Context, chatID string, candidates []string) (domain.Outcome, error) {
	out := domain.Outcome{Route: domain.RouteList}
	shorts, err := s.Batch.List(ctx, chatID, candidates)
	switch {
	case err == nil:
		out.Reply = &domain.Reply{Text: listHeader + strings.Join(shorts, "\n")}
	case errors.Is(err, ErrMissingCredential):
		out.Reply = &domain.Reply{Text: MsgMissingCredential}
	case errors.Is(err, ErrBatchEmpty):
		out.Reply = &domain.Reply{Text: MsgBatchEmpty}
	default:
		return out, err
	}
	return out, nil
}

func (s *RouterService) rewrite(ctx context.Context, chatID, text string, candidates []string) (domain.Outcome, error) {
	out := domain.Outcome{Route: domain.RouteRewrite}
	updated, err := s.Batch.Rewrite(ctx, chatID, text, candidates)
	switch {
	case err == nil:
		out.Reply = &domain.Reply{Text: rewriteHeader + updated, ParseMode: domain.ParseModeHTML}
	case errors.Is(err, ErrMissingCredential):
		out.Reply = &domain.Reply{Text: MsgMissingCredential}
	case errors.Is(err, ErrNoCandidates):
		out.Reply = &domain.Reply{Text: MsgNoCandidates}
	default:
		return out, err
	}
	return out, nil
}

func (s *RouterService) confirmation(credential string) string {
	name := strings.TrimSpace(s.ProviderName)
	if name == "" {
		return "API token set successfully.\nYour token: " + credential
	}
	return fmt.Sprintf("%s API token set successfully.\nYour token: %s", name, credential)
}

func (s *RouterService) welcomeReply(username string) *domain.Reply {
	name := strings.TrimSpace(username)
	if name == "" {
		name = "there"
	}
	provider := strings.TrimSpace(s.ProviderName)
	if provider != "" {
		provider += " "
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Hello, %s!</b>\n\n", html.EscapeString(name))
	fmt.Fprintf(&b, "<b>Welcome to the %sURL Shortener Bot!</b>\n", html.EscapeString(provider))
	b.WriteString("<b>Send any URL, and I will shorten it for you.</b>\n\n")
	b.WriteString("<b>If you haven't set your API token yet, use:</b>\n<code>/setapi YOUR_API_TOKEN</code>\n\n")

	var keyboard [][]domain.Button
	var row []domain.Button
	if s.Welcome.AdminChatURL != "" {
		row = append(row, domain.Button{Text: "Chat with Admin", URL: s.Welcome.AdminChatURL})
	}
	if s.Welcome.PaymentProofURL != "" {
		row = append(row, domain.Button{Text: "Payment Proof", URL: s.Welcome.PaymentProofURL})
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}
	if s.Welcome.TokenPageURL != "" {
		keyboard = append(keyboard, []domain.Button{{Text: "Get API Token", URL: s.Welcome.TokenPageURL}})
	}

	return &domain.Reply{
		Text:      b.String(),
		ParseMode: domain.ParseModeHTML,
		PhotoURL:  s.Welcome.PhotoURL,
		Keyboard:  keyboard,
	}
}

// splitCommand separates the first word from the trimmed remainder.
func splitCommand(text string) (cmd string, rest string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	i := strings.IndexAny(text, " \n\t")
	if i == -1 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}

// normalizeCommand folds case and strips a "@BotName" suffix. Non-commands
// yield "".
func normalizeCommand(cmd string) string {
	if !strings.HasPrefix(cmd, "/") {
		return ""
	}
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cases.Fold().String(cmd)
}
