// Package services – BatchService
//
// This file implements the batch shortening engine. Given a chat and its URL
// candidates it resolves the chat's credential once, then calls the
// shortening client sequentially in discovery order. A failed candidate is
// logged and skipped; it never aborts the rest of the batch.
//
// Two policies are offered:
//   - List collects the successful short links in order.
//   - Rewrite substitutes each short link into the original text in place of
//     the first remaining occurrence of its long URL.
package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CredentialStore is the persistence contract for per-chat credentials.
// Get reports a missing chat as ok=false with a nil error.
type CredentialStore interface {
	Set(ctx context.Context, chatID, credential string) error
	Get(ctx context.Context, chatID string) (credential string, ok bool, err error)
}

// Shortener turns one long URL into a short one using the caller's credential.
type Shortener interface {
	Shorten(ctx context.Context, credential, url string) (string, error)
}

// BatchService runs sequential shortening batches for a chat.
type BatchService struct {
	Store     CredentialStore
	Shortener Shortener
}

// credential resolves the chat's credential. A store read fault is logged and
// treated as absent.
func (s *BatchService) credential(ctx context.Context, chatID string) (string, bool) {
	cred, ok, err := s.Store.Get(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("credential lookup failed")
		return "", false
	}
	if !ok || cred == "" {
		return "", false
	}
	return cred, true
}

// List shortens every candidate and returns the successes in discovery
// order. Returns ErrMissingCredential (no calls made) when the chat has no
// credential and ErrBatchEmpty when nothing could be shortened.
func (s *BatchService) List(ctx context.Context, chatID string, candidates []string) ([]string, error) {
	ctx, span := otel.Tracer("services/BatchService").Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("batch.size", len(candidates)),
		),
	)
	defer span.End()

	cred, ok := s.credential(ctx, chatID)
	if !ok {
		return nil, ErrMissingCredential
	}

	shorts := make([]string, 0, len(candidates))
	for _, u := range candidates {
		short, err := s.Shortener.Shorten(ctx, cred, u)
		if err != nil {
			log.Warn().Err(err).Str("chat_id", chatID).Str("url", u).Msg("shorten failed")
			continue
		}
		shorts = append(shorts, short)
	}
	span.SetAttributes(attribute.Int("batch.succeeded", len(shorts)))

	if len(shorts) == 0 {
		return nil, ErrBatchEmpty
	}
	return shorts, nil
}

// Rewrite shortens every candidate and substitutes each success into text,
// replacing the first remaining occurrence of the candidate. Failed
// candidates leave the text untouched. The credential is checked before the
// candidates: ErrMissingCredential wins over ErrNoCandidates.
func (s *BatchService) Rewrite(ctx context.Context, chatID, text string, candidates []string) (string, error) {
	ctx, span := otel.Tracer("services/BatchService").Start(ctx, "Rewrite",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("batch.size", len(candidates)),
		),
	)
	defer span.End()

	cred, ok := s.credential(ctx, chatID)
	if !ok {
		return "", ErrMissingCredential
	}
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}

	out := text
	replaced := 0
	for _, u := range candidates {
		short, err := s.Shortener.Shorten(ctx, cred, u)
		if err != nil {
			log.Warn().Err(err).Str("chat_id", chatID).Str("url", u).Msg("shorten failed")
			continue
		}
		out = strings.Replace(out, u, short, 1)
		replaced++
	}
	span.SetAttributes(attribute.Int("batch.succeeded", replaced))
	return out, nil
}
