package telegram

import (
	"context"
	"errors"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-shortlink-relay/internal/domain"
	"github.com/tbourn/go-shortlink-relay/internal/sysutil"
	"github.com/tbourn/go-shortlink-relay/internal/utils"
)

// Handler routes one incoming message; implemented by services.RouterService.
type Handler interface {
	Handle(ctx context.Context, msg domain.IncomingMessage) (domain.Outcome, error)
}

// Poller runs the long-polling loop. Updates are processed one at a time, so
// each message pipeline completes before the next begins.
type Poller struct {
	API         *API
	Handler     Handler
	PollTimeout time.Duration

	// RetryDelay is the pause after a failed poll (3s when zero).
	RetryDelay time.Duration
}

// Run polls until ctx is canceled. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	retry := p.RetryDelay
	if retry <= 0 {
		retry = 3 * time.Second
	}
	log.Info().Dur("poll_timeout", p.PollTimeout).Msg("telegram polling started")

	var offset int64
	for {
		if ctx.Err() != nil {
			log.Info().Msg("telegram polling stopped")
			return nil
		}
		updates, next, err := p.API.GetUpdates(ctx, offset, p.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("telegram polling stopped")
				return nil
			}
			log.Warn().Err(err).Msg("telegram getUpdates failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retry):
			}
			continue
		}
		offset = next
		for _, u := range updates {
			p.dispatch(ctx, u)
		}
	}
}

// dispatch routes one update and delivers the reply, if any. Failures are
// logged; one bad update never stops the loop.
func (p *Poller) dispatch(ctx context.Context, u Update) {
	m := u.Message
	if m == nil || m.Chat == nil || m.Text == "" {
		return
	}
	in := domain.IncomingMessage{
		ChatID: strconv.FormatInt(m.Chat.ID, 10),
		Text:   m.Text,
	}
	if m.From != nil {
		in.Username = sysutil.FirstNonEmpty(m.From.Username, m.From.FirstName)
	}

	out, err := p.Handler.Handle(ctx, in)
	if err != nil {
		log.Error().Err(err).Str("chat_id", in.ChatID).Int64("update_id", u.UpdateID).Msg("message handling failed")
		return
	}
	log.Debug().Str("chat_id", in.ChatID).Str("route", string(out.Route)).Msg("message routed")
	if out.Reply == nil {
		return
	}
	if err := p.Deliver(ctx, m.Chat.ID, out.Reply); err != nil {
		log.Error().Err(err).Str("chat_id", in.ChatID).Msg("reply delivery failed")
	}
}

// Deliver sends reply to chatID. Text longer than one message is split; the
// keyboard rides on the last part. With a photo the text becomes its caption
// when it fits, otherwise it follows as separate messages. A reply the API
// rejects as malformed HTML is resent as plain text.
func (p *Poller) Deliver(ctx context.Context, chatID int64, reply *domain.Reply) error {
	markup := keyboardMarkup(reply.Keyboard)

	if reply.PhotoURL != "" {
		if utf8.RuneCountInString(reply.Text) <= MaxCaptionRunes {
			err := p.API.SendPhoto(ctx, chatID, reply.PhotoURL, reply.Text, reply.ParseMode, markup)
			if err != nil && reply.ParseMode != "" && IsParseError(err) {
				err = p.API.SendPhoto(ctx, chatID, reply.PhotoURL, reply.Text, "", markup)
			}
			return err
		}
		if err := p.API.SendPhoto(ctx, chatID, reply.PhotoURL, "", "", nil); err != nil {
			return err
		}
	}

	parts := utils.SplitText(reply.Text, MaxMessageRunes)
	var errs []error
	for i, part := range parts {
		var mk *InlineKeyboardMarkup
		if i == len(parts)-1 {
			mk = markup
		}
		err := p.API.SendMessage(ctx, chatID, part, reply.ParseMode, mk)
		if err != nil && reply.ParseMode != "" && IsParseError(err) {
			log.Warn().Err(err).Int64("chat_id", chatID).Msg("formatted reply rejected; resending as plain text")
			err = p.API.SendMessage(ctx, chatID, part, "", mk)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func keyboardMarkup(rows [][]domain.Button) *InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		r := make([]InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			r = append(r, InlineKeyboardButton{Text: b.Text, URL: b.URL})
		}
		kb = append(kb, r)
	}
	return &InlineKeyboardMarkup{InlineKeyboard: kb}
}
