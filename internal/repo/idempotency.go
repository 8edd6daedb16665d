package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-shortlink-relay/internal/domain"
)

// ErrDuplicate is returned when (chat_id, key) already has a record.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns the record for (chatID, key) that is still live at
// now, or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, chatID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(chatID) == "" || key == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("chat_id = ? AND key = ? AND expires_at > ?", chatID, key, now).
		Take(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency stores out for (chatID, key), live for ttl. Only the route
// and the reply's text and parse mode are kept.
func CreateIdempotency(ctx context.Context, db *gorm.DB, chatID, key string, out domain.Outcome, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Key:       key,
		Route:     string(out.Route),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if out.Reply != nil {
		rec.ReplyText, rec.ParseMode = out.Reply.Text, out.Reply.ParseMode
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records that expired at or before now and
// reports how many were removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// OutcomeFromIdempotency rebuilds the outcome stored in rec.
func OutcomeFromIdempotency(rec *domain.Idempotency) domain.Outcome {
	out := domain.Outcome{Route: domain.Route(rec.Route)}
	if rec.ReplyText != "" {
		out.Reply = &domain.Reply{Text: rec.ReplyText, ParseMode: rec.ParseMode}
	}
	return out
}

// isUniqueViolation also matches the plain-text errors the pure-Go SQLite
// driver returns when gorm's TranslateError is off.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") || strings.Contains(low, "constraint failed: unique")
}
