package httpapi

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-shortlink-relay/internal/domain"
	"github.com/tbourn/go-shortlink-relay/internal/repo"
)

// idemShim serves handlers.IdempotencyStore and the middleware lookup from
// the repo functions.
type idemShim struct {
	db *gorm.DB
}

// Lookup proxies repo.GetIdempotency; a missing or expired record is not an error.
func (s idemShim) Lookup(ctx context.Context, chatID, key string, now time.Time) (domain.Outcome, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, chatID, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Outcome{}, false, nil
	}
	if err != nil {
		return domain.Outcome{}, false, err
	}
	return repo.OutcomeFromIdempotency(rec), true, nil
}

// Save proxies repo.CreateIdempotency. A concurrent retry that stored the
// same key first wins.
func (s idemShim) Save(ctx context.Context, chatID, key string, out domain.Outcome, ttl time.Duration) error {
	_, err := repo.CreateIdempotency(ctx, s.db, chatID, key, out, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// exists satisfies middleware.IdempotencyLookup.
func (s idemShim) exists(ctx context.Context, chatID, key string, now time.Time) (bool, error) {
	_, found, err := s.Lookup(ctx, chatID, key, now)
	return found, err
}
