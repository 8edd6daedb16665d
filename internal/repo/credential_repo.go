package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-shortlink-relay/internal/domain"
)

// ErrNotFound is returned when a chat has no credential or no live
// idempotency record.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertCredential stores token for chatID in one statement; the last write
// wins and created_at keeps the first write's time.
func UpsertCredential(ctx context.Context, db *gorm.DB, chatID, token string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
		}).
		Create(&domain.Credential{ChatID: chatID, Token: token, CreatedAt: now, UpdatedAt: now}).Error
}

// GetCredential returns the credential row for chatID or ErrNotFound.
func GetCredential(ctx context.Context, db *gorm.DB, chatID string) (*domain.Credential, error) {
	var c domain.Credential
	err := db.WithContext(ctx).Where("chat_id = ?", chatID).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
