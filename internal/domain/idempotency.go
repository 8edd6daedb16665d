package domain

import "time"

// Idempotency is the stored outcome of a POST /chats/{id}/messages call made
// with an Idempotency-Key. A retry with the same (ChatID, Key) before
// ExpiresAt is answered from this row and never reaches the shortener.
// Photo and keyboard hints are not kept.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ChatID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_chat_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_chat_key,priority:2"`
	Route     string    `gorm:"type:TEXT NOT NULL"`
	ReplyText string    `gorm:"type:TEXT NOT NULL;default:''"`
	ParseMode string    `gorm:"type:TEXT NOT NULL;default:''"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

func (Idempotency) TableName() string { return "idempotency" }
