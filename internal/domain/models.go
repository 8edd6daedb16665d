// Package domain defines the persistence models and the message-level value
// types shared by the credential store, the routing core, and the transports.
package domain

import (
	"time"
)

// Credential maps a chat identity to the API credential that chat supplied
// for the shortening provider. There is exactly one row per chat; writes
// overwrite the previous value and rows are never deleted by the bot.
//
// Fields:
//   - ChatID: opaque chat identity (primary key).
//   - Token: caller-supplied credential, stored verbatim.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Credential struct {
	ChatID    string    `json:"chat_id"    gorm:"type:varchar(64);primaryKey"`
	Token     string    `json:"-"          gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Credential.
func (Credential) TableName() string { return "credentials" }

// IncomingMessage is a chat message as handed over by a transport.
// It is ephemeral and never persisted.
type IncomingMessage struct {
	ChatID   string
	Username string
	Text     string
}

// Route names the classification a message received.
type Route string

const (
	RouteIgnored       Route = "ignored"
	RouteStart         Route = "start"
	RouteSetCredential Route = "set_credential"
	RouteList          Route = "list"
	RouteRewrite       Route = "rewrite"
)

// ParseModeHTML marks reply text that carries HTML markup.
const ParseModeHTML = "HTML"

// Button is a single URL button of an inline keyboard.
type Button struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Reply is the outbound message for the chat the request came from.
// PhotoURL and Keyboard are presentation hints; transports that cannot
// render them send Text only.
type Reply struct {
	Text      string     `json:"text"`
	ParseMode string     `json:"parse_mode,omitempty"`
	PhotoURL  string     `json:"photo_url,omitempty"`
	Keyboard  [][]Button `json:"keyboard,omitempty"`
}

// Outcome is the result of routing one incoming message. Reply is nil when
// the message was ignored.
type Outcome struct {
	Route Route  `json:"route"`
	Reply *Reply `json:"reply,omitempty"`
}
