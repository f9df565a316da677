package models

import (
	"time"
)

/** --------------------ENTITIES-------------------- */

// ChatMessage is a single persisted chat line. Rows are immutable once
// written; Username keeps the name the sender held at send time, even if
// they later reconnect under a different one.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:64;not null;index" json:"userName"`
	Body      string    `gorm:"type:text;not null" json:"message"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"` // always UTC
}

// TableName keeps the table name aligned with the existing schema.
func (ChatMessage) TableName() string {
	return "chat_messages"
}

/** -------------------- DTOs -------------------- */

// MessageResponse is the REST shape for history queries.
type MessageResponse struct {
	Username  string    `json:"userName"`
	Body      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *ChatMessage) ToResponse() MessageResponse {
	return MessageResponse{
		Username:  m.Username,
		Body:      m.Body,
		Timestamp: m.Timestamp,
	}
}
