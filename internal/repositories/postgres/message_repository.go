package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/nbspibalcontin/ChatApplication/internal/models"
)

// MessageRepository is the durable message log. Rows are append-only;
// retrieval is by timestamp descending.
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db}
}

func (r *MessageRepository) Append(ctx context.Context, msg *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// Tail returns the n most recent messages, newest first.
func (r *MessageRepository) Tail(ctx context.Context, n int) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := r.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(n).
		Find(&msgs).Error
	return msgs, err
}

// Count reports the total number of stored messages.
func (r *MessageRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ChatMessage{}).Count(&count).Error
	return count, err
}
