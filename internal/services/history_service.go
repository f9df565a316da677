// Package services holds the redis-backed collaborators of the relay: the
// history service that fronts the durable message log with a capped cache,
// and the rate limiter guarding the websocket endpoint.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nbspibalcontin/ChatApplication/internal/models"
	"github.com/nbspibalcontin/ChatApplication/internal/repositories/postgres"
)

const (
	historyCacheKey = "chat:history"
	historyCacheTTL = 24 * time.Hour
)

// HistoryService persists chat messages in postgres and mirrors the most
// recent ones into a capped redis list so tail reads rarely touch the
// database. Postgres stays authoritative; every cache operation is
// best-effort.
type HistoryService struct {
	repo      *postgres.MessageRepository
	redis     *redis.Client
	cacheSize int
	logger    *slog.Logger
}

// NewHistoryService builds the service. redis may be nil, in which case all
// reads go straight to the repository.
func NewHistoryService(repo *postgres.MessageRepository, redisClient *redis.Client, cacheSize int, logger *slog.Logger) *HistoryService {
	return &HistoryService{
		repo:      repo,
		redis:     redisClient,
		cacheSize: cacheSize,
		logger:    logger,
	}
}

// Append writes the message to postgres and, on success, pushes it onto the
// cache. A cache failure is logged and swallowed; a database failure is the
// caller's StorageError.
func (s *HistoryService) Append(ctx context.Context, msg *models.ChatMessage) error {
	if err := s.repo.Append(ctx, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if s.redis == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal message for cache", "error", err)
		return nil
	}
	pipe := s.redis.Pipeline()
	pipe.LPush(ctx, historyCacheKey, data)
	pipe.LTrim(ctx, historyCacheKey, 0, int64(s.cacheSize-1))
	pipe.Expire(ctx, historyCacheKey, historyCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("failed to cache message", "error", err)
	}
	return nil
}

// Tail returns the n most recent messages, newest first, serving from the
// cache when it holds enough entries and falling back to postgres otherwise.
func (s *HistoryService) Tail(ctx context.Context, n int) ([]models.ChatMessage, error) {
	if msgs, ok := s.tailFromCache(ctx, n); ok {
		return msgs, nil
	}

	msgs, err := s.repo.Tail(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("tail messages: %w", err)
	}
	s.warmCache(ctx, msgs)
	return msgs, nil
}

func (s *HistoryService) tailFromCache(ctx context.Context, n int) ([]models.ChatMessage, bool) {
	if s.redis == nil || n > s.cacheSize {
		return nil, false
	}

	entries, err := s.redis.LRange(ctx, historyCacheKey, 0, int64(n-1)).Result()
	if err != nil {
		s.logger.Warn("history cache read failed", "error", err)
		return nil, false
	}
	if len(entries) < n {
		// Cold or partially warmed cache: it cannot tell "few messages
		// exist" apart from "few are cached", so let postgres answer.
		return nil, false
	}

	msgs := make([]models.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			s.logger.Warn("corrupt history cache entry, bypassing cache", "error", err)
			return nil, false
		}
		msgs = append(msgs, msg)
	}
	return msgs, true
}

// warmCache rebuilds the capped list from a fresh database read.
func (s *HistoryService) warmCache(ctx context.Context, msgs []models.ChatMessage) {
	if s.redis == nil || len(msgs) == 0 {
		return
	}

	// msgs is newest first; RPush in order keeps index 0 the newest.
	values := make([]interface{}, 0, len(msgs))
	for i := range msgs {
		data, err := json.Marshal(&msgs[i])
		if err != nil {
			return
		}
		values = append(values, data)
	}

	pipe := s.redis.Pipeline()
	pipe.Del(ctx, historyCacheKey)
	pipe.RPush(ctx, historyCacheKey, values...)
	pipe.LTrim(ctx, historyCacheKey, 0, int64(s.cacheSize-1))
	pipe.Expire(ctx, historyCacheKey, historyCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("failed to warm history cache", "error", err)
	}
}
