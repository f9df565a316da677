package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nbspibalcontin/ChatApplication/internal/models"
	"github.com/nbspibalcontin/ChatApplication/internal/services"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// MessageHandler serves chat history over REST, reading through the same
// history service the socket uses.
type MessageHandler struct {
	history *services.HistoryService
	logger  *slog.Logger
}

func NewMessageHandler(history *services.HistoryService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{history: history, logger: logger}
}

// GetMessages returns the most recent messages, newest first.
// GET /api/v1/messages?limit=n
func (h *MessageHandler) GetMessages(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	messages, err := h.history.Tail(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load messages", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve messages"})
		return
	}

	responses := make([]models.MessageResponse, 0, len(messages))
	for i := range messages {
		responses = append(responses, messages[i].ToResponse())
	}
	c.JSON(http.StatusOK, gin.H{"messages": responses})
}
