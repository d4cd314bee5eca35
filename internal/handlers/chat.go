package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/cafemeet/internal/session"
)

type ChatHandler struct {
	logger *slog.Logger
}

func NewChatHandler(logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{logger: logger.With("component", "handlers")}
}

type CreateConversationRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
	Content    string `json:"content"`
}

// GetConversations lists the caller's conversations, most recent activity first.
func (h *ChatHandler) GetConversations(c *gin.Context) {
	s := currentSession(c)
	c.JSON(http.StatusOK, session.ChatSnapshot{
		Conversations: s.Chat.Conversations(),
		TotalUnread:   s.Chat.TotalUnreadCount(),
	})
}

func (h *ChatHandler) GetConversation(c *gin.Context) {
	conv, ok := currentSession(c).Chat.Conversation(c.Param("id"))
	if !ok {
		abortWith(c, http.StatusNotFound, "conversation not found")
		return
	}
	c.JSON(http.StatusOK, conv)
}

// CreateConversation returns the conversation with user_id, creating it when
// the pair has none yet.
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	chat := currentSession(c).Chat
	_, existed := chat.FindConversation(req.UserID)
	conv, err := chat.GetOrCreate(c.Request.Context(), req.UserID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	c.JSON(status, conv)
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	id, err := currentSession(c).Chat.SendMessage(c.Request.Context(), req.ReceiverID, req.Content)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *ChatHandler) MarkAllRead(c *gin.Context) {
	chat := currentSession(c).Chat
	if err := chat.MarkAllRead(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_unread": chat.TotalUnreadCount()})
}

func (h *ChatHandler) UnreadCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"total_unread": currentSession(c).Chat.TotalUnreadCount()})
}
