package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"nexthire/backend/internal/models"
	"nexthire/backend/internal/service"
	"nexthire/backend/internal/ws"
	apperrors "nexthire/backend/pkg/errors"
	"nexthire/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// ChatService is the slice of the message service the REST gateway calls
type ChatService interface {
	SendMessage(ctx context.Context, senderID string, req service.SendMessageRequest) (*models.Message, error)
	ListMessages(ctx context.Context, userID, counterpartID string, page, limit int) ([]models.Message, error)
	MarkSingleRead(ctx context.Context, userID string, messageID uint) error
	GetConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

// SessionRegistry answers presence questions about live sockets
type SessionRegistry interface {
	IsOnline(ctx context.Context, userID string) bool
	Stats(ctx context.Context) ws.Stats
}

// ChatHandler serves the chat REST gateway
type ChatHandler struct {
	chat     ChatService
	sessions SessionRegistry
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chat ChatService, sessions SessionRegistry) *ChatHandler {
	return &ChatHandler{chat: chat, sessions: sessions}
}

// RegisterRoutes mounts the chat routes on an authenticated group
func (h *ChatHandler) RegisterRoutes(chat *gin.RouterGroup) {
	chat.GET("/conversations", h.GetConversations)
	// gin needs the same wildcard name for both routes below: a recipient id in the
	// first, a message id in the second
	chat.GET("/messages/:id", h.GetMessages)
	chat.PUT("/messages/:id/read", h.MarkRead)
	chat.POST("/send", h.SendMessage)
	chat.GET("/unread-count", h.UnreadCount)
	chat.GET("/presence/:userId", h.Presence)
}

// RegisterAdminRoutes mounts the operator routes on an admin-only group
func (h *ChatHandler) RegisterAdminRoutes(admin *gin.RouterGroup) {
	admin.GET("/chat/sessions", h.Sessions)
}

type sendMessageBody struct {
	RecipientID string  `json:"recipientId"`
	Recipient   string  `json:"recipient"`
	Content     string  `json:"content"`
	JobID       *string `json:"jobId"`
}

// SendMessage stores a message and pushes it to live sessions
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var body sendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(apperrors.Validation("Invalid request format"))
		return
	}

	recipientID := body.RecipientID
	if strings.TrimSpace(recipientID) == "" {
		recipientID = body.Recipient
	}

	message, err := h.chat.SendMessage(c.Request.Context(), middleware.UserID(c), service.SendMessageRequest{
		RecipientID: recipientID,
		Content:     body.Content,
		JobID:       body.JobID,
		Via:         service.ViaREST,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": message})
}

// GetMessages returns one page of the conversation with the counterpart in the path,
// oldest first, marking what the caller received as read
func (h *ChatHandler) GetMessages(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 0)

	messages, err := h.chat.ListMessages(c.Request.Context(), middleware.UserID(c), c.Param("id"), page, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, messages)
}

// MarkRead marks a single message addressed to the caller as read
func (h *ChatHandler) MarkRead(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		_ = c.Error(apperrors.NotFound("Message not found"))
		return
	}

	if err := h.chat.MarkSingleRead(c.Request.Context(), middleware.UserID(c), uint(id)); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetConversations lists the caller's conversations, most recent first
func (h *ChatHandler) GetConversations(c *gin.Context) {
	conversations, err := h.chat.GetConversations(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// UnreadCount returns how many messages are waiting for the caller
func (h *ChatHandler) UnreadCount(c *gin.Context) {
	n, err := h.chat.CountUnread(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unreadCount": n})
}

// Presence reports whether a user currently has a live socket
func (h *ChatHandler) Presence(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	c.JSON(http.StatusOK, gin.H{
		"userId": userID,
		"online": h.sessions.IsOnline(c.Request.Context(), userID),
	})
}

// Sessions returns live connection counters
func (h *ChatHandler) Sessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.Stats(c.Request.Context()))
}

// queryInt reads a positive integer query parameter; anything else yields def
func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
