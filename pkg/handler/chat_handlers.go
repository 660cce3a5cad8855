// Conversation and prompt HTTP handlers
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/parley-chat/parley/pkg/models"
	"github.com/parley-chat/parley/pkg/service"
)

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// RegisterRoutes registers chat routes. submitLimit guards prompt submission.
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup, submitLimit gin.HandlerFunc) {
	conversations := r.Group("/conversations")
	{
		conversations.GET("", h.ListConversations)
		conversations.POST("", h.CreateConversation)
		conversations.POST("/message", submitLimit, h.SubmitMessage)
		conversations.GET("/:id", h.GetConversation)
		conversations.PATCH("/:id", h.RenameConversation)
		conversations.DELETE("/:id", h.DeleteConversation)
	}
	r.GET("/generations", h.ListGenerations)
}

// ListConversations lists the caller's conversations
// GET /api/conversations
func (h *ChatHandler) ListConversations(c *gin.Context) {
	convs, err := h.chatService.ListConversations(c.Request.Context(), UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.ConversationListResponse{Conversations: convs})
}

// CreateConversation creates a new conversation
// POST /api/conversations
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req models.CreateConversationRequest
	// An empty body creates an untitled conversation.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	conv, err := h.chatService.CreateConversation(c.Request.Context(), UserID(c), req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// GetConversation returns a conversation's title and messages
// GET /api/conversations/:id
func (h *ChatHandler) GetConversation(c *gin.Context) {
	resp, err := h.chatService.GetConversation(c.Request.Context(), UserID(c), c.Param("id"))
	if err != nil {
		writeConversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RenameConversation changes a conversation's title
// PATCH /api/conversations/:id
func (h *ChatHandler) RenameConversation(c *gin.Context) {
	var req models.RenameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, err := h.chatService.RenameConversation(c.Request.Context(), UserID(c), c.Param("id"), req.Title)
	if err != nil {
		writeConversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// DeleteConversation deletes a conversation with its messages
// DELETE /api/conversations/:id
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	if err := h.chatService.DeleteConversation(c.Request.Context(), UserID(c), c.Param("id")); err != nil {
		writeConversationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SubmitMessage stores a prompt and acknowledges it; the reply arrives over
// the event channel.
// POST /api/conversations/message
func (h *ChatHandler) SubmitMessage(c *gin.Context) {
	var req models.SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.SubmitResponse{Status: models.SubmitStatusError, Message: err.Error()})
		return
	}

	msg, err := h.chatService.SubmitPrompt(c.Request.Context(), UserID(c), req)
	if err != nil {
		c.JSON(conversationErrorStatus(err), models.SubmitResponse{Status: models.SubmitStatusError, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.SubmitResponse{
		Status:    models.SubmitStatusSuccess,
		Message:   "Prompt accepted",
		MessageID: msg.ID,
	})
}

// ListGenerations reports the generation queue and the caller's recent
// generations
// GET /api/generations?limit=20
func (h *ChatHandler) ListGenerations(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, h.chatService.Generations(UserID(c), limit))
}

func conversationErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrEmptyPrompt):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeConversationError(c *gin.Context, err error) {
	c.JSON(conversationErrorStatus(err), gin.H{"error": err.Error()})
}
