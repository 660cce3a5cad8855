package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parley-chat/parley/pkg/models"
	"github.com/parley-chat/parley/pkg/service"
)

type NotificationHandler struct {
	notificationService *service.NotificationService
}

func NewNotificationHandler(notificationService *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

func (h *NotificationHandler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.POST("", h.Create)
		notifications.POST("/:id/read", h.MarkRead)
		notifications.DELETE("/:id", h.Delete)
	}
}

// List
// GET /api/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	list, err := h.notificationService.List(c.Request.Context(), UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

// Create adds a notification for the caller and pushes it live
// POST /api/notifications
func (h *NotificationHandler) Create(c *gin.Context) {
	var req models.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := h.notificationService.Create(c.Request.Context(), UserID(c), req.Type, req.Content)
	if errors.Is(err, service.ErrInvalidNotification) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, n)
}

// MarkRead
// POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	already, err := h.notificationService.MarkRead(c.Request.Context(), UserID(c), c.Param("id"))
	if err != nil {
		writeNotificationError(c, err)
		return
	}
	msg := "Notification marked as read"
	if already {
		msg = "Notification already marked as read"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// Delete
// DELETE /api/notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	if err := h.notificationService.Delete(c.Request.Context(), UserID(c), c.Param("id")); err != nil {
		writeNotificationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification deleted"})
}

func writeNotificationError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrNotificationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
