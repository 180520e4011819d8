package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gympoint/gympoint-api/internal/models"
	"github.com/gympoint/gympoint-api/pkg/response"
)

type notificationReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Notification, error)
}

// NotificationHandler exposes the notification feed.
type NotificationHandler struct {
	notifications notificationReader
}

// NewNotificationHandler constructs NotificationHandler.
func NewNotificationHandler(notifications notificationReader) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List godoc
// @Summary List notifications for a student, newest first
// @Tags Notifications
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	notifications, err := h.notifications.ListByStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notifications, nil)
}
