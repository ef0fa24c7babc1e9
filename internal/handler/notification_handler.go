package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	"github.com/noah-isme/sma-adp-registrar/internal/service"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
	"github.com/noah-isme/sma-adp-registrar/pkg/response"
)

type notificationService interface {
	Send(ctx context.Context, senderID string, req service.SendNotificationRequest) (*models.Notification, error)
	FetchRecentForUser(ctx context.Context, userID string, role models.UserRole, limit int) ([]models.Notification, error)
}

// NotificationHandler exposes notification send and feed endpoints.
type NotificationHandler struct {
	notifications notificationService
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(notifications notificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// Send godoc
// @Summary Send a notification
// @Description recipient_id "0" or empty addresses every user of the recipient type.
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body service.SendNotificationRequest true "Notification payload"
// @Success 201 {object} response.Envelope
// @Router /notifications [post]
func (h *NotificationHandler) Send(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.SendNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrSend, "invalid request body"))
		return
	}
	n, err := h.notifications.Send(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, n)
}

// List godoc
// @Summary Recent notifications for the caller
// @Tags Notifications
// @Produce json
// @Param limit query int false "Maximum entries (1-100)" default(20)
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	feed, err := h.notifications.FetchRecentForUser(c.Request.Context(), claims.UserID, claims.Role, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, feed, nil, map[string]interface{}{"count": len(feed)})
}
