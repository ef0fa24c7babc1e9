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

type maintenanceGate interface {
	State(ctx context.Context) (*models.MaintenanceState, error)
	SetActive(ctx context.Context, actor *models.JWTClaims, enabled bool) (*models.MaintenanceState, error)
}

type deadlineSetter interface {
	SetDropDeadline(ctx context.Context, actor *models.JWTClaims, req service.SetDropDeadlineRequest) (*models.DropDeadline, error)
}

type maintenanceRequest struct {
	Enabled *bool `json:"enabled"`
}

// AdminHandler exposes operational policy endpoints.
type AdminHandler struct {
	gate     maintenanceGate
	policies deadlineSetter
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(gate maintenanceGate, policies deadlineSetter) *AdminHandler {
	return &AdminHandler{gate: gate, policies: policies}
}

// GetMaintenance godoc
// @Summary Maintenance mode state
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/maintenance [get]
func (h *AdminHandler) GetMaintenance(c *gin.Context) {
	state, err := h.gate.State(c.Request.Context())
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to read maintenance state"))
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// SetMaintenance godoc
// @Summary Toggle maintenance mode
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body maintenanceRequest true "Maintenance payload"
// @Success 200 {object} response.Envelope
// @Router /admin/maintenance [put]
func (h *AdminHandler) SetMaintenance(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "enabled is required"))
		return
	}
	state, err := h.gate.SetActive(c.Request.Context(), claims, *req.Enabled)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// SetDropDeadline godoc
// @Summary Configure a drop deadline
// @Description Omit semester and year to set the global deadline.
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body service.SetDropDeadlineRequest true "Deadline payload"
// @Success 200 {object} response.Envelope
// @Router /admin/drop-deadline [put]
func (h *AdminHandler) SetDropDeadline(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.SetDropDeadlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	deadline, err := h.policies.SetDropDeadline(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, deadline, nil)
}
