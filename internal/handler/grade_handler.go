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

type gradeLedger interface {
	RecordScore(ctx context.Context, actor *models.JWTClaims, enrollmentID, component string, score float64) error
	GetEntry(ctx context.Context, actor *models.JWTClaims, enrollmentID string) (*models.GradeEntry, error)
}

// GradeHandler exposes component score endpoints.
type GradeHandler struct {
	ledger gradeLedger
}

// NewGradeHandler constructs the handler.
func NewGradeHandler(ledger gradeLedger) *GradeHandler {
	return &GradeHandler{ledger: ledger}
}

// RecordScore godoc
// @Summary Record a component score
// @Tags Grades
// @Accept json
// @Produce json
// @Param enrollmentId path string true "Enrollment ID"
// @Param payload body service.RecordScoreRequest true "Score payload"
// @Success 200 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /grades/{enrollmentId} [put]
func (h *GradeHandler) RecordScore(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.RecordScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "component and score are required"))
		return
	}
	enrollmentID := c.Param("enrollmentId")
	ctx := c.Request.Context()
	if err := h.ledger.RecordScore(ctx, claims, enrollmentID, req.Component, *req.Score); err != nil {
		response.Error(c, err)
		return
	}
	entry, err := h.ledger.GetEntry(ctx, claims, enrollmentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// GetEntry godoc
// @Summary Get an enrollment's grade entry
// @Tags Grades
// @Produce json
// @Param enrollmentId path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /grades/{enrollmentId} [get]
func (h *GradeHandler) GetEntry(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	entry, err := h.ledger.GetEntry(c.Request.Context(), claims, c.Param("enrollmentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}
