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

type sectionAdministration interface {
	Roster(ctx context.Context, sectionID string) (*models.RosterView, error)
	ReassignInstructor(ctx context.Context, actor *models.JWTClaims, sectionID, instructorID string) (*models.Section, error)
}

type sectionFinalizer interface {
	Finalize(ctx context.Context, actor *models.JWTClaims, sectionID string) (*models.FinalizationSummary, error)
	ExportSummary(ctx context.Context, actor *models.JWTClaims, sectionID, format string) (*service.ExportFile, error)
}

// SectionHandler exposes roster, finalization and export endpoints.
type SectionHandler struct {
	sections  sectionAdministration
	finalizer sectionFinalizer
}

// NewSectionHandler constructs the handler.
func NewSectionHandler(sections sectionAdministration, finalizer sectionFinalizer) *SectionHandler {
	return &SectionHandler{sections: sections, finalizer: finalizer}
}

// Get godoc
// @Summary Section roster
// @Description Section details, seat counts and the ACTIVE students.
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sections/{id} [get]
func (h *SectionHandler) Get(c *gin.Context) {
	view, err := h.sections.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Finalize godoc
// @Summary Finalize section grades
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sections/{id}/finalize [post]
func (h *SectionHandler) Finalize(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	summary, err := h.finalizer.Finalize(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Export godoc
// @Summary Export finalized grades
// @Tags Sections
// @Produce octet-stream
// @Param id path string true "Section ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 412 {object} response.Envelope
// @Router /sections/{id}/grades/export [get]
func (h *SectionHandler) Export(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	format := c.DefaultQuery("format", "csv")
	file, err := h.finalizer.ExportSummary(c.Request.Context(), claims, c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

// ReassignInstructor godoc
// @Summary Reassign a section's instructor
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body service.ReassignInstructorRequest true "Instructor payload"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/instructor [put]
func (h *SectionHandler) ReassignInstructor(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.ReassignInstructorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	section, err := h.sections.ReassignInstructor(c.Request.Context(), claims, c.Param("id"), req.InstructorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}
