package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	"github.com/noah-isme/sma-adp-registrar/internal/service"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
	"github.com/noah-isme/sma-adp-registrar/pkg/response"
)

type enrollmentService interface {
	Register(ctx context.Context, actor *models.JWTClaims, studentID, sectionID string) (*models.Enrollment, error)
	Drop(ctx context.Context, actor *models.JWTClaims, studentID, sectionID string) error
	ListStudentEnrollments(ctx context.Context, actor *models.JWTClaims, studentID string, status models.EnrollmentStatus) ([]models.EnrollmentDetail, error)
}

// EnrollmentHandler exposes registration and drop endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs the handler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Register godoc
// @Summary Register for a section
// @Description Students register themselves; administrators may pass student_id.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Register(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	studentID := req.StudentID
	if studentID == "" {
		studentID = claims.UserID
	}
	enrollment, err := h.enrollments.Register(c.Request.Context(), claims, studentID, req.SectionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Drop godoc
// @Summary Drop a section
// @Tags Enrollments
// @Produce json
// @Param sectionId path string true "Section ID"
// @Param studentId query string false "Student ID (administrators only)"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /enrollments/{sectionId} [delete]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	studentID := c.Query("studentId")
	if studentID == "" {
		studentID = claims.UserID
	}
	if err := h.enrollments.Drop(c.Request.Context(), claims, studentID, c.Param("sectionId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// List godoc
// @Summary List a student's enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Student ID (administrators only)"
// @Param status query string false "ACTIVE, DROPPED or COMPLETED"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	studentID := c.Query("studentId")
	if studentID == "" {
		studentID = claims.UserID
	}
	status := models.EnrollmentStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	list, err := h.enrollments.ListStudentEnrollments(c.Request.Context(), claims, studentID, status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}
