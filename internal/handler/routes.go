package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-adp-registrar/internal/middleware"
	"github.com/noah-isme/sma-adp-registrar/internal/models"
)

// Routes bundles the API handlers mounted under the API prefix.
type Routes struct {
	Enrollments   *EnrollmentHandler
	Grades        *GradeHandler
	Sections      *SectionHandler
	Admin         *AdminHandler
	Notifications *NotificationHandler
}

// Register mounts every route on api. auth must populate the caller's claims.
func (r Routes) Register(api *gin.RouterGroup, auth gin.HandlerFunc) {
	student := middleware.RBAC(models.RoleStudent, models.RoleAdmin)
	staff := middleware.RBAC(models.RoleTeacher, models.RoleAdmin)
	admin := middleware.RBAC(models.RoleAdmin)

	secured := api.Group("", auth)

	enrollments := secured.Group("/enrollments")
	enrollments.POST("", student, r.Enrollments.Register)
	enrollments.GET("", student, r.Enrollments.List)
	enrollments.DELETE("/:sectionId", student, r.Enrollments.Drop)

	grades := secured.Group("/grades")
	grades.PUT("/:enrollmentId", staff, r.Grades.RecordScore)
	grades.GET("/:enrollmentId", middleware.RBAC(models.RoleTeacher, models.RoleAdmin, models.RoleStudent), r.Grades.GetEntry)

	sections := secured.Group("/sections")
	sections.GET("/:id", r.Sections.Get)
	sections.POST("/:id/finalize", staff, r.Sections.Finalize)
	sections.GET("/:id/grades/export", staff, r.Sections.Export)
	sections.PUT("/:id/instructor", admin, r.Sections.ReassignInstructor)

	adminGroup := secured.Group("/admin")
	adminGroup.GET("/maintenance", r.Admin.GetMaintenance)
	adminGroup.PUT("/maintenance", admin, r.Admin.SetMaintenance)
	adminGroup.PUT("/drop-deadline", admin, r.Admin.SetDropDeadline)

	notifications := secured.Group("/notifications")
	notifications.POST("", staff, r.Notifications.Send)
	notifications.GET("", r.Notifications.List)
}
