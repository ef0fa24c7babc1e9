package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
	"github.com/noah-isme/sma-adp-registrar/pkg/keylock"
)

type enrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindActive(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error)
	HasCompletedCourse(ctx context.Context, studentID, courseCode, failingLetter string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment, changedBy *string) error
	TransitionStatus(ctx context.Context, id string, from, to models.EnrollmentStatus, changedBy *string, at time.Time) (bool, error)
	ListByStudent(ctx context.Context, studentID string, status models.EnrollmentStatus) ([]models.EnrollmentDetail, error)
	ListBySection(ctx context.Context, sectionID string, statuses ...models.EnrollmentStatus) ([]models.Enrollment, error)
}

type notificationSender interface {
	Send(ctx context.Context, senderID string, req SendNotificationRequest) (*models.Notification, error)
}

// RegisterRequest is the payload for a registration.
type RegisterRequest struct {
	SectionID string `json:"section_id" binding:"required"`
	StudentID string `json:"student_id"`
}

// ReassignInstructorRequest is the payload for an instructor change; an
// empty InstructorID leaves the section unassigned.
type ReassignInstructorRequest struct {
	InstructorID string `json:"instructor_id"`
}

// EnrollmentServiceParams groups constructor dependencies.
type EnrollmentServiceParams struct {
	Enrollments enrollmentStore
	Roster      *SectionRoster
	Ledger      *GradeLedger
	Conflicts   *ScheduleConflictChecker
	Gate        *MaintenanceGate
	Policies    PolicyStore
	Calculator  *GradeCalculator
	Notifier    notificationSender
	Audits      auditStore
	Metrics     *MetricsService
	// SectionLocks is shared with FinalizationWorkflow.
	SectionLocks *keylock.Locker
	Location     *time.Location
	Logger       *zap.Logger
}

// EnrollmentService orchestrates registration and drops. Every workflow holds
// the student lock, then the section workflow lock.
type EnrollmentService struct {
	enrollments  enrollmentStore
	roster       *SectionRoster
	ledger       *GradeLedger
	conflicts    *ScheduleConflictChecker
	gate         *MaintenanceGate
	policies     PolicyStore
	calculator   *GradeCalculator
	notifier     notificationSender
	audit        auditRecorder
	metrics      *MetricsService
	studentLocks *keylock.Locker
	sectionLocks *keylock.Locker
	location     *time.Location
	logger       *zap.Logger
	now          func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(params EnrollmentServiceParams) *EnrollmentService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := params.Location
	if loc == nil {
		loc = time.UTC
	}
	sectionLocks := params.SectionLocks
	if sectionLocks == nil {
		sectionLocks = keylock.New()
	}
	conflicts := params.Conflicts
	if conflicts == nil {
		conflicts = NewScheduleConflictChecker()
	}
	calculator := params.Calculator
	if calculator == nil {
		calculator = NewGradeCalculator(DefaultGradePolicy())
	}
	return &EnrollmentService{
		enrollments:  params.Enrollments,
		roster:       params.Roster,
		ledger:       params.Ledger,
		conflicts:    conflicts,
		gate:         params.Gate,
		policies:     params.Policies,
		calculator:   calculator,
		notifier:     params.Notifier,
		audit:        newAuditRecorder(params.Audits, logger),
		metrics:      params.Metrics,
		studentLocks: keylock.New(),
		sectionLocks: sectionLocks,
		location:     loc,
		logger:       logger,
		now:          time.Now,
	}
}

// Register enrolls the student into the section. A failure leaves neither a
// reserved seat nor an enrollment row behind.
func (s *EnrollmentService) Register(ctx context.Context, actor *models.JWTClaims, studentID, sectionID string) (enrollment *models.Enrollment, err error) {
	defer func() { s.metrics.RecordRegistration(err) }()

	if err = s.gate.Guard(ctx); err != nil {
		return nil, err
	}
	if studentID == "" || sectionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "studentId and sectionId are required")
	}
	if err = authorizeStudent(actor, studentID); err != nil {
		return nil, err
	}

	unlockStudent := s.studentLocks.Lock(studentID)
	defer unlockStudent()
	unlockSection := s.sectionLocks.Lock(sectionID)
	defer unlockSection()

	var (
		section   *models.Section
		timetable []models.Section
		state     models.GradingState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		section, err = s.roster.Get(gctx, sectionID)
		return err
	})
	g.Go(func() error {
		var err error
		timetable, err = s.roster.StudentTimetable(gctx, studentID)
		return err
	})
	g.Go(func() error {
		var err error
		state, err = s.ledger.State(gctx, sectionID)
		return err
	})
	if err = g.Wait(); err != nil {
		return nil, err
	}
	if state != models.GradingStateOpen {
		return nil, appErrors.Clone(appErrors.ErrSectionLocked, "section grading is closed to new registrations")
	}

	if err = s.checkDuplicate(ctx, studentID, section, timetable); err != nil {
		return nil, err
	}
	if err = s.checkConflicts(section, timetable); err != nil {
		return nil, err
	}

	if err = s.roster.TryReserveSeat(ctx, sectionID); err != nil {
		return nil, err
	}

	enrollment = &models.Enrollment{
		StudentID:  studentID,
		SectionID:  sectionID,
		CourseCode: section.CourseCode,
		Status:     models.EnrollmentStatusActive,
		EnrolledAt: s.now().UTC(),
	}
	if createErr := s.enrollments.Create(ctx, enrollment, optionalString(actor.ActorID())); createErr != nil {
		if releaseErr := s.roster.ReleaseSeat(ctx, sectionID); releaseErr != nil {
			s.logger.Error("failed to release seat after enrollment write failure",
				zap.String("section_id", sectionID), zap.String("student_id", studentID), zap.Error(releaseErr))
		} else {
			s.logger.Info("released seat after enrollment write failure", zap.String("section_id", sectionID), zap.String("student_id", studentID))
		}
		err = appErrors.Internal(createErr, "failed to create enrollment")
		return nil, err
	}

	s.logger.Info("student registered",
		zap.String("enrollment_id", enrollment.ID), zap.String("student_id", studentID), zap.String("section_id", sectionID))
	return enrollment, nil
}

// Drop withdraws the student's ACTIVE enrollment and frees its seat.
// Administrators are not bound by the drop deadline. Nobody may drop once the
// section's grading has left OPEN.
func (s *EnrollmentService) Drop(ctx context.Context, actor *models.JWTClaims, studentID, sectionID string) (err error) {
	defer func() { s.metrics.RecordDrop(err) }()

	if err = s.gate.Guard(ctx); err != nil {
		return err
	}
	if err = authorizeStudent(actor, studentID); err != nil {
		return err
	}

	unlockStudent := s.studentLocks.Lock(studentID)
	defer unlockStudent()
	unlockSection := s.sectionLocks.Lock(sectionID)
	defer unlockSection()

	enrollment, err := s.enrollments.FindActive(ctx, studentID, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.ErrNotEnrolled
			return err
		}
		err = appErrors.Internal(err, "failed to load enrollment")
		return err
	}

	state, err := s.ledger.State(ctx, sectionID)
	if err != nil {
		return err
	}
	if state.Locked() {
		err = appErrors.Clone(appErrors.ErrSectionLocked, "section grades are finalized")
		return err
	}

	now := s.now()
	if !actor.IsAdmin() {
		var section *models.Section
		if section, err = s.roster.Get(ctx, sectionID); err != nil {
			return err
		}
		if err = s.checkDeadline(ctx, section, now); err != nil {
			return err
		}
	}

	applied, err := s.enrollments.TransitionStatus(ctx, enrollment.ID, models.EnrollmentStatusActive, models.EnrollmentStatusDropped, optionalString(actor.ActorID()), now.UTC())
	if err != nil {
		err = appErrors.Internal(err, "failed to drop enrollment")
		return err
	}
	if !applied {
		err = appErrors.ErrNotEnrolled
		return err
	}
	if err = s.roster.ReleaseSeat(ctx, sectionID); err != nil {
		s.logger.Error("enrollment dropped but seat release failed",
			zap.String("enrollment_id", enrollment.ID), zap.String("section_id", sectionID), zap.Error(err))
		return err
	}

	if actor.IsAdmin() && actor.UserID != studentID {
		s.audit.record(ctx, actor, models.AuditActionEnrollmentAdminDrop, "enrollment", enrollment.ID,
			map[string]string{"status": string(models.EnrollmentStatusActive)},
			map[string]string{"status": string(models.EnrollmentStatusDropped)})
	}
	s.logger.Info("enrollment dropped",
		zap.String("enrollment_id", enrollment.ID), zap.String("student_id", studentID), zap.String("section_id", sectionID))
	return nil
}

// ReassignInstructor changes the section instructor and notifies the new one. Admin only.
func (s *EnrollmentService) ReassignInstructor(ctx context.Context, actor *models.JWTClaims, sectionID, instructorID string) (*models.Section, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can reassign instructors")
	}
	if err := s.gate.Guard(ctx); err != nil {
		return nil, err
	}
	before, err := s.roster.Get(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if err := s.roster.AssignInstructor(ctx, sectionID, instructorID); err != nil {
		return nil, err
	}
	after, err := s.roster.Get(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	s.audit.record(ctx, actor, models.AuditActionInstructorReassign, "section", sectionID,
		map[string]*string{"instructor_id": before.InstructorID},
		map[string]*string{"instructor_id": after.InstructorID})

	if instructorID != "" && s.notifier != nil {
		_, sendErr := s.notifier.Send(ctx, actor.UserID, SendNotificationRequest{
			RecipientType: string(models.RecipientInstructor),
			RecipientID:   instructorID,
			Title:         fmt.Sprintf("New teaching assignment: %s", after.CourseCode),
			Message:       fmt.Sprintf("You are now the instructor of %s %s (%s, room %s).", after.CourseCode, after.CourseTitle, after.DayTime, after.Room),
		})
		if sendErr != nil {
			s.logger.Warn("failed to notify instructor", zap.String("section_id", sectionID), zap.String("instructor_id", instructorID), zap.Error(sendErr))
		}
	}
	s.logger.Info("instructor reassigned", zap.String("section_id", sectionID), zap.String("instructor_id", instructorID))
	return after, nil
}

// ListStudentEnrollments returns the student's enrollments, optionally filtered by status.
func (s *EnrollmentService) ListStudentEnrollments(ctx context.Context, actor *models.JWTClaims, studentID string, status models.EnrollmentStatus) ([]models.EnrollmentDetail, error) {
	if err := authorizeStudent(actor, studentID); err != nil {
		return nil, err
	}
	switch status {
	case "", models.EnrollmentStatusActive, models.EnrollmentStatusDropped, models.EnrollmentStatusCompleted:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown enrollment status %q", status))
	}
	list, err := s.enrollments.ListByStudent(ctx, studentID, status)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list enrollments")
	}
	if list == nil {
		list = []models.EnrollmentDetail{}
	}
	return list, nil
}

// Roster returns the section with its grading state and active students.
func (s *EnrollmentService) Roster(ctx context.Context, sectionID string) (*models.RosterView, error) {
	section, err := s.roster.Get(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	state, err := s.ledger.State(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	students, err := s.roster.ActiveStudents(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if students == nil {
		students = []string{}
	}
	return &models.RosterView{Section: *section, GradingState: state, Students: students}, nil
}

// checkDuplicate rejects an ACTIVE enrollment in the same section or course
// and a completed course unless it was failed.
func (s *EnrollmentService) checkDuplicate(ctx context.Context, studentID string, section *models.Section, timetable []models.Section) error {
	if _, err := s.enrollments.FindActive(ctx, studentID, section.ID); err == nil {
		return appErrors.ErrAlreadyEnrolled
	} else if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Internal(err, "failed to check existing enrollment")
	}
	for _, other := range timetable {
		if other.ID == section.ID {
			return appErrors.ErrAlreadyEnrolled
		}
		if other.CourseCode == section.CourseCode {
			return appErrors.Clone(appErrors.ErrAlreadyEnrolled,
				fmt.Sprintf("student is already enrolled in another section of %s", section.CourseCode))
		}
	}
	completed, err := s.enrollments.HasCompletedCourse(ctx, studentID, section.CourseCode, s.calculator.FailingLetter())
	if err != nil {
		return appErrors.Internal(err, "failed to check completed courses")
	}
	if completed {
		return appErrors.Clone(appErrors.ErrAlreadyEnrolled, fmt.Sprintf("student has already completed %s", section.CourseCode))
	}
	return nil
}

func (s *EnrollmentService) checkConflicts(section *models.Section, timetable []models.Section) error {
	target, err := ParseSchedule(section.DayTime)
	if err != nil {
		return err
	}
	for _, other := range timetable {
		spec, err := ParseSchedule(other.DayTime)
		if err != nil {
			return err
		}
		if !s.conflicts.Conflicts(target, spec) {
			continue
		}
		conflict := models.ScheduleConflict{
			SectionID:   other.ID,
			CourseCode:  other.CourseCode,
			CourseTitle: other.CourseTitle,
			DayTime:     other.DayTime,
		}
		msg := fmt.Sprintf("%s (%s) overlaps with %s %s (%s)", section.CourseCode, section.DayTime, other.CourseCode, other.CourseTitle, other.DayTime)
		appErr := appErrors.Wrap(&models.ScheduleConflictError{Message: msg, Conflict: conflict},
			appErrors.ErrScheduleConflict.Code, appErrors.ErrScheduleConflict.Status, msg)
		appErr.Details = conflict
		return appErr
	}
	return nil
}

// checkDeadline compares calendar dates in the engine time zone; the deadline
// day itself is still allowed.
func (s *EnrollmentService) checkDeadline(ctx context.Context, section *models.Section, now time.Time) error {
	deadline, err := s.policies.DropDeadline(ctx, section.Semester, section.Year)
	if err != nil {
		return err
	}
	if deadline == nil {
		return nil
	}
	today := calendarDate(now, s.location)
	last := calendarDate(*deadline, s.location)
	if today.After(last) {
		return appErrors.Clone(appErrors.ErrDeadlinePassed,
			fmt.Sprintf("drop deadline %s has passed", last.Format("2006-01-02")))
	}
	return nil
}

func calendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// authorizeStudent allows admins and the student acting for themselves.
func authorizeStudent(actor *models.JWTClaims, studentID string) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor == nil || actor.UserID != studentID {
		return appErrors.Clone(appErrors.ErrForbidden, "students can only manage their own enrollments")
	}
	return nil
}
