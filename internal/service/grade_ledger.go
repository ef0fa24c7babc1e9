package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
	"github.com/noah-isme/sma-adp-registrar/pkg/keylock"
)

type gradeStore interface {
	UpsertScore(ctx context.Context, sectionID string, score *models.GradeScore) (bool, error)
	ListScores(ctx context.Context, enrollmentID string) ([]models.GradeScore, error)
	ListScoresByEnrollments(ctx context.Context, enrollmentIDs []string) ([]models.GradeScore, error)
	FindFinal(ctx context.Context, enrollmentID string) (*models.GradeFinal, error)
	UpsertFinal(ctx context.Context, final *models.GradeFinal) error
	GetGrading(ctx context.Context, sectionID string) (*models.SectionGrading, error)
	CompareAndSetState(ctx context.Context, sectionID string, from, to models.GradingState) (bool, error)
	LockSection(ctx context.Context, sectionID string, finalizedBy *string, at time.Time) (bool, error)
	ListSectionRows(ctx context.Context, sectionID string) ([]models.SectionGradeRow, error)
}

type enrollmentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

// RecordScoreRequest is the payload for a single component score.
type RecordScoreRequest struct {
	Component string   `json:"component" binding:"required"`
	Score     *float64 `json:"score" binding:"required"`
}

// GradeLedger owns component scores and the grading lock of every section.
// Score writes and the OPEN to FINALIZING flip share one per-section lock.
type GradeLedger struct {
	grades      gradeStore
	enrollments enrollmentFinder
	roster      *SectionRoster
	gate        *MaintenanceGate
	locks       *keylock.Locker
	logger      *zap.Logger
	now         func() time.Time
}

// NewGradeLedger constructs the ledger.
func NewGradeLedger(grades gradeStore, enrollments enrollmentFinder, roster *SectionRoster, gate *MaintenanceGate, logger *zap.Logger) *GradeLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeLedger{
		grades:      grades,
		enrollments: enrollments,
		roster:      roster,
		gate:        gate,
		locks:       keylock.New(),
		logger:      logger,
		now:         time.Now,
	}
}

// RecordScore upserts one component score, last write wins.
func (l *GradeLedger) RecordScore(ctx context.Context, actor *models.JWTClaims, enrollmentID, component string, score float64) error {
	if err := l.gate.Guard(ctx); err != nil {
		return err
	}
	comp := models.GradeComponent(strings.ToUpper(strings.TrimSpace(component)))
	if !comp.Valid() {
		return appErrors.Clone(appErrors.ErrInvalidScore, fmt.Sprintf("unknown grade component %q", component))
	}
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return appErrors.Clone(appErrors.ErrInvalidScore, "score must be a non-negative number")
	}

	enrollment, err := l.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if err := l.authorizeInstructor(ctx, actor, enrollment.SectionID); err != nil {
		return err
	}

	unlock := l.locks.Lock(enrollment.SectionID)
	defer unlock()

	state, err := l.State(ctx, enrollment.SectionID)
	if err != nil {
		return err
	}
	if state.Locked() {
		return appErrors.ErrSectionLocked
	}
	if enrollment.Status == models.EnrollmentStatusDropped {
		return appErrors.Clone(appErrors.ErrNotEnrolled, "enrollment was dropped")
	}

	written, err := l.grades.UpsertScore(ctx, enrollment.SectionID, &models.GradeScore{
		EnrollmentID: enrollment.ID,
		Component:    comp,
		Score:        score,
		UpdatedBy:    optionalString(actor.ActorID()),
		UpdatedAt:    l.now().UTC(),
	})
	if err != nil {
		return appErrors.Internal(err, "failed to record score")
	}
	if !written {
		return appErrors.ErrSectionLocked
	}
	return nil
}

// GetEntry returns the scores and final grade of an enrollment. Students may
// only read their own entries; teachers only those of sections they teach.
func (l *GradeLedger) GetEntry(ctx context.Context, actor *models.JWTClaims, enrollmentID string) (*models.GradeEntry, error) {
	enrollment, err := l.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if actor != nil && actor.Role == models.RoleStudent {
		if actor.UserID != enrollment.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students can only view their own grades")
		}
	} else if err := l.authorizeInstructor(ctx, actor, enrollment.SectionID); err != nil {
		return nil, err
	}

	scores, err := l.grades.ListScores(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load scores")
	}
	state, err := l.State(ctx, enrollment.SectionID)
	if err != nil {
		return nil, err
	}

	entry := &models.GradeEntry{
		EnrollmentID: enrollment.ID,
		SectionID:    enrollment.SectionID,
		Scores:       make(map[models.GradeComponent]float64, len(scores)),
		Locked:       state.Locked(),
	}
	for _, s := range scores {
		entry.Scores[s.Component] = s.Score
	}

	final, err := l.grades.FindFinal(ctx, enrollment.ID)
	switch {
	case err == nil:
		weighted, letter := final.WeightedScore, final.FinalGrade
		entry.WeightedScore = &weighted
		entry.FinalGrade = &letter
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Internal(err, "failed to load final grade")
	}
	return entry, nil
}

// State returns the grading state; a section never finalized is OPEN.
func (l *GradeLedger) State(ctx context.Context, sectionID string) (models.GradingState, error) {
	grading, err := l.grades.GetGrading(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.GradingStateOpen, nil
		}
		return "", appErrors.Internal(err, "failed to load grading state")
	}
	return grading.State, nil
}

// IsLocked reports whether score edits are rejected for the section.
func (l *GradeLedger) IsLocked(ctx context.Context, sectionID string) (bool, error) {
	state, err := l.State(ctx, sectionID)
	if err != nil {
		return false, err
	}
	return state.Locked(), nil
}

// BeginFinalize flips the section from OPEN to FINALIZING. Only one caller
// can win; every other one gets ErrAlreadyFinalized.
func (l *GradeLedger) BeginFinalize(ctx context.Context, sectionID string) error {
	unlock := l.locks.Lock(sectionID)
	defer unlock()

	ok, err := l.grades.CompareAndSetState(ctx, sectionID, models.GradingStateOpen, models.GradingStateFinalizing)
	if err != nil {
		return appErrors.Internal(err, "failed to begin finalization")
	}
	if ok {
		return nil
	}
	state, err := l.State(ctx, sectionID)
	if err != nil {
		return err
	}
	if state == models.GradingStateFinalizing {
		return appErrors.Clone(appErrors.ErrAlreadyFinalized, "section grading is being finalized")
	}
	return appErrors.ErrAlreadyFinalized
}

// AbortFinalize returns a FINALIZING section to OPEN so finalization can be retried.
func (l *GradeLedger) AbortFinalize(ctx context.Context, sectionID string) error {
	unlock := l.locks.Lock(sectionID)
	defer unlock()

	if _, err := l.grades.CompareAndSetState(ctx, sectionID, models.GradingStateFinalizing, models.GradingStateOpen); err != nil {
		return appErrors.Internal(err, "failed to roll back finalization")
	}
	return nil
}

// WriteFinal stores the computed grade of one enrollment. Locked grades are left untouched.
func (l *GradeLedger) WriteFinal(ctx context.Context, sectionID, enrollmentID string, weighted float64, letter string) error {
	err := l.grades.UpsertFinal(ctx, &models.GradeFinal{
		EnrollmentID:  enrollmentID,
		SectionID:     sectionID,
		WeightedScore: weighted,
		FinalGrade:    letter,
		ComputedAt:    l.now().UTC(),
	})
	if err != nil {
		return appErrors.Internal(err, "failed to write final grade")
	}
	return nil
}

// LockSection locks every final grade of a FINALIZING section and marks it FINALIZED.
func (l *GradeLedger) LockSection(ctx context.Context, sectionID, actorID string) (time.Time, error) {
	unlock := l.locks.Lock(sectionID)
	defer unlock()

	at := l.now().UTC()
	ok, err := l.grades.LockSection(ctx, sectionID, optionalString(actorID), at)
	if err != nil {
		return time.Time{}, appErrors.Internal(err, "failed to lock section grades")
	}
	if !ok {
		return time.Time{}, appErrors.Clone(appErrors.ErrAlreadyFinalized, "section is not being finalized")
	}
	return at, nil
}

// LoadSectionScores returns the component scores of each enrollment id.
func (l *GradeLedger) LoadSectionScores(ctx context.Context, enrollmentIDs []string) (map[string]map[models.GradeComponent]float64, error) {
	scores, err := l.grades.ListScoresByEnrollments(ctx, enrollmentIDs)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load section scores")
	}
	result := make(map[string]map[models.GradeComponent]float64, len(enrollmentIDs))
	for _, s := range scores {
		entry, ok := result[s.EnrollmentID]
		if !ok {
			entry = make(map[models.GradeComponent]float64, len(models.GradeComponents))
			result[s.EnrollmentID] = entry
		}
		entry[s.Component] = s.Score
	}
	return result, nil
}

// SectionRows returns the stored grades of a section for export.
func (l *GradeLedger) SectionRows(ctx context.Context, sectionID string) ([]models.SectionGradeRow, error) {
	rows, err := l.grades.ListSectionRows(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load section grades")
	}
	return rows, nil
}

// AuthorizeSection allows admins and the section's instructor.
func (l *GradeLedger) AuthorizeSection(ctx context.Context, actor *models.JWTClaims, sectionID string) error {
	return l.authorizeInstructor(ctx, actor, sectionID)
}

func (l *GradeLedger) authorizeInstructor(ctx context.Context, actor *models.JWTClaims, sectionID string) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor == nil || actor.Role != models.RoleTeacher {
		return appErrors.Clone(appErrors.ErrForbidden, "only the section instructor can manage grades")
	}
	section, err := l.roster.Get(ctx, sectionID)
	if err != nil {
		return err
	}
	if !section.HasInstructor() || *section.InstructorID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the section instructor can manage grades")
	}
	return nil
}

func (l *GradeLedger) loadEnrollment(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	enrollment, err := l.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Internal(err, "failed to load enrollment")
	}
	return enrollment, nil
}
