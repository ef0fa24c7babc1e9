package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
	"github.com/noah-isme/sma-adp-registrar/pkg/keylock"
)

type sectionStore interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	ListActiveByStudent(ctx context.Context, studentID string) ([]models.Section, error)
	IncrementEnrolled(ctx context.Context, id string) (bool, error)
	DecrementEnrolled(ctx context.Context, id string) error
	UpdateInstructor(ctx context.Context, id string, instructorID *string) error
	ListActiveStudentIDs(ctx context.Context, sectionID string) ([]string, error)
}

// SectionRoster owns the enrolled-count/capacity invariant of every section.
// Seat changes are serialized per section in-process and applied with a
// conditional update so concurrent instances cannot oversell either.
type SectionRoster struct {
	sections sectionStore
	locks    *keylock.Locker
	logger   *zap.Logger
}

// NewSectionRoster constructs the roster.
func NewSectionRoster(sections sectionStore, logger *zap.Logger) *SectionRoster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SectionRoster{sections: sections, locks: keylock.New(), logger: logger}
}

// TryReserveSeat takes one seat or fails with ErrCapacityExceeded.
func (r *SectionRoster) TryReserveSeat(ctx context.Context, sectionID string) error {
	unlock := r.locks.Lock(sectionID)
	defer unlock()

	ok, err := r.sections.IncrementEnrolled(ctx, sectionID)
	if err != nil {
		return appErrors.Internal(err, "failed to reserve seat")
	}
	if ok {
		return nil
	}

	section, err := r.Get(ctx, sectionID)
	if err != nil {
		return err
	}
	return appErrors.Clone(appErrors.ErrCapacityExceeded,
		fmt.Sprintf("section %s is full (%d/%d)", section.CourseCode, section.EnrolledCount, section.Capacity))
}

// ReleaseSeat frees one seat. The counter never drops below zero.
func (r *SectionRoster) ReleaseSeat(ctx context.Context, sectionID string) error {
	unlock := r.locks.Lock(sectionID)
	defer unlock()

	if err := r.sections.DecrementEnrolled(ctx, sectionID); err != nil {
		return appErrors.Internal(err, "failed to release seat")
	}
	return nil
}

// AssignInstructor sets the section instructor; an empty id unassigns it.
func (r *SectionRoster) AssignInstructor(ctx context.Context, sectionID, instructorID string) error {
	if err := r.sections.UpdateInstructor(ctx, sectionID, optionalString(instructorID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return appErrors.Internal(err, "failed to assign instructor")
	}
	return nil
}

// Get returns the section or ErrNotFound.
func (r *SectionRoster) Get(ctx context.Context, sectionID string) (*models.Section, error) {
	section, err := r.sections.FindByID(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Internal(err, "failed to load section")
	}
	return section, nil
}

// ActiveStudents lists the students holding a seat in the section.
func (r *SectionRoster) ActiveStudents(ctx context.Context, sectionID string) ([]string, error) {
	ids, err := r.sections.ListActiveStudentIDs(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load section roster")
	}
	return ids, nil
}

// StudentTimetable returns the sections the student currently occupies.
func (r *SectionRoster) StudentTimetable(ctx context.Context, studentID string) ([]models.Section, error) {
	sections, err := r.sections.ListActiveByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load student timetable")
	}
	return sections, nil
}
