package service

import (
	"errors"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
)

// ScheduleConflictChecker decides whether two meeting times overlap.
type ScheduleConflictChecker struct{}

// NewScheduleConflictChecker constructs the checker.
func NewScheduleConflictChecker() *ScheduleConflictChecker {
	return &ScheduleConflictChecker{}
}

// Conflicts reports whether a and b share a day and their half-open
// [Start, End) ranges overlap. Back-to-back meetings do not conflict.
func (c *ScheduleConflictChecker) Conflicts(a, b models.DayTimeSpec) bool {
	if a.Days&b.Days == 0 {
		return false
	}
	return a.Start < b.End && b.Start < a.End
}

// ConflictsRaw parses both day/time strings first. Unparseable input is an
// ErrScheduleParse error, never a silent "no conflict".
func (c *ScheduleConflictChecker) ConflictsRaw(a, b string) (bool, error) {
	specA, err := ParseSchedule(a)
	if err != nil {
		return false, err
	}
	specB, err := ParseSchedule(b)
	if err != nil {
		return false, err
	}
	return c.Conflicts(specA, specB), nil
}

// ParseSchedule parses a section day/time string, mapping failures to ErrScheduleParse
// with the parse detail attached.
func ParseSchedule(raw string) (models.DayTimeSpec, error) {
	spec, err := models.ParseDayTimeSpec(raw)
	if err != nil {
		appErr := appErrors.Wrap(err, appErrors.ErrScheduleParse.Code, appErrors.ErrScheduleParse.Status, err.Error())
		var parseErr *models.DayTimeParseError
		if errors.As(err, &parseErr) {
			appErr.Details = parseErr
		}
		return models.DayTimeSpec{}, appErr
	}
	return spec, nil
}
