package models

// ScheduleConflict identifies the enrolled section that overlaps a requested one.
type ScheduleConflict struct {
	SectionID   string `json:"section_id"`
	CourseCode  string `json:"course_code"`
	CourseTitle string `json:"course_title"`
	DayTime     string `json:"day_time"`
}

// ScheduleConflictError is returned when a registration would double-book a student.
type ScheduleConflictError struct {
	Message  string           `json:"message"`
	Conflict ScheduleConflict `json:"conflict"`
}

// Error implements the error interface for conflict errors.
func (e *ScheduleConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
