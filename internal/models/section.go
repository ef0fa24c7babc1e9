package models

// Section is one scheduled offering of a course.
type Section struct {
	ID            string  `db:"id" json:"id"`
	CourseCode    string  `db:"course_code" json:"course_code"`
	CourseTitle   string  `db:"course_title" json:"course_title"`
	Credits       int     `db:"credits" json:"credits"`
	DayTime       string  `db:"day_time" json:"day_time"`
	Room          string  `db:"room" json:"room"`
	Capacity      int     `db:"capacity" json:"capacity"`
	EnrolledCount int     `db:"enrolled_count" json:"enrolled_count"`
	InstructorID  *string `db:"instructor_id" json:"instructor_id,omitempty"`
	Semester      string  `db:"semester" json:"semester"`
	Year          int     `db:"year" json:"year"`
}

// SeatsAvailable returns the number of free seats, never negative.
func (s Section) SeatsAvailable() int {
	if s.EnrolledCount >= s.Capacity {
		return 0
	}
	return s.Capacity - s.EnrolledCount
}

// HasInstructor reports whether the section has an assigned instructor.
func (s Section) HasInstructor() bool {
	return s.InstructorID != nil && *s.InstructorID != ""
}

// RosterView is the read view of a section with its active students.
type RosterView struct {
	Section      Section      `json:"section"`
	GradingState GradingState `json:"grading_state"`
	Students     []string     `json:"students"`
}
