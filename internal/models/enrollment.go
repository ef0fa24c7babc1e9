package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusDropped   EnrollmentStatus = "DROPPED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// Enrollment links a student to a section. Rows are never deleted.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	SectionID   string           `db:"section_id" json:"section_id"`
	CourseCode  string           `db:"course_code" json:"course_code"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt  time.Time        `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt   *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	CompletedAt *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with section info and the final letter.
type EnrollmentDetail struct {
	Enrollment
	CourseTitle string  `db:"course_title" json:"course_title"`
	DayTime     string  `db:"day_time" json:"day_time"`
	Room        string  `db:"room" json:"room"`
	Semester    string  `db:"semester" json:"semester"`
	Year        int     `db:"year" json:"year"`
	FinalGrade  *string `db:"final_grade" json:"final_grade,omitempty"`
}

// EnrollmentStatusChange is one append-only history row.
type EnrollmentStatusChange struct {
	ID           string           `db:"id" json:"id"`
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	FromStatus   *string          `db:"from_status" json:"from_status,omitempty"`
	ToStatus     EnrollmentStatus `db:"to_status" json:"to_status"`
	ChangedBy    *string          `db:"changed_by" json:"changed_by,omitempty"`
	ChangedAt    time.Time        `db:"changed_at" json:"changed_at"`
}
