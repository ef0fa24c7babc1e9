package models

import "time"

// GradeComponent names one graded piece of work.
type GradeComponent string

const (
	GradeComponentQuiz       GradeComponent = "QUIZ"
	GradeComponentAssignment GradeComponent = "ASSIGNMENT"
	GradeComponentMidterm    GradeComponent = "MIDTERM"
	GradeComponentEndterm    GradeComponent = "ENDTERM"
)

// GradeComponents lists every component in display order.
var GradeComponents = []GradeComponent{
	GradeComponentQuiz,
	GradeComponentAssignment,
	GradeComponentMidterm,
	GradeComponentEndterm,
}

// Valid reports whether c is a known component.
func (c GradeComponent) Valid() bool {
	switch c {
	case GradeComponentQuiz, GradeComponentAssignment, GradeComponentMidterm, GradeComponentEndterm:
		return true
	default:
		return false
	}
}

// GradingState is the finalization lifecycle of a section.
type GradingState string

const (
	GradingStateOpen       GradingState = "OPEN"
	GradingStateFinalizing GradingState = "FINALIZING"
	GradingStateFinalized  GradingState = "FINALIZED"
)

// Locked reports whether score edits are rejected in this state.
func (s GradingState) Locked() bool {
	return s == GradingStateFinalizing || s == GradingStateFinalized
}

// GradeScore is a single persisted component score.
type GradeScore struct {
	EnrollmentID string         `db:"enrollment_id" json:"enrollment_id"`
	Component    GradeComponent `db:"component" json:"component"`
	Score        float64        `db:"score" json:"score"`
	UpdatedBy    *string        `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// GradeFinal stores the computed result for an enrollment.
type GradeFinal struct {
	EnrollmentID  string    `db:"enrollment_id" json:"enrollment_id"`
	SectionID     string    `db:"section_id" json:"section_id"`
	WeightedScore float64   `db:"weighted_score" json:"weighted_score"`
	FinalGrade    string    `db:"final_grade" json:"final_grade"`
	Locked        bool      `db:"locked" json:"locked"`
	ComputedAt    time.Time `db:"computed_at" json:"computed_at"`
}

// GradeEntry is the per-enrollment view of scores and the final grade.
type GradeEntry struct {
	EnrollmentID  string                     `json:"enrollment_id"`
	SectionID     string                     `json:"section_id"`
	Scores        map[GradeComponent]float64 `json:"scores"`
	WeightedScore *float64                   `json:"weighted_score,omitempty"`
	FinalGrade    *string                    `json:"final_grade,omitempty"`
	Locked        bool                       `json:"locked"`
}

// SectionGrading persists a section's grading state.
type SectionGrading struct {
	SectionID   string       `db:"section_id" json:"section_id"`
	State       GradingState `db:"state" json:"state"`
	FinalizedAt *time.Time   `db:"finalized_at" json:"finalized_at,omitempty"`
	FinalizedBy *string      `db:"finalized_by" json:"finalized_by,omitempty"`
}

// FinalizationFailure records an entry that could not be finalized.
type FinalizationFailure struct {
	EnrollmentID string `json:"enrollment_id"`
	StudentID    string `json:"student_id"`
	Reason       string `json:"reason"`
}

// FinalizationSummary is returned once a section's grades are locked.
type FinalizationSummary struct {
	SectionID    string                `json:"section_id"`
	Finalized    int                   `json:"finalized"`
	Distribution map[string]int        `json:"distribution"`
	Failures     []FinalizationFailure `json:"failures,omitempty"`
	FinalizedAt  time.Time             `json:"finalized_at"`
}

// SectionGradeRow is one line of a section grade export.
type SectionGradeRow struct {
	EnrollmentID  string   `db:"enrollment_id" json:"enrollment_id"`
	StudentID     string   `db:"student_id" json:"student_id"`
	WeightedScore *float64 `db:"weighted_score" json:"weighted_score,omitempty"`
	FinalGrade    *string  `db:"final_grade" json:"final_grade,omitempty"`
}
