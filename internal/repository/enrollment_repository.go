package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	"github.com/noah-isme/sma-adp-registrar/pkg/database"
)

const enrollmentColumns = `e.id, e.student_id, e.section_id, e.course_code, e.status, e.enrolled_at, e.dropped_at, e.completed_at`

// EnrollmentRepository handles persistence of enrollments and their status history.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment or sql.ErrNoRows.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments e WHERE e.id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindActive returns the student's ACTIVE enrollment in a section or sql.ErrNoRows.
func (r *EnrollmentRepository) FindActive(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments e WHERE e.student_id = $1 AND e.section_id = $2 AND e.status = $3 LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, sectionID, models.EnrollmentStatusActive); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// HasCompletedCourse reports whether the student completed courseCode with a
// final letter other than failingLetter.
func (r *EnrollmentRepository) HasCompletedCourse(ctx context.Context, studentID, courseCode, failingLetter string) (bool, error) {
	const query = `SELECT EXISTS (
    SELECT 1 FROM enrollments e
    LEFT JOIN grade_finals g ON g.enrollment_id = e.id
    WHERE e.student_id = $1 AND e.course_code = $2 AND e.status = $3
      AND COALESCE(g.final_grade, '') <> $4
)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseCode, models.EnrollmentStatusCompleted, failingLetter); err != nil {
		return false, fmt.Errorf("check completed course: %w", err)
	}
	return exists, nil
}

// Create inserts an enrollment together with its first history row.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment, changedBy *string) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO enrollments (id, student_id, section_id, course_code, status, enrolled_at, dropped_at, completed_at)
VALUES (:id, :student_id, :section_id, :course_code, :status, :enrolled_at, :dropped_at, :completed_at)`

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, enrollment); err != nil {
			return fmt.Errorf("create enrollment: %w", err)
		}
		return insertStatusChange(ctx, tx, &models.EnrollmentStatusChange{
			EnrollmentID: enrollment.ID,
			ToStatus:     enrollment.Status,
			ChangedBy:    changedBy,
			ChangedAt:    enrollment.EnrolledAt,
		})
	})
}

// TransitionStatus moves an enrollment from one status to another and appends
// a history row. It reports false when the enrollment was not in status from.
func (r *EnrollmentRepository) TransitionStatus(ctx context.Context, id string, from, to models.EnrollmentStatus, changedBy *string, at time.Time) (bool, error) {
	const query = `UPDATE enrollments SET status = $3,
    dropped_at = CASE WHEN $3 = 'DROPPED' THEN $4 ELSE dropped_at END,
    completed_at = CASE WHEN $3 = 'COMPLETED' THEN $4 ELSE completed_at END
WHERE id = $1 AND status = $2`

	applied := false
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, id, from, to, at)
		if err != nil {
			return fmt.Errorf("update enrollment status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update enrollment status rows: %w", err)
		}
		if affected == 0 {
			return nil
		}
		applied = true
		fromStatus := string(from)
		return insertStatusChange(ctx, tx, &models.EnrollmentStatusChange{
			EnrollmentID: id,
			FromStatus:   &fromStatus,
			ToStatus:     to,
			ChangedBy:    changedBy,
			ChangedAt:    at,
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ListByStudent returns the student's enrollments with section details and
// final letter, optionally filtered by status.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string, status models.EnrollmentStatus) ([]models.EnrollmentDetail, error) {
	query := `SELECT ` + enrollmentColumns + `, s.course_title, s.day_time, s.room, s.semester, s.year, g.final_grade
FROM enrollments e
JOIN sections s ON s.id = e.section_id
LEFT JOIN grade_finals g ON g.enrollment_id = e.id
WHERE e.student_id = $1`
	args := []interface{}{studentID}
	if status != "" {
		query += ` AND e.status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY s.year DESC, s.semester DESC, e.course_code ASC`

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListBySection returns the section's enrollments in any of the given statuses.
func (r *EnrollmentRepository) ListBySection(ctx context.Context, sectionID string, statuses ...models.EnrollmentStatus) ([]models.Enrollment, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments e WHERE e.section_id = $1 AND e.status = ANY($2) ORDER BY e.enrolled_at ASC`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, sectionID, pq.Array(values)); err != nil {
		return nil, fmt.Errorf("list section enrollments: %w", err)
	}
	return enrollments, nil
}

// ListStatusHistory returns the status trail of an enrollment, oldest first.
func (r *EnrollmentRepository) ListStatusHistory(ctx context.Context, enrollmentID string) ([]models.EnrollmentStatusChange, error) {
	const query = `SELECT id, enrollment_id, from_status, to_status, changed_by, changed_at
FROM enrollment_status_history WHERE enrollment_id = $1 ORDER BY changed_at ASC`
	var history []models.EnrollmentStatusChange
	if err := r.db.SelectContext(ctx, &history, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment history: %w", err)
	}
	return history, nil
}

func insertStatusChange(ctx context.Context, tx *sqlx.Tx, change *models.EnrollmentStatusChange) error {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	const query = `INSERT INTO enrollment_status_history (id, enrollment_id, from_status, to_status, changed_by, changed_at)
VALUES (:id, :enrollment_id, :from_status, :to_status, :changed_by, :changed_at)`
	if _, err := tx.NamedExecContext(ctx, query, change); err != nil {
		return fmt.Errorf("insert enrollment history: %w", err)
	}
	return nil
}
