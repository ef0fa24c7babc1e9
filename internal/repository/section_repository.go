package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
)

const sectionColumns = `s.id, s.course_code, s.course_title, s.credits, s.day_time, s.room, s.capacity, s.enrolled_count, s.instructor_id, s.semester, s.year`

// SectionRepository persists sections and their seat counters.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

// FindByID returns a section or sql.ErrNoRows.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM sections s WHERE s.id = $1`
	var section models.Section
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// ListActiveByStudent returns the sections a student currently holds an ACTIVE enrollment in.
func (r *SectionRepository) ListActiveByStudent(ctx context.Context, studentID string) ([]models.Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM sections s
JOIN enrollments e ON e.section_id = s.id
WHERE e.student_id = $1 AND e.status = $2
ORDER BY s.course_code ASC`
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, studentID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list student sections: %w", err)
	}
	return sections, nil
}

// IncrementEnrolled takes one seat if any is free. It reports false when the
// section is full; the check and increment are a single statement.
func (r *SectionRepository) IncrementEnrolled(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE sections SET enrolled_count = enrolled_count + 1 WHERE id = $1 AND enrolled_count < capacity`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("reserve seat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve seat rows: %w", err)
	}
	return affected == 1, nil
}

// DecrementEnrolled frees one seat, never going below zero.
func (r *SectionRepository) DecrementEnrolled(ctx context.Context, id string) error {
	const query = `UPDATE sections SET enrolled_count = GREATEST(enrolled_count - 1, 0) WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}

// UpdateInstructor sets or clears the instructor. Returns sql.ErrNoRows for an unknown section.
func (r *SectionRepository) UpdateInstructor(ctx context.Context, id string, instructorID *string) error {
	const query = `UPDATE sections SET instructor_id = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, instructorID)
	if err != nil {
		return fmt.Errorf("update section instructor: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update section instructor rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListActiveStudentIDs returns the students holding an ACTIVE seat in the section.
func (r *SectionRepository) ListActiveStudentIDs(ctx context.Context, sectionID string) ([]string, error) {
	const query = `SELECT student_id FROM enrollments WHERE section_id = $1 AND status = $2 ORDER BY student_id ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, sectionID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list section students: %w", err)
	}
	return ids, nil
}
