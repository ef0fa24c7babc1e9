package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	"github.com/noah-isme/sma-adp-registrar/pkg/database"
)

// GradeRepository persists component scores, final grades and per-section grading state.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs the repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// UpsertScore writes a component score, last write wins. The write is skipped
// and false returned when the section has left the OPEN grading state.
func (r *GradeRepository) UpsertScore(ctx context.Context, sectionID string, score *models.GradeScore) (bool, error) {
	if score.UpdatedAt.IsZero() {
		score.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO grade_scores (enrollment_id, component, score, updated_by, updated_at)
SELECT $1, $2, $3, $4, $5
WHERE NOT EXISTS (SELECT 1 FROM section_gradings WHERE section_id = $6 AND state <> 'OPEN')
ON CONFLICT (enrollment_id, component)
DO UPDATE SET score = EXCLUDED.score, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	res, err := r.db.ExecContext(ctx, query, score.EnrollmentID, score.Component, score.Score, score.UpdatedBy, score.UpdatedAt, sectionID)
	if err != nil {
		return false, fmt.Errorf("upsert grade score: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert grade score rows: %w", err)
	}
	return affected > 0, nil
}

// ListScores returns every recorded component for an enrollment.
func (r *GradeRepository) ListScores(ctx context.Context, enrollmentID string) ([]models.GradeScore, error) {
	const query = `SELECT enrollment_id, component, score, updated_by, updated_at FROM grade_scores WHERE enrollment_id = $1`
	var scores []models.GradeScore
	if err := r.db.SelectContext(ctx, &scores, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list grade scores: %w", err)
	}
	return scores, nil
}

// ListScoresByEnrollments loads scores for many enrollments in one round trip.
func (r *GradeRepository) ListScoresByEnrollments(ctx context.Context, enrollmentIDs []string) ([]models.GradeScore, error) {
	if len(enrollmentIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT enrollment_id, component, score, updated_by, updated_at FROM grade_scores WHERE enrollment_id = ANY($1)`
	var scores []models.GradeScore
	if err := r.db.SelectContext(ctx, &scores, query, pq.Array(enrollmentIDs)); err != nil {
		return nil, fmt.Errorf("list section grade scores: %w", err)
	}
	return scores, nil
}

// FindFinal returns the computed grade for an enrollment or sql.ErrNoRows.
func (r *GradeRepository) FindFinal(ctx context.Context, enrollmentID string) (*models.GradeFinal, error) {
	const query = `SELECT enrollment_id, section_id, weighted_score, final_grade, locked, computed_at FROM grade_finals WHERE enrollment_id = $1`
	var final models.GradeFinal
	if err := r.db.GetContext(ctx, &final, query, enrollmentID); err != nil {
		return nil, err
	}
	return &final, nil
}

// UpsertFinal stores a computed grade. Locked rows are never overwritten.
func (r *GradeRepository) UpsertFinal(ctx context.Context, final *models.GradeFinal) error {
	if final.ComputedAt.IsZero() {
		final.ComputedAt = time.Now().UTC()
	}
	const query = `INSERT INTO grade_finals (enrollment_id, section_id, weighted_score, final_grade, locked, computed_at)
VALUES (:enrollment_id, :section_id, :weighted_score, :final_grade, :locked, :computed_at)
ON CONFLICT (enrollment_id)
DO UPDATE SET weighted_score = EXCLUDED.weighted_score, final_grade = EXCLUDED.final_grade, computed_at = EXCLUDED.computed_at
WHERE grade_finals.locked = FALSE`
	if _, err := r.db.NamedExecContext(ctx, query, final); err != nil {
		return fmt.Errorf("upsert grade final: %w", err)
	}
	return nil
}

// GetGrading returns the section's grading row or sql.ErrNoRows when none
// has been written yet.
func (r *GradeRepository) GetGrading(ctx context.Context, sectionID string) (*models.SectionGrading, error) {
	const query = `SELECT section_id, state, finalized_at, finalized_by FROM section_gradings WHERE section_id = $1`
	var grading models.SectionGrading
	if err := r.db.GetContext(ctx, &grading, query, sectionID); err != nil {
		return nil, err
	}
	return &grading, nil
}

// CompareAndSetState moves the section from one grading state to another.
// A missing row counts as OPEN. It reports false when the current state is not from.
func (r *GradeRepository) CompareAndSetState(ctx context.Context, sectionID string, from, to models.GradingState) (bool, error) {
	var query string
	if from == models.GradingStateOpen {
		query = `INSERT INTO section_gradings (section_id, state) VALUES ($1, $3)
ON CONFLICT (section_id) DO UPDATE SET state = EXCLUDED.state
WHERE section_gradings.state = $2`
	} else {
		query = `UPDATE section_gradings SET state = $3 WHERE section_id = $1 AND state = $2`
	}
	res, err := r.db.ExecContext(ctx, query, sectionID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition grading state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition grading state rows: %w", err)
	}
	return affected > 0, nil
}

// LockSection locks every final grade of the section and marks it FINALIZED
// in one transaction. It reports false when the section was not FINALIZING.
func (r *GradeRepository) LockSection(ctx context.Context, sectionID string, finalizedBy *string, at time.Time) (bool, error) {
	applied := false
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE section_gradings SET state = $2, finalized_at = $3, finalized_by = $4 WHERE section_id = $1 AND state = $5`,
			sectionID, models.GradingStateFinalized, at, finalizedBy, models.GradingStateFinalizing)
		if err != nil {
			return fmt.Errorf("finalize grading state: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("finalize grading state rows: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE grade_finals SET locked = TRUE WHERE section_id = $1`, sectionID); err != nil {
			return fmt.Errorf("lock grade finals: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ListSectionRows returns one export row per ACTIVE or COMPLETED enrollment.
func (r *GradeRepository) ListSectionRows(ctx context.Context, sectionID string) ([]models.SectionGradeRow, error) {
	const query = `SELECT e.id AS enrollment_id, e.student_id, g.weighted_score, g.final_grade
FROM enrollments e
LEFT JOIN grade_finals g ON g.enrollment_id = e.id
WHERE e.section_id = $1 AND e.status IN ('ACTIVE', 'COMPLETED')
ORDER BY e.student_id ASC`
	var rows []models.SectionGradeRow
	if err := r.db.SelectContext(ctx, &rows, query, sectionID); err != nil {
		return nil, fmt.Errorf("list section grades: %w", err)
	}
	return rows, nil
}
