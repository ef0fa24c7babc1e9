package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
	"github.com/noah-isme/sma-adp-registrar/pkg/export"
	"github.com/noah-isme/sma-adp-registrar/pkg/jobs"
	"github.com/noah-isme/sma-adp-registrar/pkg/keylock"
)

type sectionEnrollmentStore interface {
	ListBySection(ctx context.Context, sectionID string, statuses ...models.EnrollmentStatus) ([]models.Enrollment, error)
	TransitionStatus(ctx context.Context, id string, from, to models.EnrollmentStatus, changedBy *string, at time.Time) (bool, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// ExportFile is a rendered grade report ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// FinalizationWorkflowParams groups constructor dependencies.
type FinalizationWorkflowParams struct {
	Enrollments  sectionEnrollmentStore
	Roster       *SectionRoster
	Ledger       *GradeLedger
	Calculator   *GradeCalculator
	Gate         *MaintenanceGate
	Queue        jobDispatcher
	Audits       auditStore
	Metrics      *MetricsService
	SectionLocks *keylock.Locker
	Logger       *zap.Logger
}

// FinalizationWorkflow moves a section's grading OPEN -> FINALIZING -> FINALIZED.
type FinalizationWorkflow struct {
	enrollments  sectionEnrollmentStore
	roster       *SectionRoster
	ledger       *GradeLedger
	calculator   *GradeCalculator
	gate         *MaintenanceGate
	queue        jobDispatcher
	audit        auditRecorder
	metrics      *MetricsService
	sectionLocks *keylock.Locker
	logger       *zap.Logger
	now          func() time.Time
}

// NewFinalizationWorkflow constructs the workflow.
func NewFinalizationWorkflow(params FinalizationWorkflowParams) *FinalizationWorkflow {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	calculator := params.Calculator
	if calculator == nil {
		calculator = NewGradeCalculator(DefaultGradePolicy())
	}
	sectionLocks := params.SectionLocks
	if sectionLocks == nil {
		sectionLocks = keylock.New()
	}
	return &FinalizationWorkflow{
		enrollments:  params.Enrollments,
		roster:       params.Roster,
		ledger:       params.Ledger,
		calculator:   calculator,
		gate:         params.Gate,
		queue:        params.Queue,
		audit:        newAuditRecorder(params.Audits, logger),
		metrics:      params.Metrics,
		sectionLocks: sectionLocks,
		logger:       logger,
		now:          time.Now,
	}
}

// Finalize computes, stores and locks the final grade of every ACTIVE or
// COMPLETED enrollment in the section. Entries that fail are reported in the
// summary; a failure before the lock returns the section to OPEN.
func (w *FinalizationWorkflow) Finalize(ctx context.Context, actor *models.JWTClaims, sectionID string) (summary *models.FinalizationSummary, err error) {
	defer func() { w.metrics.RecordFinalization(err) }()

	if err = w.gate.Guard(ctx); err != nil {
		return nil, err
	}
	section, err := w.roster.Get(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if err = w.ledger.AuthorizeSection(ctx, actor, sectionID); err != nil {
		return nil, err
	}

	unlock := w.sectionLocks.Lock(sectionID)
	defer unlock()

	if err = w.ledger.BeginFinalize(ctx, sectionID); err != nil {
		return nil, err
	}
	w.logger.Info("section finalization started", zap.String("section_id", sectionID), zap.String("actor_id", actor.ActorID()))

	enrollments, err := w.enrollments.ListBySection(ctx, sectionID, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted)
	if err != nil {
		err = appErrors.Internal(err, "failed to load section enrollments")
		w.abort(ctx, sectionID, err)
		return nil, err
	}
	ids := make([]string, len(enrollments))
	for i, e := range enrollments {
		ids[i] = e.ID
	}
	scores, err := w.ledger.LoadSectionScores(ctx, ids)
	if err != nil {
		w.abort(ctx, sectionID, err)
		return nil, err
	}

	summary = &models.FinalizationSummary{
		SectionID:    sectionID,
		Distribution: make(map[string]int),
		Failures:     []models.FinalizationFailure{},
	}
	grades := make([]StudentGrade, 0, len(enrollments))
	actorID := optionalString(actor.ActorID())
	for _, e := range enrollments {
		weighted, letter := w.calculator.Compute(scores[e.ID])
		if entryErr := w.finalizeEntry(ctx, e, weighted, letter, actorID); entryErr != nil {
			summary.Failures = append(summary.Failures, models.FinalizationFailure{
				EnrollmentID: e.ID,
				StudentID:    e.StudentID,
				Reason:       entryErr.Error(),
			})
			w.logger.Warn("failed to finalize enrollment", zap.String("section_id", sectionID), zap.String("enrollment_id", e.ID), zap.Error(entryErr))
			continue
		}
		summary.Finalized++
		summary.Distribution[letter]++
		grades = append(grades, StudentGrade{EnrollmentID: e.ID, StudentID: e.StudentID, Letter: letter})
	}

	finalizedAt, err := w.ledger.LockSection(ctx, sectionID, actor.ActorID())
	if err != nil {
		w.abort(ctx, sectionID, err)
		return nil, err
	}
	summary.FinalizedAt = finalizedAt

	w.audit.record(ctx, actor, models.AuditActionSectionFinalize, "section", sectionID,
		map[string]string{"state": string(models.GradingStateOpen)}, summary)
	w.enqueueNotifications(section, actor.ActorID(), grades)
	w.logger.Info("section finalized",
		zap.String("section_id", sectionID),
		zap.Int("finalized", summary.Finalized),
		zap.Int("failures", len(summary.Failures)))
	return summary, nil
}

// ExportSummary renders the stored grades of a FINALIZED section as CSV or PDF.
func (w *FinalizationWorkflow) ExportSummary(ctx context.Context, actor *models.JWTClaims, sectionID, format string) (*ExportFile, error) {
	section, err := w.roster.Get(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if err := w.ledger.AuthorizeSection(ctx, actor, sectionID); err != nil {
		return nil, err
	}
	renderer, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}
	state, err := w.ledger.State(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if state != models.GradingStateFinalized {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "section grades are not finalized")
	}
	rows, err := w.ledger.SectionRows(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	dataset := buildGradeDataset(section, rows)
	body, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render grade export")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("%s-%s-%d-grades.%s", strings.ToLower(section.CourseCode), strings.ToLower(section.Semester), section.Year, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func (w *FinalizationWorkflow) finalizeEntry(ctx context.Context, e models.Enrollment, weighted float64, letter string, actorID *string) error {
	if err := w.ledger.WriteFinal(ctx, e.SectionID, e.ID, weighted, letter); err != nil {
		return err
	}
	if e.Status != models.EnrollmentStatusActive {
		return nil
	}
	applied, err := w.enrollments.TransitionStatus(ctx, e.ID, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted, actorID, w.now().UTC())
	if err != nil {
		return fmt.Errorf("complete enrollment: %w", err)
	}
	if !applied {
		return fmt.Errorf("enrollment is no longer active")
	}
	return nil
}

func (w *FinalizationWorkflow) abort(ctx context.Context, sectionID string, cause error) {
	if err := w.ledger.AbortFinalize(context.WithoutCancel(ctx), sectionID); err != nil {
		w.logger.Error("failed to roll back finalization", zap.String("section_id", sectionID), zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	w.logger.Warn("section finalization rolled back", zap.String("section_id", sectionID), zap.Error(cause))
}

func (w *FinalizationWorkflow) enqueueNotifications(section *models.Section, senderID string, grades []StudentGrade) {
	if w.queue == nil || len(grades) == 0 {
		return
	}
	err := w.queue.Enqueue(jobs.Job{
		ID:   section.ID,
		Type: JobGradesFinalized,
		Payload: GradesFinalizedPayload{
			SectionID:   section.ID,
			CourseCode:  section.CourseCode,
			CourseTitle: section.CourseTitle,
			SenderID:    senderID,
			Grades:      grades,
		},
	})
	if err != nil {
		w.logger.Warn("failed to enqueue grade notifications", zap.String("section_id", section.ID), zap.Error(err))
	}
}

func buildGradeDataset(section *models.Section, rows []models.SectionGradeRow) export.Dataset {
	headers := []string{"Student ID", "Enrollment ID", "Weighted Score", "Final Grade"}
	dataset := export.Dataset{
		Title:   fmt.Sprintf("%s %s - %s %d", section.CourseCode, section.CourseTitle, section.Semester, section.Year),
		Headers: headers,
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	distribution := make(map[string]int)
	for _, row := range rows {
		weighted, letter := "", ""
		if row.WeightedScore != nil {
			weighted = strconv.FormatFloat(*row.WeightedScore, 'f', 2, 64)
		}
		if row.FinalGrade != nil {
			letter = *row.FinalGrade
			distribution[letter]++
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student ID":     row.StudentID,
			"Enrollment ID":  row.EnrollmentID,
			"Weighted Score": weighted,
			"Final Grade":    letter,
		})
	}
	letters := make([]string, 0, len(distribution))
	for letter := range distribution {
		letters = append(letters, letter)
	}
	sort.Strings(letters)
	parts := make([]string, len(letters))
	for i, letter := range letters {
		parts[i] = fmt.Sprintf("%s: %d", letter, distribution[letter])
	}
	dataset.Notes = []string{
		fmt.Sprintf("Students: %d", len(rows)),
		"Distribution: " + strings.Join(parts, ", "),
	}
	return dataset
}
