package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	"github.com/noah-isme/sma-adp-registrar/pkg/config"
	"github.com/noah-isme/sma-adp-registrar/pkg/jobs"
	"github.com/noah-isme/sma-adp-registrar/pkg/keylock"
)

// memDB is a thread-safe in-memory stand-in for the postgres schema.
type memDB struct {
	mu            sync.Mutex
	seq           int
	sections      map[string]*models.Section
	enrollments   map[string]*models.Enrollment
	history       []models.EnrollmentStatusChange
	scores        map[string]map[models.GradeComponent]models.GradeScore
	finals        map[string]*models.GradeFinal
	gradings      map[string]*models.SectionGrading
	notifications []models.Notification
	settings      map[string]models.PolicySetting
	audits        []models.AuditLog

	createEnrollmentErr error
	listSectionErr      error
	settingsErr         error
	notificationsErr    error
	transitionErrs      map[string]error
}

func newMemDB() *memDB {
	return &memDB{
		sections:    make(map[string]*models.Section),
		enrollments: make(map[string]*models.Enrollment),
		scores:      make(map[string]map[models.GradeComponent]models.GradeScore),
		finals:      make(map[string]*models.GradeFinal),
		gradings:    make(map[string]*models.SectionGrading),
		settings:    make(map[string]models.PolicySetting),
	}
}

func (db *memDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

func (db *memDB) addSection(s models.Section) {
	db.mu.Lock()
	defer db.mu.Unlock()
	copied := s
	db.sections[s.ID] = &copied
}

func (db *memDB) section(id string) models.Section {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.sections[id]
}

func (db *memDB) enrollment(id string) models.Enrollment {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.enrollments[id]
}

func (db *memDB) countActive(sectionID string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, e := range db.enrollments {
		if e.SectionID == sectionID && e.Status == models.EnrollmentStatusActive {
			n++
		}
	}
	return n
}

func (db *memDB) auditActions() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	actions := make([]string, len(db.audits))
	for i, a := range db.audits {
		actions[i] = a.Action
	}
	return actions
}

type memSections struct{ db *memDB }

func (m memSections) FindByID(ctx context.Context, id string) (*models.Section, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	s, ok := m.db.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *s
	return &copied, nil
}

func (m memSections) ListActiveByStudent(ctx context.Context, studentID string) ([]models.Section, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.Section
	for _, e := range m.db.enrollments {
		if e.StudentID == studentID && e.Status == models.EnrollmentStatusActive {
			out = append(out, *m.db.sections[e.SectionID])
		}
	}
	return out, nil
}

func (m memSections) IncrementEnrolled(ctx context.Context, id string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	s, ok := m.db.sections[id]
	if !ok || s.EnrolledCount >= s.Capacity {
		return false, nil
	}
	s.EnrolledCount++
	return true, nil
}

func (m memSections) DecrementEnrolled(ctx context.Context, id string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if s, ok := m.db.sections[id]; ok && s.EnrolledCount > 0 {
		s.EnrolledCount--
	}
	return nil
}

func (m memSections) UpdateInstructor(ctx context.Context, id string, instructorID *string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	s, ok := m.db.sections[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.InstructorID = instructorID
	return nil
}

func (m memSections) ListActiveStudentIDs(ctx context.Context, sectionID string) ([]string, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var ids []string
	for _, e := range m.db.enrollments {
		if e.SectionID == sectionID && e.Status == models.EnrollmentStatusActive {
			ids = append(ids, e.StudentID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memEnrollments struct{ db *memDB }

func (m memEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	e, ok := m.db.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *e
	return &copied, nil
}

func (m memEnrollments) FindActive(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, e := range m.db.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID && e.Status == models.EnrollmentStatusActive {
			copied := *e
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memEnrollments) HasCompletedCourse(ctx context.Context, studentID, courseCode, failingLetter string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, e := range m.db.enrollments {
		if e.StudentID != studentID || e.CourseCode != courseCode || e.Status != models.EnrollmentStatusCompleted {
			continue
		}
		if f, ok := m.db.finals[e.ID]; ok && f.FinalGrade == failingLetter {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (m memEnrollments) Create(ctx context.Context, e *models.Enrollment, changedBy *string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.createEnrollmentErr != nil {
		return m.db.createEnrollmentErr
	}
	if e.ID == "" {
		e.ID = m.db.nextID("enr")
	}
	copied := *e
	m.db.enrollments[e.ID] = &copied
	m.db.history = append(m.db.history, models.EnrollmentStatusChange{EnrollmentID: e.ID, ToStatus: e.Status, ChangedBy: changedBy, ChangedAt: e.EnrolledAt})
	return nil
}

func (m memEnrollments) TransitionStatus(ctx context.Context, id string, from, to models.EnrollmentStatus, changedBy *string, at time.Time) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if err := m.db.transitionErrs[id]; err != nil {
		return false, err
	}
	e, ok := m.db.enrollments[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	switch to {
	case models.EnrollmentStatusDropped:
		e.DroppedAt = &at
	case models.EnrollmentStatusCompleted:
		e.CompletedAt = &at
	}
	fromStatus := string(from)
	m.db.history = append(m.db.history, models.EnrollmentStatusChange{EnrollmentID: id, FromStatus: &fromStatus, ToStatus: to, ChangedBy: changedBy, ChangedAt: at})
	return true, nil
}

func (m memEnrollments) ListByStudent(ctx context.Context, studentID string, status models.EnrollmentStatus) ([]models.EnrollmentDetail, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range m.db.enrollments {
		if e.StudentID != studentID || (status != "" && e.Status != status) {
			continue
		}
		s := m.db.sections[e.SectionID]
		detail := models.EnrollmentDetail{Enrollment: *e, CourseTitle: s.CourseTitle, DayTime: s.DayTime, Room: s.Room, Semester: s.Semester, Year: s.Year}
		if f, ok := m.db.finals[e.ID]; ok {
			letter := f.FinalGrade
			detail.FinalGrade = &letter
		}
		out = append(out, detail)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseCode < out[j].CourseCode })
	return out, nil
}

func (m memEnrollments) ListBySection(ctx context.Context, sectionID string, statuses ...models.EnrollmentStatus) ([]models.Enrollment, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.listSectionErr != nil {
		return nil, m.db.listSectionErr
	}
	var out []models.Enrollment
	for _, e := range m.db.enrollments {
		if e.SectionID != sectionID {
			continue
		}
		for _, s := range statuses {
			if e.Status == s {
				out = append(out, *e)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

type memGrades struct{ db *memDB }

func (m memGrades) stateLocked(sectionID string) models.GradingState {
	if g, ok := m.db.gradings[sectionID]; ok {
		return g.State
	}
	return models.GradingStateOpen
}

func (m memGrades) UpsertScore(ctx context.Context, sectionID string, score *models.GradeScore) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.stateLocked(sectionID) != models.GradingStateOpen {
		return false, nil
	}
	entry, ok := m.db.scores[score.EnrollmentID]
	if !ok {
		entry = make(map[models.GradeComponent]models.GradeScore)
		m.db.scores[score.EnrollmentID] = entry
	}
	entry[score.Component] = *score
	return true, nil
}

func (m memGrades) ListScores(ctx context.Context, enrollmentID string) ([]models.GradeScore, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.GradeScore
	for _, s := range m.db.scores[enrollmentID] {
		out = append(out, s)
	}
	return out, nil
}

func (m memGrades) ListScoresByEnrollments(ctx context.Context, enrollmentIDs []string) ([]models.GradeScore, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.GradeScore
	for _, id := range enrollmentIDs {
		for _, s := range m.db.scores[id] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m memGrades) FindFinal(ctx context.Context, enrollmentID string) (*models.GradeFinal, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	f, ok := m.db.finals[enrollmentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *f
	return &copied, nil
}

func (m memGrades) UpsertFinal(ctx context.Context, final *models.GradeFinal) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if existing, ok := m.db.finals[final.EnrollmentID]; ok && existing.Locked {
		return nil
	}
	copied := *final
	m.db.finals[final.EnrollmentID] = &copied
	return nil
}

func (m memGrades) GetGrading(ctx context.Context, sectionID string) (*models.SectionGrading, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	g, ok := m.db.gradings[sectionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *g
	return &copied, nil
}

func (m memGrades) CompareAndSetState(ctx context.Context, sectionID string, from, to models.GradingState) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.stateLocked(sectionID) != from {
		return false, nil
	}
	g, ok := m.db.gradings[sectionID]
	if !ok {
		g = &models.SectionGrading{SectionID: sectionID}
		m.db.gradings[sectionID] = g
	}
	g.State = to
	return true, nil
}

func (m memGrades) LockSection(ctx context.Context, sectionID string, finalizedBy *string, at time.Time) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	g, ok := m.db.gradings[sectionID]
	if !ok || g.State != models.GradingStateFinalizing {
		return false, nil
	}
	g.State = models.GradingStateFinalized
	g.FinalizedAt = &at
	g.FinalizedBy = finalizedBy
	for _, f := range m.db.finals {
		if f.SectionID == sectionID {
			f.Locked = true
		}
	}
	return true, nil
}

func (m memGrades) ListSectionRows(ctx context.Context, sectionID string) ([]models.SectionGradeRow, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var rows []models.SectionGradeRow
	for _, e := range m.db.enrollments {
		if e.SectionID != sectionID || e.Status == models.EnrollmentStatusDropped {
			continue
		}
		row := models.SectionGradeRow{EnrollmentID: e.ID, StudentID: e.StudentID}
		if f, ok := m.db.finals[e.ID]; ok {
			weighted, letter := f.WeightedScore, f.FinalGrade
			row.WeightedScore = &weighted
			row.FinalGrade = &letter
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StudentID < rows[j].StudentID })
	return rows, nil
}

type memNotifications struct{ db *memDB }

func (m memNotifications) Create(ctx context.Context, n *models.Notification) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.notificationsErr != nil {
		return m.db.notificationsErr
	}
	if n.ID == "" {
		n.ID = m.db.nextID("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	for _, existing := range m.db.notifications {
		if existing.ID == n.ID {
			return nil
		}
	}
	m.db.notifications = append(m.db.notifications, *n)
	return nil
}

// insertRaw stores n as-is, bypassing id conflict handling.
func (m memNotifications) insertRaw(n models.Notification) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.notifications = append(m.db.notifications, n)
}

func (m memNotifications) ListForRecipient(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.notificationsErr != nil {
		return nil, m.db.notificationsErr
	}
	var out []models.Notification
	for _, n := range m.db.notifications {
		if n.RecipientType == models.RecipientAll ||
			(n.RecipientType == filter.RecipientType && (n.RecipientID == "" || n.RecipientID == filter.UserID)) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type memPolicies struct{ db *memDB }

func (m memPolicies) Get(ctx context.Context, key string) (*models.PolicySetting, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.settingsErr != nil {
		return nil, m.db.settingsErr
	}
	s, ok := m.db.settings[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (m memPolicies) ListByKeys(ctx context.Context, keys []string) ([]models.PolicySetting, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.settingsErr != nil {
		return nil, m.db.settingsErr
	}
	var out []models.PolicySetting
	for _, k := range keys {
		if s, ok := m.db.settings[k]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m memPolicies) Upsert(ctx context.Context, setting *models.PolicySetting) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.settingsErr != nil {
		return m.db.settingsErr
	}
	setting.UpdatedAt = time.Now().UTC()
	m.db.settings[setting.Key] = *setting
	return nil
}

type memAudits struct{ db *memDB }

func (m memAudits) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.audits = append(m.db.audits, *log)
	return nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) recorded() []jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]jobs.Job(nil), q.jobs...)
}

// engine wires every component over one memDB.
type engine struct {
	db            *memDB
	policies      *PolicyService
	gate          *MaintenanceGate
	roster        *SectionRoster
	ledger        *GradeLedger
	enrollments   *EnrollmentService
	finalizer     *FinalizationWorkflow
	notifications *NotificationService
	queue         *recordingQueue
	metrics       *MetricsService
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	db := newMemDB()
	logger := zap.NewNop()
	metrics := NewMetricsService()
	audits := memAudits{db: db}
	policies := NewPolicyService(memPolicies{db: db}, audits, validator.New(), logger, config.EngineConfig{Location: time.UTC})
	gate := NewMaintenanceGate(policies, audits, logger)
	roster := NewSectionRoster(memSections{db: db}, logger)
	ledger := NewGradeLedger(memGrades{db: db}, memEnrollments{db: db}, roster, gate, logger)
	notifications := NewNotificationService(memNotifications{db: db}, nil, metrics, validator.New(), logger, 0)
	calculator := NewGradeCalculator(DefaultGradePolicy())
	sectionLocks := keylock.New()
	queue := &recordingQueue{}

	return &engine{
		db:       db,
		policies: policies,
		gate:     gate,
		roster:   roster,
		ledger:   ledger,
		enrollments: NewEnrollmentService(EnrollmentServiceParams{
			Enrollments:  memEnrollments{db: db},
			Roster:       roster,
			Ledger:       ledger,
			Gate:         gate,
			Policies:     policies,
			Calculator:   calculator,
			Notifier:     notifications,
			Audits:       audits,
			Metrics:      metrics,
			SectionLocks: sectionLocks,
			Location:     time.UTC,
			Logger:       logger,
		}),
		finalizer: NewFinalizationWorkflow(FinalizationWorkflowParams{
			Enrollments:  memEnrollments{db: db},
			Roster:       roster,
			Ledger:       ledger,
			Calculator:   calculator,
			Gate:         gate,
			Queue:        queue,
			Audits:       audits,
			Metrics:      metrics,
			SectionLocks: sectionLocks,
			Logger:       logger,
		}),
		notifications: notifications,
		queue:         queue,
		metrics:       metrics,
	}
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func sectionFixture(id, course, dayTime string, capacity int) models.Section {
	instructor := "teacher-1"
	return models.Section{
		ID:           id,
		CourseCode:   course,
		CourseTitle:  course + " title",
		Credits:      3,
		DayTime:      dayTime,
		Room:         "B201",
		Capacity:     capacity,
		InstructorID: &instructor,
		Semester:     "GANJIL",
		Year:         2025,
	}
}
