package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	"github.com/noah-isme/sma-adp-registrar/pkg/cache"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
	"github.com/noah-isme/sma-adp-registrar/pkg/jobs"
)

const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100

	// JobGradesFinalized notifies every student of a finalized section.
	JobGradesFinalized = "grades_finalized"
)

// notificationIDSpace seeds deterministic ids for job-generated notifications.
var notificationIDSpace = uuid.MustParse("6f1c2d8e-4b7a-4e0f-9a51-3c9d2e7b8a10")

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForRecipient(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, error)
}

// SendNotificationRequest is the payload for a notification send.
type SendNotificationRequest struct {
	RecipientType string `json:"recipient_type" validate:"required,oneof=ALL STUDENT INSTRUCTOR"`
	RecipientID   string `json:"recipient_id" validate:"max=64"`
	Title         string `json:"title" validate:"required,max=200"`
	Message       string `json:"message" validate:"required,max=4000"`
}

// StudentGrade is one student's result carried by a grades_finalized job.
type StudentGrade struct {
	EnrollmentID string
	StudentID    string
	Letter       string
}

// GradesFinalizedPayload is the payload of a JobGradesFinalized job.
type GradesFinalizedPayload struct {
	SectionID   string
	CourseCode  string
	CourseTitle string
	SenderID    string
	Grades      []StudentGrade
}

// NotificationService stores notifications and serves per-user feeds.
type NotificationService struct {
	repo      notificationStore
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	group     singleflight.Group
	cacheTTL  time.Duration
}

// NewNotificationService constructs the service. cache may be nil.
func NewNotificationService(repo notificationStore, cacheSvc *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:      repo,
		cache:     cacheSvc,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cacheTTL:  cacheTTL,
	}
}

// Send stores a notification. A recipient id of "0" or "" addresses every
// user of the recipient type.
func (s *NotificationService) Send(ctx context.Context, senderID string, req SendNotificationRequest) (*models.Notification, error) {
	req.RecipientType = strings.ToUpper(strings.TrimSpace(req.RecipientType))
	req.RecipientID = strings.TrimSpace(req.RecipientID)
	if req.RecipientID == "0" {
		req.RecipientID = ""
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Message = strings.TrimSpace(req.Message)

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSend.Code, appErrors.ErrSend.Status, "invalid notification payload")
	}
	recipientType, ok := models.ParseRecipientType(req.RecipientType)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrSend, fmt.Sprintf("unknown recipient type %q", req.RecipientType))
	}
	if recipientType == models.RecipientAll && req.RecipientID != "" {
		return nil, appErrors.Clone(appErrors.ErrSend, "ALL notifications cannot target a single recipient")
	}

	n := &models.Notification{
		SenderID:      senderID,
		RecipientType: recipientType,
		RecipientID:   req.RecipientID,
		Title:         req.Title,
		Message:       req.Message,
	}
	if err := s.store(ctx, n); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.Key("notifications", "*"))
	return n, nil
}

// FetchRecentForUser returns the user's feed newest first, de-duplicated by
// id and by (title, message, timestamp). A storage failure is an error,
// never an empty feed.
func (s *NotificationService) FetchRecentForUser(ctx context.Context, userID string, role models.UserRole, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	recipientType := models.RecipientTypeForRole(role)
	key := cache.Key("notifications", string(recipientType), userID, strconv.Itoa(limit))

	var cached []models.Notification
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		items, err := s.repo.ListForRecipient(ctx, models.NotificationFilter{
			UserID:        userID,
			RecipientType: recipientType,
			Limit:         limit * 2,
		})
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load notifications")
		}
		feed := dedupeNotifications(items, limit)
		s.cache.Set(ctx, key, feed, s.cacheTTL)
		return feed, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Notification), nil
}

// HandleGradesFinalized delivers one STUDENT notification per finalized
// grade. Ids are derived from the section and enrollment so a retried job
// never stores a notification twice.
func (s *NotificationService) HandleGradesFinalized(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(GradesFinalizedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", job.Payload, JobGradesFinalized)
	}
	title := fmt.Sprintf("Final grade posted: %s", payload.CourseCode)
	var firstErr error
	for _, grade := range payload.Grades {
		n := &models.Notification{
			ID:            uuid.NewSHA1(notificationIDSpace, []byte(payload.SectionID+":"+grade.EnrollmentID)).String(),
			SenderID:      payload.SenderID,
			RecipientType: models.RecipientStudent,
			RecipientID:   grade.StudentID,
			Title:         title,
			Message:       fmt.Sprintf("Your final grade for %s %s is %s.", payload.CourseCode, payload.CourseTitle, grade.Letter),
		}
		if err := s.store(ctx, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.cache.Invalidate(ctx, cache.Key("notifications", "*"))
	if firstErr != nil {
		return firstErr
	}
	s.logger.Info("final grade notifications delivered", zap.String("section_id", payload.SectionID), zap.Int("count", len(payload.Grades)))
	return nil
}

func (s *NotificationService) store(ctx context.Context, n *models.Notification) error {
	if err := s.repo.Create(ctx, n); err != nil {
		return appErrors.Internal(err, "failed to store notification")
	}
	s.metrics.RecordNotification(string(n.RecipientType))
	return nil
}

func dedupeNotifications(items []models.Notification, limit int) []models.Notification {
	seenIDs := make(map[string]struct{}, len(items))
	seenSigs := make(map[string]struct{}, len(items))
	feed := make([]models.Notification, 0, limit)
	for _, n := range items {
		if len(feed) == limit {
			break
		}
		if _, dup := seenIDs[n.ID]; dup {
			continue
		}
		sig := n.Title + "\x00" + n.Message + "\x00" + n.CreatedAt.UTC().Format(time.RFC3339Nano)
		if _, dup := seenSigs[sig]; dup {
			continue
		}
		seenIDs[n.ID] = struct{}{}
		seenSigs[sig] = struct{}{}
		feed = append(feed, n)
	}
	return feed
}
