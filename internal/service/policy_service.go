package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	"github.com/noah-isme/sma-adp-registrar/pkg/config"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
)

const (
	policyKeyMaintenance  = "maintenance_mode"
	policyKeyDropDeadline = "drop_deadline"
)

// PolicyStore holds the mutable engine policies read by the write paths.
type PolicyStore interface {
	MaintenanceState(ctx context.Context) (models.MaintenanceState, error)
	SaveMaintenanceState(ctx context.Context, state models.MaintenanceState, actorID string) error
	// DropDeadline returns the deadline for the term, or nil when none is configured.
	DropDeadline(ctx context.Context, semester string, year int) (*time.Time, error)
}

type policySettingStore interface {
	Get(ctx context.Context, key string) (*models.PolicySetting, error)
	ListByKeys(ctx context.Context, keys []string) ([]models.PolicySetting, error)
	Upsert(ctx context.Context, setting *models.PolicySetting) error
}

// SetDropDeadlineRequest is the admin payload for a drop deadline. Semester
// and Year are both set for a term override and both empty for the global one.
type SetDropDeadlineRequest struct {
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Semester string `json:"semester" validate:"required_with=Year"`
	Year     int    `json:"year" validate:"required_with=Semester"`
}

// PolicyService implements PolicyStore over persisted settings, falling back
// to the configured default drop deadline.
type PolicyService struct {
	repo            policySettingStore
	validator       *validator.Validate
	audit           auditRecorder
	logger          *zap.Logger
	location        *time.Location
	defaultDeadline *time.Time
}

// NewPolicyService constructs a PolicyService.
func NewPolicyService(repo policySettingStore, audits auditStore, validate *validator.Validate, logger *zap.Logger, engine config.EngineConfig) *PolicyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	loc := engine.Location
	if loc == nil {
		loc = time.UTC
	}
	return &PolicyService{
		repo:            repo,
		validator:       validate,
		audit:           newAuditRecorder(audits, logger),
		logger:          logger,
		location:        loc,
		defaultDeadline: engine.DefaultDropDeadline,
	}
}

// MaintenanceState returns the persisted gate state; no row means disabled.
func (s *PolicyService) MaintenanceState(ctx context.Context) (models.MaintenanceState, error) {
	setting, err := s.repo.Get(ctx, policyKeyMaintenance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.MaintenanceState{}, nil
		}
		return models.MaintenanceState{}, appErrors.Internal(err, "failed to load maintenance state")
	}
	var state models.MaintenanceState
	if err := json.Unmarshal([]byte(setting.Value), &state); err != nil {
		return models.MaintenanceState{}, appErrors.Internal(err, "failed to decode maintenance state")
	}
	return state, nil
}

// SaveMaintenanceState persists the gate state.
func (s *PolicyService) SaveMaintenanceState(ctx context.Context, state models.MaintenanceState, actorID string) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return appErrors.Internal(err, "failed to encode maintenance state")
	}
	if err := s.repo.Upsert(ctx, &models.PolicySetting{Key: policyKeyMaintenance, Value: string(raw), UpdatedBy: optionalString(actorID)}); err != nil {
		return appErrors.Internal(err, "failed to save maintenance state")
	}
	return nil
}

// DropDeadline resolves the deadline for a term: a term override wins over
// the global setting, which wins over the configured default.
func (s *PolicyService) DropDeadline(ctx context.Context, semester string, year int) (*time.Time, error) {
	keys := []string{policyKeyDropDeadline}
	termKey := ""
	if semester != "" && year > 0 {
		termKey = dropDeadlineKey(semester, year)
		keys = append(keys, termKey)
	}
	settings, err := s.repo.ListByKeys(ctx, keys)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load drop deadline")
	}
	values := make(map[string]string, len(settings))
	for _, setting := range settings {
		values[setting.Key] = setting.Value
	}
	for _, key := range []string{termKey, policyKeyDropDeadline} {
		raw, ok := values[key]
		if key == "" || !ok {
			continue
		}
		d, err := time.ParseInLocation(config.DateLayout, raw, s.location)
		if err != nil {
			return nil, appErrors.Internal(err, fmt.Sprintf("stored drop deadline %q is malformed", key))
		}
		return &d, nil
	}
	return s.defaultDeadline, nil
}

// SetDropDeadline stores a global or per-term drop deadline. Admin only.
func (s *PolicyService) SetDropDeadline(ctx context.Context, actor *models.JWTClaims, req SetDropDeadlineRequest) (*models.DropDeadline, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can change the drop deadline")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drop deadline payload")
	}
	date, err := time.ParseInLocation(config.DateLayout, req.Date, s.location)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drop deadline date")
	}
	key := policyKeyDropDeadline
	semester := strings.ToUpper(strings.TrimSpace(req.Semester))
	if semester != "" {
		key = dropDeadlineKey(semester, req.Year)
	}

	var previous *string
	if existing, err := s.repo.Get(ctx, key); err == nil {
		previous = &existing.Value
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to load drop deadline")
	}

	if err := s.repo.Upsert(ctx, &models.PolicySetting{Key: key, Value: req.Date, UpdatedBy: optionalString(actor.UserID)}); err != nil {
		return nil, appErrors.Internal(err, "failed to save drop deadline")
	}

	deadline := &models.DropDeadline{Date: date, Semester: semester, Year: req.Year}
	s.audit.record(ctx, actor, models.AuditActionDropDeadlineUpdate, "drop_deadline", key, previous, req.Date)
	s.logger.Info("drop deadline updated", zap.String("key", key), zap.String("date", req.Date), zap.String("actor_id", actor.UserID))
	return deadline, nil
}

func dropDeadlineKey(semester string, year int) string {
	return fmt.Sprintf("%s:%s:%d", policyKeyDropDeadline, strings.ToUpper(semester), year)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
