package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
)

// MaintenanceGate blocks academic-record writes while maintenance mode is on.
// Every mutating operation calls Guard before touching any other state.
type MaintenanceGate struct {
	store  PolicyStore
	audit  auditRecorder
	logger *zap.Logger
	now    func() time.Time
}

// NewMaintenanceGate constructs the gate over an injected PolicyStore.
func NewMaintenanceGate(store PolicyStore, audits auditStore, logger *zap.Logger) *MaintenanceGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceGate{store: store, audit: newAuditRecorder(audits, logger), logger: logger, now: time.Now}
}

// IsActive reports whether maintenance mode is on.
func (g *MaintenanceGate) IsActive(ctx context.Context) (bool, error) {
	state, err := g.store.MaintenanceState(ctx)
	if err != nil {
		return false, err
	}
	return state.Enabled, nil
}

// State returns the full maintenance state.
func (g *MaintenanceGate) State(ctx context.Context) (*models.MaintenanceState, error) {
	state, err := g.store.MaintenanceState(ctx)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Guard returns ErrMaintenanceActive while maintenance is on. A failure to
// read the state is returned as-is so writes fail closed.
func (g *MaintenanceGate) Guard(ctx context.Context) error {
	active, err := g.IsActive(ctx)
	if err != nil {
		return err
	}
	if active {
		return appErrors.ErrMaintenanceActive
	}
	return nil
}

// SetActive toggles maintenance mode. Activation stamps ActivatedAt unless the
// gate was already on; deactivation clears it. Admin only.
func (g *MaintenanceGate) SetActive(ctx context.Context, actor *models.JWTClaims, enabled bool) (*models.MaintenanceState, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can toggle maintenance mode")
	}
	current, err := g.store.MaintenanceState(ctx)
	if err != nil {
		return nil, err
	}

	next := models.MaintenanceState{Enabled: enabled}
	if enabled {
		if current.Enabled && current.ActivatedAt != nil {
			next.ActivatedAt = current.ActivatedAt
		} else {
			at := g.now().UTC()
			next.ActivatedAt = &at
		}
	}

	if err := g.store.SaveMaintenanceState(ctx, next, actor.UserID); err != nil {
		return nil, err
	}
	g.audit.record(ctx, actor, models.AuditActionMaintenanceToggle, "maintenance", "", current, next)
	g.logger.Info("maintenance mode changed", zap.Bool("enabled", enabled), zap.String("actor_id", actor.UserID))
	return &next, nil
}
