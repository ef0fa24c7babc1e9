package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	"github.com/noah-isme/sma-adp-registrar/pkg/config"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
)

func newTestGate(db *memDB) *MaintenanceGate {
	policies := NewPolicyService(memPolicies{db: db}, memAudits{db: db}, validator.New(), nil, config.EngineConfig{})
	return NewMaintenanceGate(policies, memAudits{db: db}, nil)
}

func TestMaintenanceGateToggle(t *testing.T) {
	db := newMemDB()
	gate := newTestGate(db)
	activated := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return activated }
	ctx := context.Background()

	require.NoError(t, gate.Guard(ctx))

	state, err := gate.SetActive(ctx, adminClaims(), true)
	require.NoError(t, err)
	assert.True(t, state.Enabled)
	require.NotNil(t, state.ActivatedAt)
	assert.Equal(t, activated, *state.ActivatedAt)

	err = gate.Guard(ctx)
	assert.True(t, errors.Is(err, appErrors.ErrMaintenanceActive))

	gate.now = func() time.Time { return activated.Add(time.Hour) }
	state, err = gate.SetActive(ctx, adminClaims(), true)
	require.NoError(t, err)
	assert.Equal(t, activated, *state.ActivatedAt)

	state, err = gate.SetActive(ctx, adminClaims(), false)
	require.NoError(t, err)
	assert.False(t, state.Enabled)
	assert.Nil(t, state.ActivatedAt)
	require.NoError(t, gate.Guard(ctx))

	assert.Equal(t, []string{models.AuditActionMaintenanceToggle, models.AuditActionMaintenanceToggle, models.AuditActionMaintenanceToggle}, db.auditActions())
}

func TestMaintenanceGateRequiresAdmin(t *testing.T) {
	gate := newTestGate(newMemDB())
	_, err := gate.SetActive(context.Background(), teacherClaims("teacher-1"), true)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestMaintenanceGateFailsClosedOnStoreError(t *testing.T) {
	db := newMemDB()
	db.settingsErr = errors.New("connection reset")
	gate := newTestGate(db)

	err := gate.Guard(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.IsInternal(err))
}
