package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
)

type auditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// auditRecorder writes best-effort audit entries; a failed write is logged
// and never fails the audited operation.
type auditRecorder struct {
	store  auditStore
	logger *zap.Logger
}

func newAuditRecorder(store auditStore, logger *zap.Logger) auditRecorder {
	return auditRecorder{store: store, logger: logger}
}

func (a auditRecorder) record(ctx context.Context, actor *models.JWTClaims, action, resource, resourceID string, oldValues, newValues interface{}) {
	if a.store == nil {
		return
	}
	entry := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		OldValues: marshalAudit(oldValues),
		NewValues: marshalAudit(newValues),
	}
	if id := actor.ActorID(); id != "" {
		entry.UserID = &id
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if err := a.store.CreateAuditLog(ctx, entry); err != nil {
		a.logger.Warn("failed to write audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func marshalAudit(v interface{}) []byte {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
