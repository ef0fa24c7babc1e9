package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
)

// NotificationRepository persists notifications. Rows are immutable.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification, filling id and timestamp when empty. Writing
// an id that already exists is a no-op so retried deliveries stay single.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, sender_id, recipient_type, recipient_id, title, message, created_at)
VALUES (:id, :sender_id, :recipient_type, :recipient_id, :title, :message, :created_at)
ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListForRecipient returns notifications visible to the user, newest first:
// every ALL notification, broadcasts to the user's type, and ones addressed to the user.
func (r *NotificationRepository) ListForRecipient(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, error) {
	const query = `SELECT id, sender_id, recipient_type, recipient_id, title, message, created_at
FROM notifications
WHERE recipient_type = 'ALL'
   OR (recipient_type = $1 AND (recipient_id = '' OR recipient_id = $2))
ORDER BY created_at DESC, id DESC
LIMIT $3`
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, filter.RecipientType, filter.UserID, filter.Limit); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}
