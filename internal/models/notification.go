package models

import "time"

// RecipientType is the closed set of notification audiences.
type RecipientType string

const (
	RecipientAll        RecipientType = "ALL"
	RecipientStudent    RecipientType = "STUDENT"
	RecipientInstructor RecipientType = "INSTRUCTOR"
)

// ParseRecipientType normalises raw input into a RecipientType.
func ParseRecipientType(raw string) (RecipientType, bool) {
	switch RecipientType(raw) {
	case RecipientAll, RecipientStudent, RecipientInstructor:
		return RecipientType(raw), true
	default:
		return "", false
	}
}

// RecipientTypeForRole maps a user role to the audience it reads from.
func RecipientTypeForRole(role UserRole) RecipientType {
	switch role {
	case RoleStudent:
		return RecipientStudent
	case RoleTeacher:
		return RecipientInstructor
	default:
		return RecipientAll
	}
}

// Notification is an immutable message to a class of recipients. An empty
// RecipientID addresses every user of RecipientType.
type Notification struct {
	ID            string        `db:"id" json:"id"`
	SenderID      string        `db:"sender_id" json:"sender_id"`
	RecipientType RecipientType `db:"recipient_type" json:"recipient_type"`
	RecipientID   string        `db:"recipient_id" json:"recipient_id,omitempty"`
	Title         string        `db:"title" json:"title"`
	Message       string        `db:"message" json:"message"`
	CreatedAt     time.Time     `db:"created_at" json:"timestamp"`
}

// Broadcast reports whether the notification targets every recipient of its type.
func (n Notification) Broadcast() bool {
	return n.RecipientID == ""
}

// NotificationFilter scopes a user's notification feed.
type NotificationFilter struct {
	UserID        string
	RecipientType RecipientType
	Limit         int
}
