package models

import "time"

// MaintenanceState is the process-wide write gate.
type MaintenanceState struct {
	Enabled     bool       `json:"enabled"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// DropDeadline is the last calendar day a student may drop. Semester and
// Year are empty for the global deadline.
type DropDeadline struct {
	Date     time.Time `json:"date"`
	Semester string    `json:"semester,omitempty"`
	Year     int       `json:"year,omitempty"`
}

// PolicySetting is a persisted policy key/value pair.
type PolicySetting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedBy *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
