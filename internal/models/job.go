package models

import (
	"time"
)

// Job lifecycle states persisted in Postgres.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Log entry action tags.
const (
	ActionJobQueued  = "job_queued"
	ActionFeeSet     = "fee_set"
	ActionAlreadySet = "already_set"
	ActionFailed     = "failed"
	ActionRetry      = "retry"
)

// Log entry severities.
const (
	LogSuccess = "success"
	LogError   = "error"
	LogWarning = "warning"
)

// Log entry origins: who caused the entry to be written.
const (
	OriginWebhook     = "webhook"
	OriginOperator    = "operator"
	OriginRetryEngine = "retry_engine"
)

// Job is one request to set the referral fee on a matter participant in the
// remote practice-management system. Jobs are inserted as pending by the
// webhook producer and only ever mutated by the worker; they are never
// deleted.
type Job struct {
	ID            int64      `json:"id"`
	MatterID      string     `json:"matter_id"`
	ParticipantID string     `json:"participant_id"`
	AssigneeName  string     `json:"assignee_name"`
	Percentage    float64    `json:"percentage"`
	Status        string     `json:"status"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// LogEntry is an append-only audit row. Entries are written once and never
// updated; JobID is nullable so an entry can outlive or precede its job row.
type LogEntry struct {
	ID          int64     `json:"id"`
	JobID       *int64    `json:"job_id,omitempty"`
	MatterID    string    `json:"matter_id"`
	Action      string    `json:"action"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	ErrorDetail *string   `json:"error_detail,omitempty"`
	Origin      string    `json:"origin"`
	CreatedAt   time.Time `json:"created_at"`
}
