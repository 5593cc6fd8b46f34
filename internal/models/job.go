package models

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates lifecycle states tracked in the job store.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Backoff types supported by the queue retry policy.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// BackoffPolicy controls how retry delays grow across attempts.
type BackoffPolicy struct {
	Type      string        `json:"type"`
	BaseDelay time.Duration `json:"base_delay"`
}

// Job is a durable, retryable unit of work on one of the named queues.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     BackoffPolicy   `json:"backoff"`
	// Priority orders dequeue; lower values are more urgent.
	Priority  int       `json:"priority"`
	NotBefore time.Time `json:"not_before"`
	Status    string    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NextBackoff returns the delay before the given retry attempt.
// Exponential doubles per attempt: base, 2*base, 4*base, ...
func (p BackoffPolicy) NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Type == BackoffFixed {
		return p.BaseDelay
	}
	return p.BaseDelay << uint(attempt-1)
}
