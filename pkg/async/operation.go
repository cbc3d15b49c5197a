// Package async runs single commands in the background and tracks them as operations that can be
// polled, listed and cancelled.
package async

import "time"

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Operation is one background command execution.
type Operation struct {
	ID          string                 `json:"operation_id"`
	CommandType string                 `json:"command_type"`
	Parameters  map[string]interface{} `json:"parameters"`
	Status      Status                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Progress    float64                `json:"progress"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	ErrorID     string                 `json:"error_id,omitempty"`
}

// Runtime is (completedAt or now) - startedAt, or zero before the operation started.
func (o *Operation) Runtime(now time.Time) time.Duration {
	if o.StartedAt == nil {
		return 0
	}
	end := now
	if o.CompletedAt != nil {
		end = *o.CompletedAt
	}
	return end.Sub(*o.StartedAt)
}

// Summary is the list view of an operation.
type Summary struct {
	ID          string    `json:"operation_id"`
	CommandType string    `json:"command_type"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	Progress    float64   `json:"progress"`
	Runtime     float64   `json:"runtime"`
}

// Summarize builds the list view of o at time now.
func (o *Operation) Summarize(now time.Time) Summary {
	return Summary{
		ID:          o.ID,
		CommandType: o.CommandType,
		Status:      o.Status,
		CreatedAt:   o.CreatedAt,
		Progress:    o.Progress,
		Runtime:     o.Runtime(now).Seconds(),
	}
}

func (o *Operation) clone() *Operation {
	c := *o
	if o.StartedAt != nil {
		t := *o.StartedAt
		c.StartedAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
