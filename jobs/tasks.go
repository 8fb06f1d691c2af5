package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsInvalidate drops the registered sessions of a user whose
	// roles or permissions changed.
	TaskPermissionsInvalidate = "security:permissions-invalidate"
	// TaskRegistrySweep removes index entries of expired sessions.
	TaskRegistrySweep = "security:registry-sweep"
)

// PermissionsInvalidatePayload identifies the user whose sessions are dropped.
type PermissionsInvalidatePayload struct {
	UserID uuid.UUID `json:"user_id"`
	Reason string    `json:"reason,omitempty"`
}

// NewPermissionsInvalidateTask constructs an Asynq task.
func NewPermissionsInvalidateTask(payload PermissionsInvalidatePayload) (*asynq.Task, error) {
	if payload.UserID == uuid.Nil {
		return nil, fmt.Errorf("jobs: permissions invalidate: user id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsInvalidate, data, asynq.MaxRetry(5)), nil
}

// NewRegistrySweepTask constructs the periodic sweep task.
func NewRegistrySweepTask() *asynq.Task {
	return asynq.NewTask(TaskRegistrySweep, nil, asynq.MaxRetry(1))
}
