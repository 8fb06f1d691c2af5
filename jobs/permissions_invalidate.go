package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/secengine/internal/jobs"
)

// SessionStore is the part of the session registry used by background jobs.
type SessionStore interface {
	RemoveUser(ctx context.Context, userID uuid.UUID) (int, error)
	Sweep(ctx context.Context) (int, error)
}

// RoleCacheInvalidator drops cached role associations held by this process.
type RoleCacheInvalidator interface {
	InvalidateUser(userID uuid.UUID)
}

// PermissionsInvalidateJob drops the registered sessions of a user so that the
// next login compiles fresh permissions.
type PermissionsInvalidateJob struct {
	Sessions SessionStore
	Cache    RoleCacheInvalidator
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewPermissionsInvalidateJob initialises the handler. cache may be nil.
func NewPermissionsInvalidateJob(sessions SessionStore, cache RoleCacheInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionsInvalidateJob {
	return &PermissionsInvalidateJob{Sessions: sessions, Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle executes the invalidation.
func (j *PermissionsInvalidateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sessions == nil {
		return errors.New("permissions invalidate: handler not configured")
	}
	var payload PermissionsInvalidatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UserID == uuid.Nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskPermissionsInvalidate)
	if j.Cache != nil {
		j.Cache.InvalidateUser(payload.UserID)
	}
	removed, err := j.Sessions.RemoveUser(ctx, payload.UserID)
	if err != nil {
		j.logger().Error("permissions invalidate failed", slog.String("user_id", payload.UserID.String()), slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddSessionsRemoved(TaskPermissionsInvalidate, removed)
	j.logger().Info("user sessions invalidated",
		slog.String("user_id", payload.UserID.String()),
		slog.String("reason", payload.Reason),
		slog.Int("sessions", removed),
	)
	return tracker.End(nil)
}

func (j *PermissionsInvalidateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// RegistrySweepJob prunes the per-user session index.
type RegistrySweepJob struct {
	Sessions SessionStore
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle executes the sweep.
func (j *RegistrySweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Sessions == nil {
		return errors.New("registry sweep: handler not configured")
	}
	tracker := j.Metrics.Track(TaskRegistrySweep)
	removed, err := j.Sessions.Sweep(ctx)
	if err != nil {
		return tracker.End(err)
	}
	j.Metrics.AddSessionsRemoved(TaskRegistrySweep, removed)
	if j.Logger != nil && removed > 0 {
		j.Logger.Info("session index swept", slog.Int("entries", removed))
	}
	return tracker.End(nil)
}
