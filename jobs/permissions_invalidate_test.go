package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/secengine/internal/jobs"
)

type fakeSessions struct {
	removedFor []uuid.UUID
	removeErr  error
	swept      int
}

func (f *fakeSessions) RemoveUser(_ context.Context, userID uuid.UUID) (int, error) {
	if f.removeErr != nil {
		return 0, f.removeErr
	}
	f.removedFor = append(f.removedFor, userID)
	return 2, nil
}

func (f *fakeSessions) Sweep(context.Context) (int, error) { return f.swept, nil }

type fakeCache struct{ invalidated []uuid.UUID }

func (f *fakeCache) InvalidateUser(userID uuid.UUID) { f.invalidated = append(f.invalidated, userID) }

func TestPermissionsInvalidateJob(t *testing.T) {
	sessions := &fakeSessions{}
	cache := &fakeCache{}
	job := NewPermissionsInvalidateJob(sessions, cache, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	userID := uuid.New()
	task, err := NewPermissionsInvalidateTask(PermissionsInvalidatePayload{UserID: userID, Reason: "role edited"})
	require.NoError(t, err)
	assert.Equal(t, TaskPermissionsInvalidate, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []uuid.UUID{userID}, sessions.removedFor)
	assert.Equal(t, []uuid.UUID{userID}, cache.invalidated)
}

func TestPermissionsInvalidateJobRejectsBadPayload(t *testing.T) {
	job := NewPermissionsInvalidateJob(&fakeSessions{}, nil, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskPermissionsInvalidate, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	data, _ := json.Marshal(PermissionsInvalidatePayload{})
	err = job.Handle(context.Background(), asynq.NewTask(TaskPermissionsInvalidate, data))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	_, err = NewPermissionsInvalidateTask(PermissionsInvalidatePayload{})
	assert.Error(t, err)
}

func TestPermissionsInvalidateJobPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("redis unavailable")
	job := NewPermissionsInvalidateJob(&fakeSessions{removeErr: boom}, nil, nil, nil)
	task, err := NewPermissionsInvalidateTask(PermissionsInvalidatePayload{UserID: uuid.New()})
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestRegistrySweepJob(t *testing.T) {
	job := &RegistrySweepJob{Sessions: &fakeSessions{swept: 4}}
	assert.NoError(t, job.Handle(context.Background(), NewRegistrySweepTask()))

	var unconfigured *RegistrySweepJob
	assert.Error(t, unconfigured.Handle(context.Background(), NewRegistrySweepTask()))
}
