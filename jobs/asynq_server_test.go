package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"queue": "default",
		"paused": false,
		"pending": 0,
		"active": 0,
		"scheduled": 0,
		"retry": 0,
		"tasks": ["security:permissions-invalidate", "security:registry-sweep"]
	}`, rr.Body.String())
}

func TestNewWorkerIgnoresIncompleteRegistrations(t *testing.T) {
	w, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers: []TaskHandler{
			{Type: TaskRegistrySweep, Handler: func(context.Context, *asynq.Task) error { return nil }},
			{Type: TaskPermissionsInvalidate},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, w.scheduler)

	h, pattern := w.mux.Handler(NewRegistrySweepTask())
	assert.NotNil(t, h)
	assert.Equal(t, TaskRegistrySweep, pattern)
}

func TestRunRequiresWorker(t *testing.T) {
	var w *Worker
	assert.Error(t, w.Run(context.Background()))
}
