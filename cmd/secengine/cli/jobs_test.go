package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/secengine/jobs"
)

func TestBuildTask(t *testing.T) {
	task, err := BuildTask("registry-sweep", nil)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskRegistrySweep, task.Type())

	userID := uuid.New()
	task, err = BuildTask(jobs.TaskPermissionsInvalidate, []string{userID.String()})
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskPermissionsInvalidate, task.Type())
	var payload jobs.PermissionsInvalidatePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, userID, payload.UserID)
	assert.Equal(t, "cli", payload.Reason)
}

func TestBuildTaskErrors(t *testing.T) {
	cases := map[string][]string{
		"missing user id": nil,
		"invalid user id": {"nope"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BuildTask("permissions-invalidate", args)
			assert.Error(t, err)
		})
	}
	_, err := BuildTask("fx-revaluation", nil)
	assert.ErrorContains(t, err, "unsupported job")
}

func TestRunUsage(t *testing.T) {
	var c *JobsCLI
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	assert.Equal(t, 2, c.Run(context.Background(), nil, stdout, stderr))
	assert.Equal(t, 2, c.Run(context.Background(), []string{"trigger"}, stdout, stderr))
	assert.Equal(t, 2, c.Run(context.Background(), []string{"purge"}, stdout, stderr))
	assert.Equal(t, 1, c.Run(context.Background(), []string{"trigger", "registry-sweep"}, stdout, stderr))
	assert.Contains(t, stderr.String(), "client not configured")
	assert.Empty(t, stdout.String())
}
