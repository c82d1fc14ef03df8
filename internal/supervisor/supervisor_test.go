package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srt-gateway/internal/config"
)

func TestTeardown_MissingProcessIsNotAnError(t *testing.T) {
	// PIDs near the max are effectively never in use on test machines.
	require.NoError(t, Teardown(4194000))
	require.NoError(t, Teardown(4194000))
}

func TestWorkerHandle_PIDBeforeStart(t *testing.T) {
	handle := &WorkerHandle{Name: "tokenizer"}
	assert.Zero(t, handle.PID())
}

func TestLaunch_SpawnFailureTearsDownEverything(t *testing.T) {
	cfg := config.WorkersConfig{
		Tokenizer:   config.WorkerConfig{Command: []string{"/bin/sh", "-c", "read line <&3"}},
		Scheduler:   config.WorkerConfig{Command: []string{"/nonexistent/worker-binary"}},
		Detokenizer: config.WorkerConfig{Command: []string{"/bin/sh", "-c", "read line <&3"}},
	}

	sup := New(cfg)
	err := sup.Launch(context.Background())
	require.Error(t, err)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, "scheduler", launchErr.Stage)

	sup.TeardownAll()
}

func TestLaunch_WorkerReportingFailureAborts(t *testing.T) {
	ok := config.WorkerConfig{Command: []string{"/bin/sh", "-c", `echo "init ok" >&3; sleep 30`}}
	bad := config.WorkerConfig{Command: []string{"/bin/sh", "-c", `echo "model load failed" >&3`}}

	sup := New(config.WorkersConfig{Tokenizer: ok, Scheduler: bad, Detokenizer: ok})
	defer sup.TeardownAll()

	err := sup.Launch(context.Background())
	require.Error(t, err)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, "scheduler", launchErr.Stage)
	assert.Contains(t, launchErr.Detail, "model load failed")
}

func TestLaunch_AllWorkersReady(t *testing.T) {
	ok := config.WorkerConfig{Command: []string{"/bin/sh", "-c", `echo "init ok" >&3; sleep 30`}}

	sup := New(config.WorkersConfig{Tokenizer: ok, Scheduler: ok, Detokenizer: ok})
	defer sup.TeardownAll()

	require.NoError(t, sup.Launch(context.Background()))

	workers := sup.Workers()
	require.Len(t, workers, 3)
	for _, handle := range workers {
		assert.NotZero(t, handle.PID())
	}
}

func TestLaunch_SilentWorkerExitAborts(t *testing.T) {
	ok := config.WorkerConfig{Command: []string{"/bin/sh", "-c", `echo "init ok" >&3; sleep 30`}}
	silent := config.WorkerConfig{Command: []string{"/bin/true"}}

	sup := New(config.WorkersConfig{Tokenizer: ok, Scheduler: silent, Detokenizer: ok})
	defer sup.TeardownAll()

	err := sup.Launch(context.Background())
	require.Error(t, err)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, "scheduler", launchErr.Stage)
}
