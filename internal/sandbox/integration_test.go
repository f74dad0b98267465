//go:build integration

package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/execlab/sandboxd/internal/task"
)

// TestExecuteAgainstLiveDocker runs a real python:3.11-slim container through
// Session.Execute end to end. It requires a live Docker daemon and is built
// only under the "integration" tag.
func TestExecuteAgainstLiveDocker(t *testing.T) {
	ctx := context.Background()

	// Confirm the daemon is reachable via testcontainers' own provider before
	// standing up the real client under test, so a missing daemon skips
	// cleanly instead of failing deep inside Session.Execute.
	probe, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "python:3.11-slim",
			Cmd:        []string{"sleep", "1"},
			WaitingFor: wait.ForExit().WithExitTimeout(10 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker daemon not available: %v", err)
	}
	defer probe.Terminate(ctx)

	client, err := NewDockerClient(ctx)
	require.NoError(t, err)
	defer client.Close()

	s := NewSession(client, "python", Config{MemoryBytes: 256 << 20})
	out, err := s.Execute(ctx, task.Submission{
		Language: "python",
		Code:     "print('hello from sandbox')",
	})
	require.NoError(t, err)
	require.Contains(t, out.Stdout, "hello from sandbox")
}

// TestExecuteWithProfilingAgainstLiveDocker exercises the sampling profiler
// path end to end.
func TestExecuteWithProfilingAgainstLiveDocker(t *testing.T) {
	ctx := context.Background()

	client, err := NewDockerClient(ctx)
	if err != nil {
		t.Skipf("docker daemon not available: %v", err)
	}
	defer client.Close()

	s := NewSession(client, "python", Config{MemoryBytes: 256 << 20})
	out, err := s.Execute(ctx, task.Submission{
		Language:     "python",
		Code:         "x = [0] * 1000000\nprint(len(x))",
		RunProfiling: true,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Profiling)
	require.Greater(t, out.Profiling.PeakMemoryKB, int64(0))
}
