package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execlab/sandboxd/internal/task"
)

// fakeContainerClient is an in-memory ContainerClient double for exercising
// Session without a live Docker daemon.
type fakeContainerClient struct {
	created      bool
	started      bool
	removed      bool
	killed       bool
	copiedIn     map[string][]byte
	execCommands []string
	memLog       []byte
	imagesInUse  bool
	removedImage string
}

func newFakeContainerClient() *fakeContainerClient {
	return &fakeContainerClient{copiedIn: make(map[string][]byte)}
}

func (f *fakeContainerClient) EnsureImage(ctx context.Context, ref string) error { return nil }

func (f *fakeContainerClient) Create(ctx context.Context, image string, limits Limits, mounts []Mount, name string) (string, error) {
	f.created = true
	return "container-1", nil
}

func (f *fakeContainerClient) Start(ctx context.Context, containerID string) error {
	f.started = true
	return nil
}

func (f *fakeContainerClient) Exec(ctx context.Context, containerID string, cmd []string, workdir string) (ExecResult, error) {
	f.execCommands = append(f.execCommands, cmd[len(cmd)-1])
	return ExecResult{ExitCode: 0, Stdout: "hello\n"}, nil
}

func (f *fakeContainerClient) CopyIn(ctx context.Context, containerID string, content []byte, dstPath string) error {
	f.copiedIn[dstPath] = content
	return nil
}

func (f *fakeContainerClient) CopyOut(ctx context.Context, containerID, srcPath string) ([]byte, error) {
	return f.memLog, nil
}

func (f *fakeContainerClient) Kill(ctx context.Context, containerID string) error {
	f.killed = true
	return nil
}

func (f *fakeContainerClient) Remove(ctx context.Context, containerID string) error {
	f.removed = true
	return nil
}

func (f *fakeContainerClient) ImageInUse(ctx context.Context, imageRef, excludeContainerID string) (bool, error) {
	return f.imagesInUse, nil
}

func (f *fakeContainerClient) RemoveImage(ctx context.Context, imageRef string) error {
	f.removedImage = imageRef
	return nil
}

func TestExecuteRunsHelloPython(t *testing.T) {
	fc := newFakeContainerClient()
	fc.memLog = []byte("1 100\n2 100\n")
	s := NewSession(fc, "python", Config{})

	sub := task.Submission{Language: "python", Code: "print('hello')"}
	out, err := s.Execute(context.Background(), sub)

	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.NotNil(t, out.TimeV)
	assert.Nil(t, out.Profiling)
	assert.True(t, fc.created)
	assert.True(t, fc.started)
	assert.True(t, fc.removed)
}

func TestExecuteWithProfilingPopulatesProfilingResult(t *testing.T) {
	fc := newFakeContainerClient()
	fc.memLog = []byte("1000 100\n2000 200\n")
	s := NewSession(fc, "python", Config{})

	sub := task.Submission{Language: "python", Code: "print(1)", RunProfiling: true}
	out, err := s.Execute(context.Background(), sub)

	require.NoError(t, err)
	require.NotNil(t, out.Profiling)
	assert.Nil(t, out.TimeV)
	assert.EqualValues(t, 200, out.Profiling.PeakMemoryKB)
}

func TestExecuteUnknownLanguageFailsFast(t *testing.T) {
	fc := newFakeContainerClient()
	s := NewSession(fc, "cobol", Config{})

	_, err := s.Execute(context.Background(), task.Submission{Language: "cobol", Code: "x"})
	require.Error(t, err)
	assert.False(t, fc.created, "container must not be created for an unsupported language")
}

func TestCloseRemovesPulledImageWhenUnreferenced(t *testing.T) {
	fc := newFakeContainerClient()
	fc.memLog = []byte("1 1\n2 1\n")
	fc.imagesInUse = false
	s := NewSession(fc, "python", Config{KeepTemplate: false})

	_, err := s.Execute(context.Background(), task.Submission{Language: "python", Code: "print(1)"})
	require.NoError(t, err)

	assert.Equal(t, "python:3.11-slim", fc.removedImage)
}

func TestCloseKeepsImageWhenStillReferenced(t *testing.T) {
	fc := newFakeContainerClient()
	fc.memLog = []byte("1 1\n2 1\n")
	fc.imagesInUse = true
	s := NewSession(fc, "python", Config{KeepTemplate: false})

	_, err := s.Execute(context.Background(), task.Submission{Language: "python", Code: "print(1)"})
	require.NoError(t, err)

	assert.Empty(t, fc.removedImage)
}

func TestCloseKeepsImageWhenKeepTemplateTrue(t *testing.T) {
	fc := newFakeContainerClient()
	fc.memLog = []byte("1 1\n2 1\n")
	s := NewSession(fc, "python", Config{KeepTemplate: true})

	_, err := s.Execute(context.Background(), task.Submission{Language: "python", Code: "print(1)"})
	require.NoError(t, err)

	assert.Empty(t, fc.removedImage)
}
