package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/execlab/sandboxd/internal/task"
)

// imageRefLocks serializes concurrent Session.close calls against the same
// image so the "is this image still referenced by another container"
// check-then-remove sequence cannot race between two workers finishing
// sessions built from the same template at once.
var imageRefLocks sync.Map // map[string]*sync.Mutex

func lockForImage(ref string) *sync.Mutex {
	mu, _ := imageRefLocks.LoadOrStore(ref, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Config configures a Session's container limits and lifecycle policy.
type Config struct {
	MemoryBytes  int64
	CpusetCPUs   string
	KeepTemplate bool // if true (default), the session's image is never removed on close
}

// Session is a stateful, single-task coordinator: open a container, install
// libraries, stage code and stdin, run, collect the result, then tear
// everything down unconditionally.
type Session struct {
	client ContainerClient
	lang   string
	cfg    Config

	containerID  string
	imageRef     string
	imageCreated bool
}

// NewSession builds a session for one task. lang is stored on the session,
// but Execute selects the language config from the submission's Language.
func NewSession(client ContainerClient, lang string, cfg Config) *Session {
	if cfg.MemoryBytes == 0 {
		cfg.MemoryBytes = 1 << 30 // 1 GiB default ceiling
	}
	return &Session{client: client, lang: lang, cfg: cfg}
}

// Execute drives the full open->setup->stage->run->collect->close lifecycle
// for one submission. The container is always torn down before Execute
// returns, regardless of outcome. The returned output always has Stdout and
// Stderr set (possibly empty) and at most one of Profiling/TimeV populated.
func (s *Session) Execute(ctx context.Context, sub task.Submission) (task.ExecutionOutput, error) {
	langCfg, err := Lookup(sub.Language)
	if err != nil {
		return task.ExecutionOutput{Error: err.Error()}, err
	}

	defer s.close(context.Background())
	if err := s.open(ctx, langCfg); err != nil {
		return task.ExecutionOutput{Error: err.Error()}, err
	}

	if err := s.setup(ctx, langCfg, sub.Libraries); err != nil {
		return task.ExecutionOutput{Error: err.Error()}, err
	}

	codePath := langCfg.CodePath("")
	if err := s.stage(ctx, langCfg, codePath, sub); err != nil {
		return task.ExecutionOutput{Error: err.Error()}, err
	}

	var profiler Profiler
	if sub.RunProfiling {
		profiler = SamplingProfiler{}
	} else {
		profiler = TimeVProfiler{}
	}

	execResult, lastCmdErr := s.run(ctx, langCfg, codePath, profiler, sub.Stdin != "")
	if lastCmdErr != nil {
		return task.ExecutionOutput{Error: lastCmdErr.Error()}, lastCmdErr
	}

	return s.collect(ctx, langCfg, execResult, sub.RunProfiling)
}

func (s *Session) open(ctx context.Context, langCfg LanguageConfig) error {
	s.imageRef = langCfg.Image
	if err := s.client.EnsureImage(ctx, s.imageRef); err != nil {
		return fmt.Errorf("ensure image %s: %w", s.imageRef, err)
	}
	s.imageCreated = true

	limits := Limits{MemoryBytes: s.cfg.MemoryBytes, CpusetCPUs: s.cfg.CpusetCPUs}
	containerID, err := s.client.Create(ctx, s.imageRef, limits, nil, "")
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	s.containerID = containerID

	if err := s.client.Start(ctx, containerID); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

func (s *Session) setup(ctx context.Context, langCfg LanguageConfig, libraries []string) error {
	for _, step := range langCfg.Setup {
		if res, err := s.client.Exec(ctx, s.containerID, splitShell(step.Command), step.Workdir); err != nil || res.ExitCode != 0 {
			if err != nil {
				return fmt.Errorf("setup step %q: %w", step.Command, err)
			}
			return fmt.Errorf("setup step %q exited %d: %s", step.Command, res.ExitCode, res.Stderr)
		}
	}

	setupWorkdir := ""
	if len(langCfg.Setup) > 0 {
		setupWorkdir = langCfg.Setup[len(langCfg.Setup)-1].Workdir
	}

	for _, lib := range libraries {
		cmd := langCfg.InstallCommand(lib)
		res, err := s.client.Exec(ctx, s.containerID, splitShell(cmd), setupWorkdir)
		if err != nil {
			return fmt.Errorf("install %s: %w", lib, err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("install %s exited %d: %s", lib, res.ExitCode, res.Stderr)
		}
	}
	return nil
}

func (s *Session) stage(ctx context.Context, langCfg LanguageConfig, codePath string, sub task.Submission) error {
	if err := s.client.CopyIn(ctx, s.containerID, []byte(sub.Code), codePath); err != nil {
		return fmt.Errorf("stage code: %w", err)
	}
	if err := s.client.CopyIn(ctx, s.containerID, []byte(sub.Stdin), "/tmp/stdin"); err != nil {
		return fmt.Errorf("stage stdin: %w", err)
	}
	if sub.RunProfiling {
		if err := s.client.CopyIn(ctx, s.containerID, memoryProfilerScript, memProfilerContainerPath); err != nil {
			return fmt.Errorf("stage profiler script: %w", err)
		}
		if _, err := s.client.Exec(ctx, s.containerID, []string{"chmod", "+x", memProfilerContainerPath}, ""); err != nil {
			return fmt.Errorf("chmod profiler script: %w", err)
		}
	}
	return nil
}

func (s *Session) run(ctx context.Context, langCfg LanguageConfig, codePath string, profiler Profiler, hasStdin bool) (ExecResult, error) {
	commands := langCfg.RunCommands(codePath)

	last := len(commands) - 1
	commands[last] = profiler.WrapCommand(commands[last])
	if hasStdin {
		commands[last] = fmt.Sprintf("bash -c '%s < /tmp/stdin'", commands[last])
	}

	var result ExecResult
	for i, cmd := range commands {
		res, err := s.client.Exec(ctx, s.containerID, splitShell(cmd), langCfg.Workdir)
		if err != nil {
			return ExecResult{}, fmt.Errorf("exec %q: %w", cmd, err)
		}
		result = res
		if i < last && res.ExitCode != 0 {
			return ExecResult{}, fmt.Errorf("compile step %q exited %d: %s", cmd, res.ExitCode, res.Stderr)
		}
	}
	return result, nil
}

func (s *Session) collect(ctx context.Context, langCfg LanguageConfig, result ExecResult, profiling bool) (task.ExecutionOutput, error) {
	out := task.ExecutionOutput{Stdout: result.Stdout, Stderr: result.Stderr}

	if profiling {
		logDir := langCfg.Workdir
		logPath := memUsageLogName
		if logDir != "" && logDir != "/tmp" {
			logPath = logDir + "/" + memUsageLogName
		} else {
			logPath = "/tmp/" + memUsageLogName
		}
		data, err := s.client.CopyOut(ctx, s.containerID, logPath)
		if err != nil {
			return out, fmt.Errorf("collect memory log: %w", err)
		}
		profResult, err := ParseSamplingLog(data)
		if err != nil {
			return out, fmt.Errorf("parse memory log: %w", err)
		}
		out.Profiling = &profResult
		return out, nil
	}

	rec := ParseTimeVOutput(result.Stderr)
	out.TimeV = &rec
	return out, nil
}

// Kill forcibly terminates the session's container for timeout handling.
// The container removal still happens through close's deferred path.
func (s *Session) Kill(ctx context.Context) {
	if s.containerID == "" {
		return
	}
	_ = s.client.Kill(ctx, s.containerID)
}

// close forcibly removes the container and, unless KeepTemplate is set,
// removes the session's image too when no other container still references
// it. It does not distinguish an image this session pulled from one that
// was already present locally. Cleanup errors never alter the task's result
// status.
func (s *Session) close(ctx context.Context) {
	if s.containerID == "" {
		return
	}
	containerID := s.containerID
	_ = s.client.Remove(ctx, containerID)
	s.containerID = ""

	if !s.imageCreated || s.cfg.KeepTemplate || s.imageRef == "" {
		return
	}

	mu := lockForImage(s.imageRef)
	mu.Lock()
	defer mu.Unlock()

	inUse, err := s.client.ImageInUse(ctx, s.imageRef, containerID)
	if err != nil || inUse {
		return
	}
	_ = s.client.RemoveImage(ctx, s.imageRef)
}

// splitShell breaks a simple space-separated command into argv form. It does
// not handle quoting beyond what `bash -c '...'` wrapping already produces
// for the wrapped run command, which is passed through as a single "bash"
// "-c" "..." triple.
func splitShell(cmd string) []string {
	if strings.HasPrefix(cmd, "bash -c '") && strings.HasSuffix(cmd, "'") {
		inner := strings.TrimSuffix(strings.TrimPrefix(cmd, "bash -c '"), "'")
		return []string{"bash", "-c", inner}
	}
	return strings.Fields(cmd)
}
