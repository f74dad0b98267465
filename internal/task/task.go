// Package task defines the wire-level data model shared by the scheduler,
// sandbox, cache and API layers: submissions, their execution output, and
// the task record that tracks a submission through its lifecycle.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxTimeoutSeconds is the upper clamp for Submission.TimeoutSeconds.
const MaxTimeoutSeconds = 120

// DefaultTimeoutSeconds is used when a submission does not specify one.
const DefaultTimeoutSeconds = 30

// Submission is an immutable request to execute a snippet of code. It is a
// closed struct on purpose: unknown JSON keys are rejected by the decoder
// that builds it (see httpapi.decodeSubmission), rather than accepted into
// an open-ended map the way the original Python service did.
type Submission struct {
	Language       string   `json:"language"`
	Code           string   `json:"code"`
	Stdin          string   `json:"stdin,omitempty"`
	Libraries      []string `json:"libraries,omitempty"`
	TimeoutSeconds int      `json:"timeout,omitempty"`
	RunProfiling   bool     `json:"run_memory_profile,omitempty"`
}

// Normalize clamps TimeoutSeconds into [1, MaxTimeoutSeconds] and fills in
// the default when unset, mirroring `min(input_dict.get('timeout', 30), 120)`
// from the source backend.
func (s *Submission) Normalize() {
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if s.TimeoutSeconds > MaxTimeoutSeconds {
		s.TimeoutSeconds = MaxTimeoutSeconds
	}
}

// Validate checks the fields required at submit time. Library install
// legality for the chosen language is checked later by the sandbox package,
// which knows the per-language install table.
func (s *Submission) Validate() error {
	if s.Code == "" {
		return fmt.Errorf("No code provided")
	}
	if s.Language == "" {
		return fmt.Errorf("No language provided")
	}
	return nil
}

// Status is the task state machine: queued -> processing -> {done, timeout, error}.
// Terminal states are final; there is no transition out of them.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusTimeout    Status = "timeout"
	StatusError      Status = "error"
)

// Terminal reports whether a status has no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusTimeout || s == StatusError
}

// MemSample is one (timestamp, RSS) reading from the sampling profiler's log.
type MemSample struct {
	TimestampNS int64 `json:"timestamp_ns"`
	RSSKB       int64 `json:"rss_kb"`
}

// ProfilingResult is populated when Submission.RunProfiling is true.
//
// Integral is defined as a running-maximum accumulator (sum of
// peak-memory-so-far at each sample), not a trapezoidal integral of RSS over
// time. This is the source's definition and is preserved bit-for-bit for
// compatibility with existing clients.
type ProfilingResult struct {
	PeakMemoryKB int64       `json:"peak_memory"`
	Integral     int64       `json:"integral"`
	DurationMS   float64     `json:"duration_ms"`
	Log          []MemSample `json:"log"`
}

// TimeVRecord holds the fields parsed out of `time -v` (GNU time, verbose
// mode) stderr. Every field the original parser recognizes is represented;
// fields the parser could not find in a given run stay at their zero value.
type TimeVRecord struct {
	Command                    string  `json:"command,omitempty"`
	UserTime                    float64 `json:"user_time"`
	SystemTime                  float64 `json:"system_time"`
	ElapsedTimeSeconds          float64 `json:"elapsed_time_seconds"`
	CPUPercent                  int     `json:"cpu_percent"`
	MaxResidentSetKB            int64   `json:"max_resident_set_kb"`
	AvgSharedTextKB             int64   `json:"avg_shared_text_kb,omitempty"`
	AvgUnsharedDataKB           int64   `json:"avg_unshared_data_kb,omitempty"`
	AvgStackSizeKB              int64   `json:"avg_stack_size_kb,omitempty"`
	AvgTotalSizeKB              int64   `json:"avg_total_size_kb,omitempty"`
	MinorPageFaults             int64   `json:"minor_page_faults"`
	MajorPageFaults             int64   `json:"major_page_faults"`
	VoluntaryContextSwitches    int64   `json:"voluntary_context_switches"`
	InvoluntaryContextSwitches  int64   `json:"involuntary_context_switches"`
	Swaps                       int64   `json:"swaps,omitempty"`
	FileSystemInputs            int64   `json:"file_system_inputs,omitempty"`
	FileSystemOutputs           int64   `json:"file_system_outputs,omitempty"`
	SignalsDelivered            int64   `json:"signals_delivered,omitempty"`
	PageSizeBytes               int64   `json:"page_size_bytes,omitempty"`
	ExitStatus                  int     `json:"exit_status"`
}

// ExecutionOutput is what a Sandbox Session produces. Exactly one of
// Profiling or TimeV is populated, matching which of the two mutually
// exclusive profiler modes ran; Error is set for tasks that failed or timed
// out, and those may carry neither.
type ExecutionOutput struct {
	Stdout    string           `json:"stdout"`
	Stderr    string           `json:"stderr"`
	Profiling *ProfilingResult `json:"profiling,omitempty"`
	TimeV     *TimeVRecord     `json:"time_v,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Task is an accepted submission plus its evolving execution state.
type Task struct {
	ID          uuid.UUID       `json:"task_id"`
	Submission  Submission      `json:"-"`
	WorkerID    int             `json:"worker_id"`
	EnqueuedAt  time.Time       `json:"-"`
	StartedAt   time.Time       `json:"-"`
	FinishedAt  time.Time       `json:"-"`
	Status      Status          `json:"status"`
	Output      ExecutionOutput `json:"output_dict"`
	ProcessTime float64         `json:"process_time"`
}

// NewID generates a collision-free 128-bit random task identifier.
func NewID() uuid.UUID {
	return uuid.New()
}

// MarshalJSON renders the task the way the HTTP API reports it: task_id,
// status, output_dict, worker_id, a unix timestamp, and process_time,
// matching the shape of the original /results/<task_id> response.
func (t Task) MarshalJSON() ([]byte, error) {
	type wire struct {
		TaskID      string          `json:"task_id"`
		Status      Status          `json:"status"`
		OutputDict  ExecutionOutput `json:"output_dict"`
		WorkerID    int             `json:"worker_id"`
		Timestamp   float64         `json:"timestamp"`
		ProcessTime float64         `json:"process_time"`
	}
	ts := float64(t.EnqueuedAt.UnixNano()) / 1e9
	return json.Marshal(wire{
		TaskID:      t.ID.String(),
		Status:      t.Status,
		OutputDict:  t.Output,
		WorkerID:    t.WorkerID,
		Timestamp:   ts,
		ProcessTime: t.ProcessTime,
	})
}
