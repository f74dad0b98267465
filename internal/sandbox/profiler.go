package sandbox

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/execlab/sandboxd/internal/task"
)

// memoryProfilerScript is the sampling sidecar staged into the container at
// /tmp/memory_profiler.sh when profiling mode is active.
//
//go:embed memory_profiler.sh
var memoryProfilerScript []byte

const (
	memProfilerContainerPath = "/tmp/memory_profiler.sh"
	memUsageLogName          = "mem_usage.log"
)

// WrapCommand returns cmd wrapped by this profiler's instrumentation, e.g.
// "/tmp/memory_profiler.sh <cmd>" or "/usr/bin/time -v <cmd>". Exactly one
// profiler wraps the session's final run command.
type Profiler interface {
	WrapCommand(cmd string) string
	// Name identifies the profiler for logging.
	Name() string
}

// SamplingProfiler wraps the target with the memory-sampling sidecar
// script and is selected when Submission.RunProfiling is true.
type SamplingProfiler struct{}

func (SamplingProfiler) Name() string { return "sampling" }

func (SamplingProfiler) WrapCommand(cmd string) string {
	return memProfilerContainerPath + " " + cmd
}

// ParseSamplingLog parses the contents of mem_usage.log into a
// ProfilingResult. peak_memory is the maximum RSS seen; integral is the
// running-maximum accumulator (sum of peak-so-far at each sample) per
// spec.md's preserved definition, not a trapezoidal integral; duration_ms is
// derived from the first/last sample timestamps.
func ParseSamplingLog(content []byte) (task.ProfilingResult, error) {
	var result task.ProfilingResult
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		ts, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		rss, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		if rss > result.PeakMemoryKB {
			result.PeakMemoryKB = rss
		}
		result.Integral += result.PeakMemoryKB
		result.Log = append(result.Log, task.MemSample{TimestampNS: ts, RSSKB: rss})
	}

	if len(result.Log) == 0 {
		return result, fmt.Errorf("memory usage log contained no samples")
	}

	first := result.Log[0].TimestampNS
	last := result.Log[len(result.Log)-1].TimestampNS
	result.DurationMS = float64(last-first) / 1e6

	return result, nil
}

// TimeVProfiler wraps the target with GNU time's verbose mode and is
// selected when Submission.RunProfiling is false.
type TimeVProfiler struct{}

func (TimeVProfiler) Name() string { return "time_v" }

func (TimeVProfiler) WrapCommand(cmd string) string {
	return "/usr/bin/time -v " + cmd
}

var (
	cmdPattern          = regexp.MustCompile(`^Command being timed: "(.*)"`)
	userTimePattern     = regexp.MustCompile(`^User time \(seconds\): ([\d.]+)`)
	systemTimePattern   = regexp.MustCompile(`^System time \(seconds\): ([\d.]+)`)
	cpuPercentPattern   = regexp.MustCompile(`^Percent of CPU this job got: (\d+)%`)
	elapsedTimePattern  = regexp.MustCompile(`^Elapsed \(wall clock\) time \(h:mm:ss or m:ss\): (.*)`)
)

// ParseTimeVOutput parses the stderr of `time -v` into a TimeVRecord. It
// recognizes every key the original Python parser did and accepts elapsed
// time in H:MM:SS, M:SS, or S(.s) form. Fields it cannot find are left at
// their zero value rather than causing the whole parse to fail.
func ParseTimeVOutput(text string) task.TimeVRecord {
	var rec task.TimeVRecord

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case cmdPattern.MatchString(line):
			rec.Command = cmdPattern.FindStringSubmatch(line)[1]
		case userTimePattern.MatchString(line):
			rec.UserTime = parseFloat(userTimePattern.FindStringSubmatch(line)[1])
		case systemTimePattern.MatchString(line):
			rec.SystemTime = parseFloat(systemTimePattern.FindStringSubmatch(line)[1])
		case cpuPercentPattern.MatchString(line):
			rec.CPUPercent = int(parseFloat(cpuPercentPattern.FindStringSubmatch(line)[1]))
		case elapsedTimePattern.MatchString(line):
			rec.ElapsedTimeSeconds = parseHMS(elapsedTimePattern.FindStringSubmatch(line)[1])
		case hasField(line, "Maximum resident set size (kbytes):"):
			rec.MaxResidentSetKB = parseIntField(line)
		case hasField(line, "Average shared text size (kbytes):"):
			rec.AvgSharedTextKB = parseIntField(line)
		case hasField(line, "Average unshared data size (kbytes):"):
			rec.AvgUnsharedDataKB = parseIntField(line)
		case hasField(line, "Average stack size (kbytes):"):
			rec.AvgStackSizeKB = parseIntField(line)
		case hasField(line, "Average total size (kbytes):"):
			rec.AvgTotalSizeKB = parseIntField(line)
		case hasField(line, "Minor (reclaiming a frame) page faults:"):
			rec.MinorPageFaults = parseIntField(line)
		case hasField(line, "Major (requiring I/O) page faults:"):
			rec.MajorPageFaults = parseIntField(line)
		case hasField(line, "Voluntary context switches:"):
			rec.VoluntaryContextSwitches = parseIntField(line)
		case hasField(line, "Involuntary context switches:"):
			rec.InvoluntaryContextSwitches = parseIntField(line)
		case hasField(line, "Swaps:"):
			rec.Swaps = parseIntField(line)
		case hasField(line, "File system inputs:"):
			rec.FileSystemInputs = parseIntField(line)
		case hasField(line, "File system outputs:"):
			rec.FileSystemOutputs = parseIntField(line)
		case hasField(line, "Signals delivered:"):
			rec.SignalsDelivered = parseIntField(line)
		case hasField(line, "Page size (bytes):"):
			rec.PageSizeBytes = parseIntField(line)
		case hasField(line, "Exit status:"):
			rec.ExitStatus = int(parseIntField(line))
		}
	}

	return rec
}

func hasField(line, label string) bool {
	return strings.Contains(line, label)
}

func parseIntField(line string) int64 {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return 0
	}
	val := strings.TrimSpace(line[idx+1:])
	n, _ := strconv.ParseInt(val, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// parseHMS converts "H:MM:SS", "M:SS" or "S(.s)" into total seconds.
func parseHMS(raw string) float64 {
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 3:
		hours := parseFloat(parts[0])
		minutes := parseFloat(parts[1])
		seconds := parseFloat(parts[2])
		return hours*3600 + minutes*60 + seconds
	case 2:
		minutes := parseFloat(parts[0])
		seconds := parseFloat(parts[1])
		return minutes*60 + seconds
	default:
		return parseFloat(raw)
	}
}
