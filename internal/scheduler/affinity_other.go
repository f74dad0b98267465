//go:build !linux

package scheduler

import "github.com/rs/zerolog"

// pinCurrentThread is a no-op outside Linux: CPU affinity pinning is a
// Linux-specific scheduling hint, not a correctness requirement.
func pinCurrentThread(cpuIndex int, log zerolog.Logger) {}
