//go:build linux

package scheduler

import (
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// pinCurrentThread locks the calling goroutine to its own OS thread and
// restricts that thread's scheduling affinity to cpuIndex, mirroring what
// the source's gunicorn pre-fork hook did with os.sched_setaffinity at the
// OS-process level.
func pinCurrentThread(cpuIndex int, log zerolog.Logger) {
	lockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpuIndex)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		log.Warn().Err(err).Int("cpu_index", cpuIndex).Msg("failed to set cpu affinity")
	}
}
