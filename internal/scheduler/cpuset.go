package scheduler

import (
	"runtime"
	"strconv"
)

// lockOSThread pins the calling goroutine to its current OS thread for the
// remainder of its lifetime, a precondition for SchedSetaffinity to have any
// lasting effect.
func lockOSThread() {
	runtime.LockOSThread()
}

// cpusetForIndex renders a worker's CPU index as the single-core
// `--cpuset-cpus` value its container is created with.
func cpusetForIndex(index int) string {
	return strconv.Itoa(index)
}
