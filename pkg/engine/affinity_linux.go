//go:build linux

package engine

import (
	"runtime"

	"golang.org/x/sys/unix"

	"firestige.xyz/harpoon/pkg/core"
)

// pinWorker locks the calling goroutine to its OS thread and binds the
// thread to one CPU picked round-robin from the affinity list. An
// empty list spreads workers across all CPUs.
func pinWorker(id int, affinity []int) error {
	runtime.LockOSThread()

	var cpu int
	if len(affinity) > 0 {
		cpu = affinity[id%len(affinity)]
	} else {
		cpu = id % runtime.NumCPU()
	}
	if cpu < 0 || cpu >= runtime.NumCPU() {
		return core.Errorf(core.CodeInvalidArgument, "cpu %d out of range", cpu)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return core.Wrap(core.CodePermissionDenied, err, "set thread affinity")
	}
	return nil
}
