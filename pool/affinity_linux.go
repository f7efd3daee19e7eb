//go:build linux

package pool

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinToCPU locks the calling goroutine to its own OS thread and restricts
// that thread to cpu. Grounded in the teacher's PinToCPU (affinity.go),
// wired into worker startup via Options.PinWorkers.
func pinToCPU(cpu int) error {
	runtime.LockOSThread()
	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
