package pool

import "runtime"

// cpuCount reports GOMAXPROCS, used to wrap-around worker-to-CPU pinning
// when PinWorkers is set with more workers than logical CPUs.
func cpuCount() int {
	return runtime.GOMAXPROCS(0)
}
