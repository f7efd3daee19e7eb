//go:build !linux

package pool

// pinToCPU is a no-op outside Linux; Options.PinWorkers is honored only
// where the host OS exposes CPU-affinity syscalls.
func pinToCPU(cpu int) error {
	return nil
}
