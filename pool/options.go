package pool

import "runtime"

// Options configure a Pool. All zero values are replaced with sensible
// defaults in FillDefaults, following the teacher's Options/FillDefaults
// pattern (azargarov-wpool/options.go).
type Options struct {
	// Workers is the initial worker count. Zero means GOMAXPROCS(0),
	// matching thread_pool's default hardware_concurrency() reserve.
	Workers int

	// PinWorkers locks each worker's goroutine to its own OS thread and
	// pins that thread to one CPU (Linux only; a no-op elsewhere),
	// grounded in the teacher's affinity.go.
	PinWorkers bool
}

// FillDefaults replaces zero-valued fields with their defaults.
func (o *Options) FillDefaults() {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
}
