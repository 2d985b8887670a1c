package embed

import "sync"

// AcceleratedFactory constructs an in-process accelerated backend
// (GPU or NPU). Implementations live outside this module and register
// themselves at init time, the way database/sql drivers do; the core never
// links accelerator libraries directly.
type AcceleratedFactory func() (Accelerated, error)

// Accelerated is an in-process backend with an explicit health probe.
type Accelerated interface {
	Embed(texts []string) ([][]float32, error)
	Dimensions() int
	Healthy() bool
}

var (
	accelMu      sync.Mutex
	accelFactory AcceleratedFactory
)

// RegisterAccelerated installs the accelerated backend factory. The last
// registration wins; registering nil clears it.
func RegisterAccelerated(f AcceleratedFactory) {
	accelMu.Lock()
	defer accelMu.Unlock()
	accelFactory = f
}

// accelerated returns a healthy accelerated backend, or nil when none is
// registered or construction fails.
func accelerated() Accelerated {
	accelMu.Lock()
	f := accelFactory
	accelMu.Unlock()
	if f == nil {
		return nil
	}
	a, err := f()
	if err != nil || a == nil || !a.Healthy() {
		return nil
	}
	return a
}
