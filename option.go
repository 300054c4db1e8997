package fluxio

// Backend selects which reactor an Engine drives its Scheduler with.
type Backend int

const (
	BackendEpoll Backend = iota
	BackendIoUring
)

// engineConfig collects NewEngine's options. Grounded on the teacher's
// rio.go/vortex.go Preset-and-option-setter pattern, simplified to a
// single owned Engine instead of a reference-counted global.
type engineConfig struct {
	backend         Backend
	uringQueueDepth uint32
}

type Option func(*engineConfig)

// WithBackend selects the reactor backend. Default is BackendEpoll.
func WithBackend(b Backend) Option {
	return func(c *engineConfig) { c.backend = b }
}

// WithUringQueueDepth sets the io_uring submission/completion queue
// depth; ignored when the backend is BackendEpoll.
func WithUringQueueDepth(depth uint32) Option {
	return func(c *engineConfig) { c.uringQueueDepth = depth }
}
