package fluxio

import (
	"context"

	"github.com/brickworks/fluxio/async"
)

// schedulerLoop is the subset of both loop backends' surface that
// Engine needs beyond the Scheduler interface: a blocking Run, a Stop,
// and a hook run before a root task's goroutine starts so the
// deadlock check in Run never races a task that hasn't registered yet.
type schedulerLoop interface {
	Scheduler
	Run() error
	Stop()
	onTaskStarted()
}

// Engine owns exactly one event loop (epoll or io_uring, chosen at
// construction) and the goroutine pool backing every Task spawned
// through it. Grounded on the teacher's rio.go/vortex.go backend
// selection, simplified from a reference-counted global registry to a
// single owned instance.
type Engine struct {
	loop    schedulerLoop
	exec    async.Executors
	backend Backend
	rootCtx context.Context
}

// NewEngine constructs an Engine. It does not start running until Run
// is called.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := engineConfig{backend: BackendEpoll}
	for _, opt := range opts {
		opt(&cfg)
	}

	var loop schedulerLoop
	switch cfg.backend {
	case BackendIoUring:
		l, err := NewUringLoop(cfg.uringQueueDepth)
		if err != nil {
			return nil, err
		}
		loop = l
	default:
		l, err := NewEpollLoop()
		if err != nil {
			return nil, err
		}
		loop = l
	}

	exec := async.New()
	ctx := async.With(context.Background(), exec)
	ctx = withScheduler(ctx, loop)

	return &Engine{loop: loop, exec: exec, backend: cfg.backend, rootCtx: ctx}, nil
}

// Valid reports whether this Engine wraps a live loop (the zero value
// does not).
func (e *Engine) Valid() bool { return e != nil && e.loop != nil }

// SelectedBackend reports which reactor backend this Engine was built
// with.
func (e *Engine) SelectedBackend() Backend { return e.backend }

// Spawn starts fn as a root Task on its own goroutine, tracked by the
// loop for deadlock detection and run-to-completion before Run exits.
// A method cannot carry its own type parameter in Go, so this is a
// free function taking the Engine rather than Engine.Spawn.
func Spawn[T any](e *Engine, fn func(ctx context.Context) (T, error)) Task[T] {
	e.loop.onTaskStarted()
	return spawnTask[T](e.rootCtx, e.loop, fn)
}

// Run drives the event loop on the calling goroutine until Stop is
// called and every spawned root task has completed, or an
// irrecoverable reactor error occurs.
func (e *Engine) Run() error {
	return e.loop.Run()
}

// Stop requests the loop to exit once outstanding root tasks drain.
// Safe to call from any goroutine, any number of times.
func (e *Engine) Stop() {
	e.loop.Stop()
}

// Close releases the goroutine pool backing Task continuations. Call
// after Run returns.
func (e *Engine) Close() {
	e.exec.CloseGracefully()
}
