package fluxio

import (
	"context"
	"time"
)

// schedulerContextKey is how a Scheduler rides along in a
// context.Context, mirroring async.With/async.From's pattern of
// carrying a capability through context rather than a package global.
type schedulerContextKey struct{}

// withScheduler returns a context carrying sched, retrievable by every
// async I/O operation via schedulerFrom.
func withScheduler(ctx context.Context, sched Scheduler) context.Context {
	return context.WithValue(ctx, schedulerContextKey{}, sched)
}

func schedulerFrom(ctx context.Context) (Scheduler, bool) {
	sched, ok := ctx.Value(schedulerContextKey{}).(Scheduler)
	return sched, ok
}

// Scheduler is the capability every async I/O operation needs: enqueue
// a continuation, register interest in a descriptor's readiness, and
// consume the outcome of a previously registered wait. Every method is
// goroutine-safe; implementations fulfil that by funnelling mutation
// through a single command channel drained only by the loop goroutine,
// so there is no lock anywhere in either event loop implementation.
type Scheduler interface {
	// Schedule enqueues fn to run on the loop goroutine. Safe to call
	// from any goroutine.
	Schedule(fn func())
	// OnTaskCompleted tells the loop a root task finished, for its
	// deadlock/termination bookkeeping.
	OnTaskCompleted()
	// WaitForReadable/WaitForWritable arm a readiness wait for fd.
	// Exactly one of each direction may be outstanding per fd at a
	// time; a second call for the same direction on the same fd
	// before the first resolves fails the new wait with ErrBusy.
	// deadline is nil for "no timeout".
	WaitForReadable(fd int, w *waiter, deadline *time.Time, timeoutErr error)
	WaitForWritable(fd int, w *waiter, deadline *time.Time, timeoutErr error)
	// WaitDeadline arms a pure timer, unconnected to any fd: it fires
	// timeoutErr once deadline passes and nothing else. This is what
	// AsyncSleep builds on; it is kept separate from
	// WaitForReadable/WaitForWritable because a timer has no readiness
	// to watch for and so needs no reactor interest at all.
	WaitDeadline(w *waiter, deadline time.Time, timeoutErr error)
	// ConsumeWaitResult blocks the calling goroutine until w settles,
	// then returns its stored error (nil on success).
	ConsumeWaitResult(w *waiter) error
}

// waiter is a single outstanding readiness registration. It is created
// fresh by the caller for every await and handed to the scheduler; the
// scheduler alone writes to err/done, and only after arming completes.
type waiter struct {
	done chan struct{}
	err  error
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

// settle is called exactly once per waiter, always from the loop
// goroutine, to publish the outcome and wake the awaiting goroutine.
func (w *waiter) settle(err error) {
	w.err = err
	close(w.done)
}

// timerEntry is a pure-timeout wait with no associated fd, tracked
// separately from waiterSlot by both loop backends' WaitDeadline.
type timerEntry struct {
	deadline time.Time
	err      error
}

// waiterSlot tracks the readable/writable halves registered for one
// fd. A slot is removed from its owning table once both halves are
// empty.
type waiterSlot struct {
	fd       int
	readable *waiter
	writable *waiter
	// deadlines, nil when that half has no timeout.
	readableDeadline *time.Time
	writableDeadline *time.Time
	readableTimeout  error
	writableTimeout  error
	// backend-specific: epoll's currently-registered interest mask, or
	// io_uring's outstanding poll tokens. Declared here so both loop
	// implementations can reuse the slot type; each only touches its
	// own field.
	epollMask      uint32
	uringReadTok   uint64
	uringWriteTok  uint64
}

func (s *waiterSlot) empty() bool {
	return s.readable == nil && s.writable == nil
}
