package fluxio

import (
	"context"
	"fmt"

	"github.com/brickworks/fluxio/async"
)

// Task is a suspendable computation: a goroutine paired with an
// async.Future[T]. "Suspend" is the goroutine blocking inside an
// awaitReady call; "resume" is the loop goroutine settling the
// relevant waiter (closing its done channel), which wakes the blocked
// task goroutine; task code never runs on the loop's own stack.
type Task[T any] struct {
	future async.Future[T]
}

// Valid reports whether this Task wraps a real future (the zero value
// does not).
func (t Task[T]) Valid() bool { return t.future != nil }

// Await blocks the calling goroutine until the task's body returns,
// yielding its result or error. Calling Await on the zero Task returns
// ErrInvalid.
func (t Task[T]) Await() (T, error) {
	if t.future == nil {
		var zero T
		return zero, ErrInvalid
	}
	return async.Await[T](t.future)
}

// OnComplete registers a non-blocking continuation for the task's
// result, run off the awaiting call stack by the async executor pool.
func (t Task[T]) OnComplete(handler async.ResultHandler[T]) {
	if t.future == nil {
		return
	}
	t.future.OnComplete(handler)
}

// spawnTask starts fn on its own goroutine and wires its outcome to a
// freshly obtained async.Promise, recovering a panic in fn into the
// task's error the way a goroutine boundary must (Go has no "exception
// slot" for an escaped panic otherwise). The scheduler is told the root
// task has finished before the promise is settled.
func spawnTask[T any](ctx context.Context, sched Scheduler, fn func(ctx context.Context) (T, error)) Task[T] {
	promise, err := async.MustPromise[T](ctx)
	if err != nil {
		return Task[T]{future: async.FailedImmediately[T](ctx, err)}
	}
	go func() {
		var v T
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("fluxio: task panicked: %v", r)
				}
			}()
			v, err = fn(ctx)
		}()
		sched.OnTaskCompleted()
		promise.Complete(v, err)
	}()
	return Task[T]{future: promise.Future()}
}
