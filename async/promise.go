package async

import (
	"context"
	"runtime"
	"time"
)

// Promise is the writable side of a Future: a task completes it exactly
// once (Succeed/Fail/Complete), or cancels it outright. Stream promises
// (see TryStreamPromise) may be completed any number of times until
// Cancel is called.
type Promise[R any] interface {
	// Succeed completes the promise with a value.
	Succeed(r R)
	// Fail completes the promise with an error.
	Fail(cause error)
	// Complete completes the promise with either a value or an error,
	// mirroring whichever one of r/cause is meaningful.
	Complete(r R, cause error)
	// Cancel closes the promise without producing a result; pending and
	// future OnComplete registrations of a non-stream promise observe
	// either context.Canceled or ErrFutureWasClosed, whichever their
	// runner sees first; stream registrations observe context.Canceled.
	Cancel()
	// SetDeadline bounds the promise by t: OnComplete registrations made
	// after this call observe context.DeadlineExceeded once t passes
	// without a result.
	SetDeadline(t time.Time)
	// Future returns the read-only side of this promise.
	Future() Future[R]
}

// TryPromise obtains a promise backed by a pooled goroutine from the
// Executors stored in ctx. It returns ok == false when the pool has no
// spare capacity and is at its configured ceiling.
func TryPromise[R any](ctx context.Context) (promise Promise[R], ok bool) {
	exec := From(ctx)
	submitter, has := exec.GetExecutorSubmitter()
	if has {
		promise = newFuture[R](ctx, submitter, 1, false)
		ok = true
	}
	return
}

// MustPromise obtains a promise, retrying with backoff until one becomes
// available or ctx is done.
func MustPromise[R any](ctx context.Context) (promise Promise[R], err error) {
	times := 10
	ok := false
	for {
		promise, ok = TryPromise[R](ctx)
		if ok {
			break
		}
		if err = ctx.Err(); err != nil {
			break
		}
		time.Sleep(ns500)
		times--
		if times < 0 {
			times = 10
			runtime.Gosched()
		}
	}
	return
}
