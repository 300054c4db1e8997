package async

import (
	"context"
	"runtime"
	"time"
)

// TryStreamPromise obtains a promise that may be completed repeatedly
// (a stream of results rather than one), backed by a pooled goroutine.
// ok is false when the pool has no spare capacity. The caller must call
// Promise.Cancel once the stream is no longer needed; any result handed
// to Complete/Succeed after Cancel that implements io.Closer is closed
// automatically instead of being delivered.
func TryStreamPromise[T any](ctx context.Context, buf int) (promise Promise[T], ok bool) {
	exec := From(ctx)
	submitter, has := exec.GetExecutorSubmitter()
	if has {
		promise = newStreamPromise[T](ctx, submitter, buf)
		ok = true
	}
	return
}

// MustStreamPromise retries TryStreamPromise with backoff until the
// pool has capacity or ctx is done.
func MustStreamPromise[T any](ctx context.Context, buf int) (promise Promise[T], err error) {
	times := 10
	ok := false
	for {
		promise, ok = TryStreamPromise[T](ctx, buf)
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

func newStreamPromise[R any](ctx context.Context, submitter ExecutorSubmitter, buf int) Promise[R] {
	return newFuture[R](ctx, submitter, buf, true)
}
