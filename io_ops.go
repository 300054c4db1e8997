package fluxio

import (
	"context"
	"errors"
	"time"
)

const sleepSlice = 20 * time.Millisecond

// awaitReady is the single suspension primitive every async operation
// below is built on: register interest in fd's readability or
// writability, block the calling goroutine until it resolves, and
// return the outcome. Mirrors the teacher's conn_linux.go calling
// vortex.Receive/vortex.Send as one blocking-looking call backed by a
// future.
func awaitReady(ctx context.Context, fd int, readable bool, deadline *time.Time, timeoutErr error) error {
	sched, ok := schedulerFrom(ctx)
	if !ok {
		return ErrInvalid
	}
	w := newWaiter()
	if readable {
		sched.WaitForReadable(fd, w, deadline, timeoutErr)
	} else {
		sched.WaitForWritable(fd, w, deadline, timeoutErr)
	}
	return sched.ConsumeWaitResult(w)
}

// AsyncAccept accepts the next connection on ln, suspending the
// calling goroutine until one is ready.
func AsyncAccept(ctx context.Context, ln *Listener) (*Socket, error) {
	for {
		sock, err := ln.acceptSome()
		if err == nil {
			return sock, nil
		}
		if isWouldBlock(err) {
			if err := awaitReady(ctx, ln.Fd(), true, nil, nil); err != nil {
				return nil, wrapErrno("accept", "tcp", Endpoint{}, ln.local, err)
			}
			continue
		}
		return nil, wrapErrno("accept", "tcp", Endpoint{}, ln.local, err)
	}
}

// AsyncConnect establishes a TCP connection to ep, suspending the
// calling goroutine until the handshake completes or fails.
func AsyncConnect(ctx context.Context, ep Endpoint) (*Socket, error) {
	sock, err := startConnect(ep)
	if err != nil {
		return nil, wrapErrno("connect", "tcp", Endpoint{}, ep, err)
	}
	for {
		err = sock.finishConnect()
		if err == nil {
			return sock, nil
		}
		if isWouldBlock(err) || isInProgress(err) {
			if waitErr := awaitReady(ctx, sock.Fd(), false, nil, nil); waitErr != nil {
				_ = sock.Close()
				return nil, wrapErrno("connect", "tcp", Endpoint{}, ep, waitErr)
			}
			continue
		}
		_ = sock.Close()
		return nil, wrapErrno("connect", "tcp", Endpoint{}, ep, err)
	}
}

// AsyncReadSome reads whatever is available into buf, suspending the
// calling goroutine if nothing is available yet. A zero-length read
// (peer sent EOF via orderly close) yields ErrConnReset, matching the
// spec's "peer closure during read" convention.
func AsyncReadSome(ctx context.Context, s *Socket, buf []byte) (int, error) {
	for {
		n, err := s.readSome(buf)
		if err == nil {
			if n == 0 && len(buf) > 0 {
				return 0, wrapErrno("read", "tcp", s.local, s.remote, ErrConnReset)
			}
			return n, nil
		}
		if isWouldBlock(err) {
			if waitErr := awaitReady(ctx, s.Fd(), true, nil, nil); waitErr != nil {
				return 0, wrapErrno("read", "tcp", s.local, s.remote, waitErr)
			}
			continue
		}
		return 0, wrapErrno("read", "tcp", s.local, s.remote, err)
	}
}

// AsyncWriteSome writes as much of buf as the socket will currently
// accept, suspending the calling goroutine if the socket is full. A
// zero-length write on a nonempty buffer yields ErrBrokenPipe.
func AsyncWriteSome(ctx context.Context, s *Socket, buf []byte) (int, error) {
	for {
		n, err := s.writeSome(buf)
		if err == nil {
			if n == 0 && len(buf) > 0 {
				return 0, wrapErrno("write", "tcp", s.local, s.remote, ErrBrokenPipe)
			}
			return n, nil
		}
		if isWouldBlock(err) {
			if waitErr := awaitReady(ctx, s.Fd(), false, nil, nil); waitErr != nil {
				return 0, wrapErrno("write", "tcp", s.local, s.remote, waitErr)
			}
			continue
		}
		return 0, wrapErrno("write", "tcp", s.local, s.remote, err)
	}
}

// AsyncReadExact reads exactly len(buf) bytes, suspending as needed.
func AsyncReadExact(ctx context.Context, s *Socket, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := AsyncReadSome(ctx, s, buf[read:])
		if err != nil {
			return err
		}
		read += n
	}
	return nil
}

// AsyncWriteAll writes every byte of buf, suspending as needed.
func AsyncWriteAll(ctx context.Context, s *Socket, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := AsyncWriteSome(ctx, s, buf[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

// AsyncSleep suspends the calling goroutine for d, checking tok for a
// cancellation request at each slice boundary so long sleeps remain
// cooperatively cancellable. d <= 0 returns immediately.
func AsyncSleep(ctx context.Context, d time.Duration, tok CancelToken) error {
	if tok.StopRequested() {
		return ErrCanceled
	}
	if d <= 0 {
		return nil
	}
	sched, ok := schedulerFrom(ctx)
	if !ok {
		return ErrInvalid
	}
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if tok.StopRequested() {
			return ErrCanceled
		}
		slice := remaining
		if slice > sleepSlice {
			slice = sleepSlice
		}
		sliceDeadline := time.Now().Add(slice)
		w := newWaiter()
		sched.WaitDeadline(w, sliceDeadline, errSleepSliceElapsed)
		if err := sched.ConsumeWaitResult(w); err != nil && !errors.Is(err, errSleepSliceElapsed) {
			return err
		}
	}
}

var errSleepSliceElapsed = errors.New("fluxio: sleep slice elapsed")

// AsyncReadSomeTimeout is AsyncReadSome bounded by an overall timeout,
// checking tok for cancellation between retries.
func AsyncReadSomeTimeout(ctx context.Context, s *Socket, buf []byte, timeout time.Duration, tok CancelToken) (int, error) {
	return timedIO(ctx, s, buf, timeout, tok, true)
}

// AsyncWriteSomeTimeout is AsyncWriteSome bounded by an overall
// timeout, checking tok for cancellation between retries.
func AsyncWriteSomeTimeout(ctx context.Context, s *Socket, buf []byte, timeout time.Duration, tok CancelToken) (int, error) {
	return timedIO(ctx, s, buf, timeout, tok, false)
}

func timedIO(ctx context.Context, s *Socket, buf []byte, timeout time.Duration, tok CancelToken, readable bool) (int, error) {
	if timeout < 0 {
		return 0, ErrInvalid
	}
	deadline := time.Now().Add(timeout)
	for {
		if tok.StopRequested() {
			return 0, ErrCanceled
		}
		var n int
		var err error
		if readable {
			n, err = s.readSome(buf)
		} else {
			n, err = s.writeSome(buf)
		}
		if err == nil {
			if n == 0 && len(buf) > 0 {
				if readable {
					return 0, wrapErrno("read", "tcp", s.local, s.remote, ErrConnReset)
				}
				return 0, wrapErrno("write", "tcp", s.local, s.remote, ErrBrokenPipe)
			}
			return n, nil
		}
		if !isWouldBlock(err) {
			op := "write"
			if readable {
				op = "read"
			}
			return 0, wrapErrno(op, "tcp", s.local, s.remote, err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, ErrTimedOut
		}
		slice := remaining
		if slice > sleepSlice {
			slice = sleepSlice
		}
		sliceDeadline := time.Now().Add(slice)
		if waitErr := awaitReady(ctx, s.Fd(), readable, &sliceDeadline, errSleepSliceElapsed); waitErr != nil && !errors.Is(waitErr, errSleepSliceElapsed) {
			op := "write"
			if readable {
				op = "read"
			}
			return 0, wrapErrno(op, "tcp", s.local, s.remote, waitErr)
		}
	}
}
