package fluxio

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrQueuedWriterClosed is returned by Write/Flush once
	// GracefulShutdown or Close has run.
	ErrQueuedWriterClosed = errors.New("fluxio: queued writer is closed")
)

// WatermarkState is the QueuedWriter's current backpressure state.
type WatermarkState int

const (
	WatermarkNormal WatermarkState = iota
	WatermarkHigh
)

const (
	defaultLowWatermark  = 32 * 1024
	defaultHighWatermark = 128 * 1024

	flushSliceMin = 1 * time.Millisecond
	flushSliceMax = 100 * time.Millisecond
)

// QueuedWriter is a backpressure-aware buffered writer layered on the
// async write primitives. It owns a Socket and drains a FIFO of
// pending buffers; Write rejects with EWOULDBLOCK once the queue has
// reached the high watermark and hasn't drained back to the low one,
// rather than buffering without bound. Grounded on the teacher's
// pkg/bytebuffers queue-of-buffers idiom; the low/high watermark state
// machine is this runtime's own addition (the teacher's Buffer type
// has no backpressure concept).
type QueuedWriter struct {
	sock *Socket

	mu      sync.Mutex
	pending [][]byte
	front   int // byte offset already written within pending[0]
	queued  int // total unwritten bytes across pending
	closed  bool

	low, high int
	state     WatermarkState
}

// NewQueuedWriter wraps sock with watermark thresholds. low/high <= 0
// select the defaults (32KiB/128KiB). high must exceed low; if it
// doesn't, high is raised to low+1.
func NewQueuedWriter(sock *Socket, low, high int) *QueuedWriter {
	if low <= 0 {
		low = defaultLowWatermark
	}
	if high <= 0 {
		high = defaultHighWatermark
	}
	if high <= low {
		high = low + 1
	}
	return &QueuedWriter{sock: sock, low: low, high: high}
}

// State reports the current backpressure state.
func (q *QueuedWriter) State() WatermarkState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// QueuedBytes reports how many bytes are buffered and not yet written.
func (q *QueuedWriter) QueuedBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}

// Write enqueues p, copying it (the caller may reuse its backing array
// immediately). On an empty buffer it is a no-op that returns the
// current state without touching the queue. Once the high watermark
// has tripped, further writes are rejected with EWOULDBLOCK until the
// queue has drained back to at or below the low watermark (via Flush);
// callers are expected to stop producing and wait rather than pile up
// an unbounded backlog. Writing on a closed writer or one whose socket
// has already gone away fails with ErrQueuedWriterClosed or EBADF
// respectively.
func (q *QueuedWriter) Write(ctx context.Context, p []byte) (WatermarkState, error) {
	if len(p) == 0 {
		return q.State(), nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return WatermarkHigh, ErrQueuedWriterClosed
	}
	if !q.sock.fd.Valid() {
		return q.state, wrapErrno("write", "tcp", q.sock.local, q.sock.remote, unix.EBADF)
	}
	if q.state == WatermarkHigh && q.queued >= q.low {
		return q.state, wrapErrno("write", "tcp", q.sock.local, q.sock.remote, unix.EWOULDBLOCK)
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	q.pending = append(q.pending, buf)
	q.queued += len(buf)
	q.updateWatermark()
	return q.state, nil
}

// updateWatermark applies the hysteresis rule: cross into HIGH at or
// above high, drop back to NORMAL only at or below low. Must be called
// with q.mu held.
func (q *QueuedWriter) updateWatermark() {
	if q.state == WatermarkNormal && q.queued >= q.high {
		q.state = WatermarkHigh
	} else if q.state == WatermarkHigh && q.queued <= q.low {
		q.state = WatermarkNormal
	}
}

// Flush drains the queue synchronously, writing directly through
// AsyncWriteSomeTimeout rather than waiting on a background drain.
// timeout must be >= 0 (ErrInvalid otherwise); the overall deadline is
// now+timeout. Each write attempt is itself bounded by a short slice
// (clamped to [1ms, 100ms]) so tok and the overall deadline are
// rechecked regularly even while the peer is slow; a per-slice timeout
// is not itself an error, only the overall deadline elapsing is.
// Returns ErrCanceled if tok fires first, ErrTimedOut past the overall
// deadline, and wraps EPIPE on a zero-length write (the peer hung up).
func (q *QueuedWriter) Flush(ctx context.Context, timeout time.Duration, tok CancelToken) error {
	if timeout < 0 {
		return ErrInvalid
	}
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueuedWriterClosed
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		buf := q.pending[0]
		off := q.front
		q.mu.Unlock()

		if tok.StopRequested() {
			return ErrCanceled
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimedOut
		}
		slice := remaining
		if slice > flushSliceMax {
			slice = flushSliceMax
		} else if slice < flushSliceMin {
			slice = flushSliceMin
		}

		// AsyncWriteSomeTimeout already reports a zero-length write as
		// ErrBrokenPipe (see timedIO in io_ops.go), so a non-timeout
		// error here covers both a real failure and the peer hanging
		// up.
		n, err := AsyncWriteSomeTimeout(ctx, q.sock, buf[off:], slice, tok)
		if err != nil {
			if errors.Is(err, ErrTimedOut) {
				// Just a slice boundary; loop back and recheck tok and
				// the overall deadline.
				continue
			}
			if errors.Is(err, ErrCanceled) {
				// Transient: the queue is left intact for a later Flush.
				return err
			}
			q.abort()
			return err
		}

		q.mu.Lock()
		q.front += n
		q.queued -= n
		if q.front >= len(buf) {
			q.pending = q.pending[1:]
			q.front = 0
		}
		q.updateWatermark()
		q.mu.Unlock()
	}
}

// abort discards the queue and marks the writer closed after an
// unrecoverable write failure during Flush.
func (q *QueuedWriter) abort() {
	q.mu.Lock()
	q.closed = true
	q.pending = nil
	q.queued = 0
	q.state = WatermarkHigh
	q.mu.Unlock()
}

// GracefulShutdown flushes every queued byte within timeout, half-
// closes the send side, and marks the writer closed to further writes.
func (q *QueuedWriter) GracefulShutdown(ctx context.Context, timeout time.Duration, tok CancelToken) error {
	if err := q.Flush(ctx, timeout, tok); err != nil && !errors.Is(err, ErrQueuedWriterClosed) {
		return err
	}
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.sock.shutdownWrite()
}

// Close abandons any queued, unwritten data and closes the underlying
// socket immediately.
func (q *QueuedWriter) Close() error {
	q.mu.Lock()
	q.closed = true
	q.pending = nil
	q.queued = 0
	q.mu.Unlock()
	return q.sock.Close()
}
