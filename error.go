package fluxio

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Sentinel errors surfaced by async operations. They sit alongside raw
// unix.Errno values rather than replacing them: a caller that only
// cares about "did this fail" matches these with errors.Is, while a
// caller that needs the underlying errno unwraps *OpError.
var (
	ErrInvalid        = errors.New("fluxio: invalid argument")
	ErrBusy           = errors.New("fluxio: waiter already armed")
	ErrCanceled       = errors.New("fluxio: canceled")
	ErrTimedOut       = errors.New("fluxio: timed out")
	ErrConnReset      = errors.New("fluxio: connection reset by peer")
	ErrBrokenPipe     = errors.New("fluxio: broken pipe")
	ErrDeadlock       = errors.New("fluxio: event loop has no path to progress")
	ErrClosed         = errors.New("fluxio: use of closed descriptor")
	ErrNotFound       = errors.New("fluxio: not found")
	ErrHostUnreachable = errors.New("fluxio: host unreachable")
)

// OpError wraps a failed operation with the context net.OpError would
// carry: which operation, over which network, against which addresses,
// and the underlying cause (usually a unix.Errno).
type OpError struct {
	Op     string
	Net    string
	Source Endpoint
	Addr   Endpoint
	Err    error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := e.Op
	if e.Net != "" {
		s += " " + e.Net
	}
	if e.Source.Port != 0 || !e.Source.IP.isZero() {
		s += " " + e.Source.String()
	}
	if e.Addr.Port != 0 || !e.Addr.IP.isZero() {
		if e.Source.Port != 0 || !e.Source.IP.isZero() {
			s += "->"
		} else {
			s += " "
		}
		s += e.Addr.String()
	}
	s += ": " + e.Err.Error()
	return s
}

func (e *OpError) Unwrap() error { return e.Err }

func (e *OpError) Timeout() bool {
	return errors.Is(e.Err, ErrTimedOut) || errors.Is(e.Err, unix.ETIMEDOUT)
}

func (e *OpError) Temporary() bool {
	return errors.Is(e.Err, unix.EAGAIN) || errors.Is(e.Err, unix.EINTR)
}

// wrapErrno annotates a raw syscall failure with operation context. nil
// passes through so call sites can write `return wrapErrno(...)`
// unconditionally.
func wrapErrno(op, network string, src, addr Endpoint, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Net: network, Source: src, Addr: addr, Err: err}
}

// isWouldBlock reports whether err is the nonblocking "try again"
// signal rather than a real failure.
func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// isInProgress reports whether err is the nonblocking connect()
// "still connecting" signal.
func isInProgress(err error) bool {
	return errors.Is(err, unix.EINPROGRESS) || errors.Is(err, unix.EALREADY)
}

func errnoString(errno unix.Errno) string {
	return fmt.Sprintf("errno %d (%s)", int(errno), errno.Error())
}
