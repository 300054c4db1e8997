package fluxio

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestOpErrorUnwrap(t *testing.T) {
	op := &OpError{Op: "read", Net: "tcp", Err: unix.ECONNRESET}
	if !errors.Is(op, unix.ECONNRESET) {
		t.Error("OpError should unwrap to its underlying errno")
	}
}

func TestOpErrorTimeout(t *testing.T) {
	op := &OpError{Op: "read", Net: "tcp", Err: ErrTimedOut}
	if !op.Timeout() {
		t.Error("expected Timeout() to report true for ErrTimedOut")
	}
}

func TestWrapErrnoPassesNilThrough(t *testing.T) {
	if err := wrapErrno("read", "tcp", Endpoint{}, Endpoint{}, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestIsWouldBlock(t *testing.T) {
	if !isWouldBlock(unix.EAGAIN) {
		t.Error("EAGAIN should be would-block")
	}
	if isWouldBlock(unix.ECONNRESET) {
		t.Error("ECONNRESET should not be would-block")
	}
}
