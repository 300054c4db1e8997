package fluxio

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FD is a move-only owner of a kernel file descriptor. The zero value
// is not valid; use newFD. Close is safe to call more than once and
// from more than one goroutine, only the first call does anything.
type FD struct {
	v atomic.Int64 // holds fd+1 so the zero value means "empty"
}

func newFD(fd int) *FD {
	f := &FD{}
	f.v.Store(int64(fd) + 1)
	return f
}

// Int returns the raw descriptor, or -1 if this FD is empty.
func (f *FD) Int() int {
	v := f.v.Load()
	if v == 0 {
		return -1
	}
	return int(v - 1)
}

// Valid reports whether this FD currently owns an open descriptor.
func (f *FD) Valid() bool {
	return f.v.Load() != 0
}

// Close closes the owned descriptor exactly once. Calling Close on an
// already-empty FD is a no-op that returns nil.
func (f *FD) Close() error {
	v := f.v.Swap(0)
	if v == 0 {
		return nil
	}
	return unix.Close(int(v - 1))
}

// Release hands the descriptor to the caller without closing it; the
// FD becomes empty. The caller takes over ownership.
func (f *FD) Release() int {
	v := f.v.Swap(0)
	if v == 0 {
		return -1
	}
	return int(v - 1)
}

func closeFD(fd int) {
	if fd >= 0 {
		_ = unix.Close(fd)
	}
}
