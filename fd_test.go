package fluxio

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestFDCloseIsIdempotent(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	f := newFD(fds[0])
	if !f.Valid() {
		t.Fatal("expected a fresh FD to be valid")
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if f.Valid() {
		t.Error("FD should be invalid after Close")
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	closeFD(fds[1])
}

func TestFDRelease(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	f := newFD(fds[0])
	released := f.Release()
	if released != fds[0] {
		t.Errorf("Release returned %d, want %d", released, fds[0])
	}
	if f.Valid() {
		t.Error("FD should be empty after Release")
	}
	closeFD(released)
	closeFD(fds[1])
}
