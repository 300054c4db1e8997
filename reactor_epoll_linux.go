package fluxio

import (
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// epollEvent mirrors what reactorEpoll.wait hands back per ready
// descriptor; kept backend-agnostic-looking on purpose so loop_epoll_linux.go
// reads like it could be swapped for another edge/level reactor.
type epollEvent struct {
	fd     int32
	events uint32
}

// reactorEpoll is a thin wrapper over golang.org/x/sys/unix's epoll
// calls. Grounded on the teacher's pkg/sys/epoll.go, with two
// deliberate departures: interest-mutating calls return errors instead
// of panicking (the spec requires explicit propagation), and the wake
// eventfd is exposed rather than drained internally, since the loop
// needs to tell "this was the wake fd" apart from "this was a waited-on
// fd" itself.
type reactorEpoll struct {
	fd      int
	wakeFD  int
	scratch []unix.EpollEvent
}

func newReactorEpoll() (*reactorEpoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		closeFD(fd)
		return nil, err
	}
	r := &reactorEpoll{fd: fd, wakeFD: wfd, scratch: make([]unix.EpollEvent, 64)}
	if err := r.add(wfd, unix.EPOLLIN); err != nil {
		closeFD(wfd)
		closeFD(fd)
		return nil, err
	}
	return r, nil
}

func (r *reactorEpoll) add(fd int, events uint32) error {
	return unix.EpollCtl(r.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (r *reactorEpoll) modify(fd int, events uint32) error {
	return unix.EpollCtl(r.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (r *reactorEpoll) remove(fd int) error {
	err := unix.EpollCtl(r.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

// setInterest drives add/modify/remove from a before/after mask pair,
// the transition table loop_epoll_linux.go's refreshInterest relies on.
func (r *reactorEpoll) setInterest(fd int, before, after uint32) error {
	switch {
	case before == 0 && after != 0:
		return r.add(fd, after)
	case before != 0 && after == 0:
		return r.remove(fd)
	case before != after:
		return r.modify(fd, after)
	default:
		return nil
	}
}

// wake interrupts a blocked Wait from another goroutine. Best-effort:
// EAGAIN (the eventfd counter is already saturated) is not an error
// worth surfacing.
func (r *reactorEpoll) wake() error {
	var v uint64 = 1
	_, err := unix.Write(r.wakeFD, (*(*[8]byte)(unsafe.Pointer(&v)))[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (r *reactorEpoll) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(r.wakeFD, buf[:])
		if err != nil {
			return
		}
	}
}

// wait blocks for up to timeoutMs (negative means forever) and appends
// ready events to dst[:0], returning the filled slice. At most
// len(r.scratch) (64) events are reported per call. EINTR is swallowed
// and reported as zero events.
func (r *reactorEpoll) wait(dst []epollEvent, timeoutMs int) ([]epollEvent, error) {
	if timeoutMs > math.MaxInt32 {
		timeoutMs = math.MaxInt32
	}
	n, err := unix.EpollWait(r.fd, r.scratch, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst[:0], nil
		}
		return dst[:0], err
	}
	dst = dst[:0]
	for i := 0; i < n; i++ {
		dst = append(dst, epollEvent{fd: r.scratch[i].Fd, events: r.scratch[i].Events})
	}
	return dst, nil
}

func (r *reactorEpoll) close() error {
	err1 := unix.Close(r.wakeFD)
	err2 := unix.Close(r.fd)
	if err1 != nil {
		return err1
	}
	return err2
}

// deadlineToTimeoutMs converts a nearest-deadline time into the
// millisecond timeout EpollWait expects, -1 meaning "block forever".
func deadlineToTimeoutMs(deadline time.Time, hasDeadline bool) int {
	if !hasDeadline {
		return -1
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
