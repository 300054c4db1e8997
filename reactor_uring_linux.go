package fluxio

import (
	"errors"
	"syscall"
	"time"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// uringCompletion is one reaped CQE, reduced to what loop_uring_linux.go
// needs: which token it answers and whether it succeeded.
type uringCompletion struct {
	token uint64
	res   int32
}

// reactorUring wraps github.com/pawelgaczynski/giouring's one-shot poll
// SQE/CQE cycle. Grounded on the teacher's vortex_linux.go submit/wait/
// reap shape, but targets giouring directly instead of the teacher's
// own pkg/liburing ring port (see DESIGN.md).
type reactorUring struct {
	ring         *giouring.Ring
	wakeFD       int
	wakeToken    uint64
	pendingSubs  bool
	cq           []*giouring.CompletionQueueEvent
}

const wakeTokenValue = ^uint64(0) // reserved, never handed out by allocateToken

func newReactorUring(queueDepth uint32) (*reactorUring, error) {
	if queueDepth == 0 {
		queueDepth = 256
	}
	ring, err := giouring.CreateRing(queueDepth)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		ring.QueueExit()
		return nil, err
	}
	r := &reactorUring{
		ring:      ring,
		wakeFD:    wfd,
		wakeToken: wakeTokenValue,
		cq:        make([]*giouring.CompletionQueueEvent, queueDepth),
	}
	if err := r.armWake(); err != nil {
		closeFD(wfd)
		ring.QueueExit()
		return nil, err
	}
	return r, nil
}

// armWake (re-)submits the one-shot poll on the wake eventfd. io_uring
// poll is one-shot, so this must run again after every wake delivery.
func (r *reactorUring) armWake() error {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		if _, err := r.ring.Submit(); err != nil {
			return err
		}
		sqe = r.ring.GetSQE()
		if sqe == nil {
			return errors.New("fluxio: io_uring submission queue has no room for the wake poll")
		}
	}
	sqe.PreparePollAdd(r.wakeFD, unix.POLLIN)
	sqe.SetData64(r.wakeToken)
	r.pendingSubs = true
	return nil
}

// wake interrupts a blocked wait from another goroutine by writing the
// wake eventfd. Best-effort, mirroring reactorEpoll.wake: EAGAIN (the
// eventfd counter already saturated) is not an error worth surfacing.
func (r *reactorUring) wake() error {
	var v uint64 = 1
	_, err := unix.Write(r.wakeFD, (*(*[8]byte)(unsafe.Pointer(&v)))[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// drainWake resets the wake eventfd's counter after its poll fires.
// io_uring's poll reports readiness: without draining, the eventfd
// stays readable and armWake's re-submit would complete again
// immediately, spinning instead of blocking.
func (r *reactorUring) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(r.wakeFD, buf[:])
		if err != nil {
			return
		}
	}
}

// submitPollAdd queues a one-shot poll for fd under token, selecting
// the wait direction via mask (unix.POLLIN or unix.POLLOUT).
func (r *reactorUring) submitPollAdd(token uint64, fd int, mask uint32) error {
	if token == 0 {
		return ErrInvalid
	}
	sqe := r.ring.GetSQE()
	if sqe == nil {
		if _, err := r.flush(); err != nil {
			return err
		}
		sqe = r.ring.GetSQE()
		if sqe == nil {
			return errors.New("fluxio: io_uring submission queue is full")
		}
	}
	sqe.PreparePollAdd(fd, mask)
	sqe.SetData64(token)
	r.pendingSubs = true
	return nil
}

func (r *reactorUring) submitPollRemove(token uint64) error {
	if token == 0 {
		return ErrInvalid
	}
	sqe := r.ring.GetSQE()
	if sqe == nil {
		if _, err := r.flush(); err != nil {
			return err
		}
		sqe = r.ring.GetSQE()
		if sqe == nil {
			return errors.New("fluxio: io_uring submission queue is full")
		}
	}
	sqe.PreparePollRemove(token)
	r.pendingSubs = true
	return nil
}

func (r *reactorUring) flush() (uint32, error) {
	if !r.pendingSubs {
		return 0, nil
	}
	n, err := r.ring.Submit()
	if err != nil {
		return uint32(n), err
	}
	r.pendingSubs = false
	return uint32(n), nil
}

// wait blocks for at least one CQE (respecting timeout, nil meaning
// forever), then drains whatever else is immediately available.
// ETIME/EINTR report as zero completions, not errors.
func (r *reactorUring) wait(dst []uringCompletion, timeout *time.Duration) ([]uringCompletion, error) {
	if _, err := r.flush(); err != nil {
		return dst[:0], err
	}
	dst = dst[:0]
	var ts *syscall.Timespec
	if timeout != nil {
		spec := syscall.NsecToTimespec(timeout.Nanoseconds())
		ts = &spec
	}
	_, err := r.ring.WaitCQEs(1, ts, nil)
	if err != nil {
		if errors.Is(err, unix.ETIME) || errors.Is(err, unix.EINTR) {
			return dst, nil
		}
		return dst, err
	}
	n := r.ring.PeekBatchCQE(r.cq)
	for i := uint32(0); i < n; i++ {
		cqe := r.cq[i]
		r.cq[i] = nil
		dst = append(dst, uringCompletion{token: cqe.UserData, res: cqe.Res})
	}
	if n > 0 {
		r.ring.CQAdvance(n)
	}
	return dst, nil
}

func (r *reactorUring) close() error {
	r.ring.QueueExit()
	return unix.Close(r.wakeFD)
}
