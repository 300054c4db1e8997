package fluxio

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// UringLoop is the io_uring-backed Scheduler. Registration is one-shot:
// every armed half-waiter gets a fresh poll-add SQE under a unique
// token; there is no persistent interest mask like epoll's.
type UringLoop struct {
	reactor *reactorUring
	cmd     chan func()
	stopCh  chan struct{}
	stopped boolFlag

	jobs []func()

	waiters  map[int]*waiterSlot
	inflight map[uint64]*inflightPoll
	timers   map[*waiter]*timerEntry

	nextToken    atomic.Uint64
	timedCount   int
	pendingCount int
	rootTasks    int64
	// resumingCount: see EpollLoop.resumingCount.
	resumingCount int

	deadlineDirty bool
	nextDeadline  time.Time
	hasDeadline   bool

	fatalErr error
}

type inflightPoll struct {
	fd       int
	readable bool
}

// NewUringLoop constructs an io_uring-backed scheduler with the given
// submission/completion queue depth (0 selects a sensible default).
func NewUringLoop(queueDepth uint32) (*UringLoop, error) {
	reactor, err := newReactorUring(queueDepth)
	if err != nil {
		return nil, err
	}
	l := &UringLoop{
		reactor:  reactor,
		cmd:      make(chan func()),
		stopCh:   make(chan struct{}),
		waiters:  make(map[int]*waiterSlot),
		inflight: make(map[uint64]*inflightPoll),
		timers:   make(map[*waiter]*timerEntry),
	}
	l.nextToken.Store(1) // 0 is reserved, and wakeTokenValue (^uint64(0)) is reserved
	return l, nil
}

func (l *UringLoop) allocateToken() uint64 {
	for {
		tok := l.nextToken.Add(1)
		if tok == 0 || tok == wakeTokenValue {
			continue
		}
		if _, taken := l.inflight[tok]; taken {
			continue
		}
		return tok
	}
}

// Schedule enqueues fn and wakes the ring so a Run goroutine blocked in
// WaitCQEs notices it; see EpollLoop.Schedule.
func (l *UringLoop) Schedule(fn func()) {
	_ = l.reactor.wake()
	select {
	case l.cmd <- fn:
	case <-l.stopCh:
	}
}

func (l *UringLoop) OnTaskCompleted() {
	l.Schedule(func() {
		l.rootTasks--
		l.markResumed()
	})
}

// markResumed: see EpollLoop.markResumed.
func (l *UringLoop) markResumed() {
	if l.resumingCount > 0 {
		l.resumingCount--
	}
}

func (l *UringLoop) onTaskStarted() {
	l.Schedule(func() { l.rootTasks++ })
}

func (l *UringLoop) WaitForReadable(fd int, w *waiter, deadline *time.Time, timeoutErr error) {
	l.Schedule(func() { l.arm(fd, w, true, deadline, timeoutErr) })
}

func (l *UringLoop) WaitForWritable(fd int, w *waiter, deadline *time.Time, timeoutErr error) {
	l.Schedule(func() { l.arm(fd, w, false, deadline, timeoutErr) })
}

func (l *UringLoop) WaitDeadline(w *waiter, deadline time.Time, timeoutErr error) {
	l.Schedule(func() { l.armTimer(w, deadline, timeoutErr) })
}

func (l *UringLoop) armTimer(w *waiter, deadline time.Time, timeoutErr error) {
	l.markResumed()
	if !deadline.After(time.Now()) {
		w.settle(timeoutErr)
		return
	}
	l.timers[w] = &timerEntry{deadline: deadline, err: timeoutErr}
	l.timedCount++
	l.pendingCount++
	l.deadlineDirty = true
}

func (l *UringLoop) ConsumeWaitResult(w *waiter) error {
	<-w.done
	return w.err
}

func (l *UringLoop) arm(fd int, w *waiter, readable bool, deadline *time.Time, timeoutErr error) {
	if w == nil {
		return
	}
	l.markResumed()
	if fd < 0 {
		w.settle(ErrInvalid)
		return
	}
	slot, ok := l.waiters[fd]
	if !ok {
		slot = &waiterSlot{fd: fd}
		l.waiters[fd] = slot
	}
	if readable && slot.readable != nil || !readable && slot.writable != nil {
		w.settle(ErrBusy)
		return
	}
	if deadline != nil && !deadline.After(time.Now()) {
		w.settle(timeoutErr)
		if slot.empty() {
			delete(l.waiters, fd)
		}
		return
	}

	mask := uint32(unix.POLLIN)
	if !readable {
		mask = unix.POLLOUT
	}
	token := l.allocateToken()
	if err := l.reactor.submitPollAdd(token, fd, mask); err != nil {
		w.settle(err)
		if slot.empty() {
			delete(l.waiters, fd)
		}
		return
	}

	l.inflight[token] = &inflightPoll{fd: fd, readable: readable}
	if readable {
		slot.readable = w
		slot.readableDeadline = deadline
		slot.readableTimeout = timeoutErr
		slot.uringReadTok = token
	} else {
		slot.writable = w
		slot.writableDeadline = deadline
		slot.writableTimeout = timeoutErr
		slot.uringWriteTok = token
	}
	if deadline != nil {
		l.timedCount++
		l.deadlineDirty = true
	}
	l.pendingCount++
}

func (l *UringLoop) completeHalf(slot *waiterSlot, readable bool, err error) {
	var w *waiter
	var token uint64
	if readable {
		w, token = slot.readable, slot.uringReadTok
		slot.readable, slot.uringReadTok = nil, 0
		if slot.readableDeadline != nil {
			l.timedCount--
			slot.readableDeadline = nil
		}
	} else {
		w, token = slot.writable, slot.uringWriteTok
		slot.writable, slot.uringWriteTok = nil, 0
		if slot.writableDeadline != nil {
			l.timedCount--
			slot.writableDeadline = nil
		}
	}
	if w == nil {
		return
	}
	delete(l.inflight, token)
	l.pendingCount--
	l.resumingCount++
	l.jobs = append(l.jobs, func() { w.settle(err) })
	if slot.empty() {
		delete(l.waiters, slot.fd)
	}
}

// cancelHalf issues a poll-remove for an outstanding token, used when a
// deadline fires before the kernel answers the poll-add. A poll-remove
// for a token that has already completed (ENOENT) is not an error.
func (l *UringLoop) cancelHalf(token uint64) {
	if token == 0 {
		return
	}
	_ = l.reactor.submitPollRemove(token)
}

func (l *UringLoop) Stop() {
	if l.stopped.setTrue() {
		close(l.stopCh)
		_ = l.reactor.wake()
	}
}

// Run drives the loop on the calling goroutine. See EpollLoop.Run for
// the shared termination/deadlock semantics; the wait/reap mechanics
// differ because io_uring registration is one-shot.
func (l *UringLoop) Run() error {
	defer l.reactor.close()
	var completions []uringCompletion
	for {
		l.expireDeadlines()
		if l.fatalErr != nil {
			return l.fatalErr
		}
		if l.stopped.get() && l.rootTasks == 0 {
			return nil
		}

		l.drainCommands()
		for len(l.jobs) > 0 {
			job := l.jobs[0]
			l.jobs = l.jobs[1:]
			job()
			l.expireDeadlines()
		}

		if l.stopped.get() && l.rootTasks == 0 {
			return nil
		}
		// See EpollLoop.Run for why pendingCount==0 alone proves
		// neither completion (a Spawn may not have landed yet) nor
		// deadlock (a just-woken task may not have re-armed yet).
		if l.pendingCount == 0 && l.resumingCount == 0 && l.rootTasks > 0 {
			return ErrDeadlock
		}

		var timeout *time.Duration
		if l.hasDeadline {
			d := time.Until(l.nextDeadline)
			if d < 0 {
				d = 0
			}
			timeout = &d
		}
		var err error
		completions, err = l.reactor.wait(completions, timeout)
		if err != nil {
			l.fatalErr = err
			continue
		}
		for _, c := range completions {
			if c.token == l.reactor.wakeToken {
				l.reactor.drainWake()
				if rearmErr := l.reactor.armWake(); rearmErr != nil {
					l.fatalErr = rearmErr
				}
				continue
			}
			pending, ok := l.inflight[c.token]
			if !ok {
				continue
			}
			slot, ok := l.waiters[pending.fd]
			if !ok {
				delete(l.inflight, c.token)
				continue
			}
			// Guard against a stale completion racing a cancel that
			// re-armed the same half under a different token.
			var current uint64
			if pending.readable {
				current = slot.uringReadTok
			} else {
				current = slot.uringWriteTok
			}
			if current != c.token {
				delete(l.inflight, c.token)
				continue
			}
			var resultErr error
			if c.res < 0 {
				resultErr = unix.Errno(-c.res)
			}
			l.completeHalf(slot, pending.readable, resultErr)
		}
	}
}

func (l *UringLoop) drainCommands() {
	for {
		select {
		case cmd := <-l.cmd:
			cmd()
		default:
			return
		}
	}
}

func (l *UringLoop) expireDeadlines() {
	if l.timedCount == 0 {
		l.hasDeadline = false
		return
	}
	now := time.Now()
	if !l.deadlineDirty && l.hasDeadline && now.Before(l.nextDeadline) {
		return
	}
	var next time.Time
	hasNext := false
	for _, slot := range l.waiters {
		if slot.readableDeadline != nil {
			if !now.Before(*slot.readableDeadline) {
				l.cancelHalf(slot.uringReadTok)
				l.completeHalf(slot, true, slot.readableTimeout)
			} else if !hasNext || slot.readableDeadline.Before(next) {
				next, hasNext = *slot.readableDeadline, true
			}
		}
		if slot.writableDeadline != nil {
			if !now.Before(*slot.writableDeadline) {
				l.cancelHalf(slot.uringWriteTok)
				l.completeHalf(slot, false, slot.writableTimeout)
			} else if !hasNext || slot.writableDeadline.Before(next) {
				next, hasNext = *slot.writableDeadline, true
			}
		}
	}
	for w, t := range l.timers {
		if !now.Before(t.deadline) {
			delete(l.timers, w)
			l.timedCount--
			l.pendingCount--
			l.resumingCount++
			err := t.err
			l.jobs = append(l.jobs, func() { w.settle(err) })
		} else if !hasNext || t.deadline.Before(next) {
			next, hasNext = t.deadline, true
		}
	}
	l.nextDeadline, l.hasDeadline = next, hasNext
	l.deadlineDirty = false
}
