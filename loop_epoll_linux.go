package fluxio

import (
	"time"

	"golang.org/x/sys/unix"
)

const (
	epollInterestBase = unix.EPOLLET | unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
	epollReadyReadMask  = unix.EPOLLIN | unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
	epollReadyWriteMask = unix.EPOLLOUT | unix.EPOLLERR | unix.EPOLLHUP
)

// EpollLoop is the epoll-backed Scheduler. One loop goroutine (the one
// that calls Run) owns every field below except cmd, stopCh, and
// stopped, which are safe for concurrent use by construction: cmd is
// an actor mailbox, stopCh is closed once by Stop, and stopped is
// atomic. rootTasks is a plain counter changed only by commands run on
// the loop goroutine.
type EpollLoop struct {
	reactor *reactorEpoll
	cmd     chan func()
	stopCh  chan struct{}
	stopped boolFlag

	jobs []func()

	waiters      map[int]*waiterSlot
	timers       map[*waiter]*timerEntry
	timedCount   int
	pendingCount int
	rootTasks    int64
	// resumingCount counts waiters settled this pass whose task hasn't
	// re-armed or completed yet. A task goroutine is a real goroutine,
	// not a coroutine resumed inline, so pendingCount can legitimately
	// hit zero while a just-woken task is still between ConsumeWaitResult
	// and its next arm/OnTaskCompleted call; resumingCount keeps Run
	// from mistaking that gap for deadlock.
	resumingCount int

	deadlineDirty bool
	nextDeadline  time.Time
	hasDeadline   bool

	fatalErr error
}

// NewEpollLoop constructs an epoll-backed scheduler. It does not start
// running until Run is called.
func NewEpollLoop() (*EpollLoop, error) {
	reactor, err := newReactorEpoll()
	if err != nil {
		return nil, err
	}
	return &EpollLoop{
		reactor: reactor,
		cmd:     make(chan func()),
		stopCh:  make(chan struct{}),
		waiters: make(map[int]*waiterSlot),
		timers:  make(map[*waiter]*timerEntry),
	}, nil
}

// Schedule enqueues fn and wakes the reactor so a Run goroutine
// parked in an indefinite reactor.wait notices it. Must wake
// unconditionally before attempting the send: if Run is blocked in
// the reactor rather than polling cmd, the send itself won't be
// received until that wait returns.
func (l *EpollLoop) Schedule(fn func()) {
	_ = l.reactor.wake()
	select {
	case l.cmd <- fn:
	case <-l.stopCh:
	}
}

func (l *EpollLoop) OnTaskCompleted() {
	l.Schedule(func() {
		l.rootTasks--
		l.markResumed()
	})
}

// markResumed records that a previously-settled waiter's task has made
// its next move (re-armed or finished). Saturating: arm/armTimer also
// run for a task's very first wait, which has no prior settle to
// account for.
func (l *EpollLoop) markResumed() {
	if l.resumingCount > 0 {
		l.resumingCount--
	}
}

// onTaskStarted is called by Engine.Spawn before the task goroutine
// runs, so the deadlock check never fires against a task that hasn't
// registered yet.
func (l *EpollLoop) onTaskStarted() {
	l.Schedule(func() { l.rootTasks++ })
}

func (l *EpollLoop) WaitForReadable(fd int, w *waiter, deadline *time.Time, timeoutErr error) {
	l.Schedule(func() { l.arm(fd, w, true, deadline, timeoutErr) })
}

func (l *EpollLoop) WaitForWritable(fd int, w *waiter, deadline *time.Time, timeoutErr error) {
	l.Schedule(func() { l.arm(fd, w, false, deadline, timeoutErr) })
}

func (l *EpollLoop) WaitDeadline(w *waiter, deadline time.Time, timeoutErr error) {
	l.Schedule(func() { l.armTimer(w, deadline, timeoutErr) })
}

func (l *EpollLoop) armTimer(w *waiter, deadline time.Time, timeoutErr error) {
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

func (l *EpollLoop) ConsumeWaitResult(w *waiter) error {
	<-w.done
	return w.err
}

func (l *EpollLoop) arm(fd int, w *waiter, readable bool, deadline *time.Time, timeoutErr error) {
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

	before := slot.epollMask
	if readable {
		slot.readable = w
		slot.readableDeadline = deadline
		slot.readableTimeout = timeoutErr
	} else {
		slot.writable = w
		slot.writableDeadline = deadline
		slot.writableTimeout = timeoutErr
	}
	if deadline != nil {
		l.timedCount++
		l.deadlineDirty = true
	}
	l.pendingCount++

	after := l.desiredMask(slot)
	if err := l.reactor.setInterest(fd, before, after); err != nil {
		l.rollbackArm(slot, readable, deadline)
		w.settle(err)
		return
	}
	slot.epollMask = after
}

func (l *EpollLoop) rollbackArm(slot *waiterSlot, readable bool, deadline *time.Time) {
	if readable {
		slot.readable = nil
		slot.readableDeadline = nil
	} else {
		slot.writable = nil
		slot.writableDeadline = nil
	}
	if deadline != nil {
		l.timedCount--
	}
	l.pendingCount--
	if slot.empty() {
		delete(l.waiters, slot.fd)
	}
}

func (l *EpollLoop) desiredMask(slot *waiterSlot) uint32 {
	mask := uint32(epollInterestBase)
	if slot.readable != nil {
		mask |= unix.EPOLLIN
	}
	if slot.writable != nil {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (l *EpollLoop) completeHalf(slot *waiterSlot, readable bool, err error) {
	var w *waiter
	if readable {
		w = slot.readable
		slot.readable = nil
		if slot.readableDeadline != nil {
			l.timedCount--
			slot.readableDeadline = nil
		}
	} else {
		w = slot.writable
		slot.writable = nil
		if slot.writableDeadline != nil {
			l.timedCount--
			slot.writableDeadline = nil
		}
	}
	if w == nil {
		return
	}
	l.pendingCount--
	l.resumingCount++
	l.jobs = append(l.jobs, func() { w.settle(err) })
}

// refreshInterest recomputes epoll's interest mask for slot after
// completions, erasing the slot once both halves are empty.
func (l *EpollLoop) refreshInterest(slot *waiterSlot) {
	if slot.empty() {
		_ = l.reactor.setInterest(slot.fd, slot.epollMask, 0)
		delete(l.waiters, slot.fd)
		return
	}
	after := l.desiredMask(slot)
	if after != slot.epollMask {
		_ = l.reactor.setInterest(slot.fd, slot.epollMask, after)
		slot.epollMask = after
	}
}

// Stop requests the loop to exit at its next opportunity. Safe to call
// from any goroutine, any number of times.
func (l *EpollLoop) Stop() {
	if l.stopped.setTrue() {
		close(l.stopCh)
		_ = l.reactor.wake()
	}
}

// Run drives the loop on the calling goroutine. It returns nil once
// Stop has been called and every root task has completed (waiters
// still armed at that point are not waited for), ErrDeadlock when root
// tasks remain but nothing is armed or about to re-arm, or the first
// irrecoverable error. An idle loop with no root tasks keeps waiting
// until Stop is called.
func (l *EpollLoop) Run() error {
	defer l.reactor.close()
	var events []epollEvent
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
		// pendingCount==0 with no task ever spawned (rootTasks==0) is
		// not itself proof of completion: Spawn's onTaskStarted command
		// may simply not have landed yet, and nothing but Stop or a
		// future arm will ever wake this loop again if it guesses wrong
		// and returns here. Only stopped (handled above) legitimately
		// ends a task-free loop; otherwise fall through and wait.
		// resumingCount>0 means a just-woken task hasn't re-armed or
		// completed yet, so pendingCount==0 is not proof of deadlock
		// either — it can only be trusted once every resumption has had
		// its next command land.
		if l.pendingCount == 0 && l.resumingCount == 0 && l.rootTasks > 0 {
			return ErrDeadlock
		}

		timeoutMs := deadlineToTimeoutMs(l.nextDeadline, l.hasDeadline)
		var err error
		events, err = l.reactor.wait(events, timeoutMs)
		if err != nil {
			l.fatalErr = err
			continue
		}
		for _, ev := range events {
			fd := int(ev.fd)
			if fd == l.reactor.wakeFD {
				l.reactor.drainWake()
				continue
			}
			slot, ok := l.waiters[fd]
			if !ok {
				continue
			}
			if slot.readable != nil && ev.events&epollReadyReadMask != 0 {
				l.completeHalf(slot, true, nil)
			}
			if slot.writable != nil && ev.events&epollReadyWriteMask != 0 {
				l.completeHalf(slot, false, nil)
			}
			l.refreshInterest(slot)
		}
	}
}

// drainCommands empties the command mailbox without blocking, running
// each enqueued function immediately (commands are themselves jobs:
// arm requests, Schedule callbacks, task-completion notifications).
func (l *EpollLoop) drainCommands() {
	for {
		select {
		case cmd := <-l.cmd:
			cmd()
		default:
			return
		}
	}
}

// expireDeadlines fires a timeout for every half-waiter whose deadline
// has passed, and recomputes the next deadline to wait for.
func (l *EpollLoop) expireDeadlines() {
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
				l.completeHalf(slot, true, slot.readableTimeout)
			} else if !hasNext || slot.readableDeadline.Before(next) {
				next, hasNext = *slot.readableDeadline, true
			}
		}
		if slot.writableDeadline != nil {
			if !now.Before(*slot.writableDeadline) {
				l.completeHalf(slot, false, slot.writableTimeout)
			} else if !hasNext || slot.writableDeadline.Before(next) {
				next, hasNext = *slot.writableDeadline, true
			}
		}
	}
	for fd, slot := range l.waiters {
		if slot.empty() {
			_ = l.reactor.setInterest(fd, slot.epollMask, 0)
			delete(l.waiters, fd)
		} else {
			l.refreshInterest(slot)
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
