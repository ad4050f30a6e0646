// Package sched implements the per-CPU ready queue, thread state machine,
// blocking/wakeup, kernel threads, and work queues of spec.md §4.4. Real
// hardware threads become goroutines with explicit, cooperative yield
// points — spec.md §9 is explicit that there is no coroutine/async
// machinery in the core; "all blocking is implemented with
// block_current_for, a wait-list per object, and wake on state change",
// which is exactly what BlockCurrentFor below does.
package sched

import (
	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/klog"
)

// State is a thread's scheduling state (spec.md §3/§4.4).
type State int

const (
	Ready State = iota
	Running
	Blocked
	Terminated
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	default:
		return "invalid"
	}
}

// Thread owns a kernel stack (modeled only as a goroutine, there is no
// byte buffer for it here), saved register file is not simulated at
// instruction granularity — this module only needs the state machine and
// wait/wake edges it gates — current state, blocked_in_syscall bit,
// preempt count is owned by percpu.Data, and a back-pointer to owning
// process id.
type Thread struct {
	ID                int64
	ProcessID         int64
	mu                deadlock.Mutex
	state             State
	blockedInSyscall  bool
	wakeCh            chan struct{}
	pendingSignalHook func() bool // returns true if a deliverable signal is now pending
}

// NewThread creates a Ready thread.
func NewThread(id, pid int64) *Thread {
	return &Thread{ID: id, ProcessID: pid, state: Ready, wakeCh: make(chan struct{}, 1)}
}

func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Thread) BlockedInSyscall() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blockedInSyscall
}

// SetPendingSignalHook stores a pending-signal check on t. Nothing in this
// package calls the stored hook; the syscall layer's wait loops check the
// process's signal state directly after each wake-up.
func (t *Thread) SetPendingSignalHook(hook func() bool) { t.pendingSignalHook = hook }

// RunQueue is a single CPU's FIFO ready queue (spec.md §4.4: "A single
// run-queue per CPU, FIFO within equal priority").
type RunQueue struct {
	mu    deadlock.Mutex
	ready []*Thread
}

func NewRunQueue() *RunQueue { return &RunQueue{} }

// Enqueue puts t on the back of the ready queue, clearing its blocked
// state and blocked_in_syscall bit — wake-ups are edge-triggered per
// spec.md §4.4.
func (q *RunQueue) Enqueue(t *Thread) {
	t.mu.Lock()
	t.state = Ready
	t.blockedInSyscall = false
	t.mu.Unlock()

	q.mu.Lock()
	q.ready = append(q.ready, t)
	q.mu.Unlock()

	select {
	case t.wakeCh <- struct{}{}:
	default:
	}
}

// Dequeue pops the next ready thread, or nil if the queue is empty (the
// caller should then run its idle thread).
func (q *RunQueue) Dequeue() *Thread {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil
	}
	t := q.ready[0]
	q.ready = q.ready[1:]
	t.setState(Running)
	return t
}

func (q *RunQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// YieldCurrent is the cooperative path: t re-enters Ready on its own
// run queue and the caller's goroutine blocks until scheduled again.
func YieldCurrent(q *RunQueue, t *Thread) {
	q.Enqueue(t)
	<-t.wakeCh
}

// BlockCurrentFor marks t Blocked and blocks the calling goroutine until a
// Wake call re-enqueues it. It does not register t on any wait list; the
// caller does that (procmgr's waitpid waiters, Process.SetBlocked).
// markSyscall is true for blocking syscalls (spec.md §4.4: "When a thread
// blocks in a syscall, its blocked_in_syscall bit is set").
func BlockCurrentFor(t *Thread, markSyscall bool) {
	t.mu.Lock()
	t.state = Blocked
	t.blockedInSyscall = markSyscall
	t.mu.Unlock()
	klog.Log.WithField("thread", t.ID).Trace("blocking")
	<-t.wakeCh
}

// Wake transitions t from Blocked to Ready on q and clears its
// blocked_in_syscall bit. A woken syscall wait loop re-checks its
// condition and returns EINTR if a deliverable signal is pending.
func Wake(q *RunQueue, t *Thread) {
	q.Enqueue(t)
}

// Exit marks t Terminated; it is never re-enqueued.
func Exit(t *Thread) { t.setState(Terminated) }
