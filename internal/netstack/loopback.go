package netstack

import "nucleus/internal/sched"

// Loopback defers packet delivery onto a work queue instead of delivering
// inline from whatever syscall produced the packet — spec.md §5's
// deadlock policy requires this: "network delivery to a loopback peer
// must never happen while the caller holds the process-manager lock,
// since the peer's wakeup path may itself need that lock." Queueing onto
// a kthread-backed WorkQueue (internal/sched) guarantees delivery always
// happens on a context that never entered holding the caller's locks.
type Loopback struct {
	wq *sched.WorkQueue
}

func NewLoopback(wq *sched.WorkQueue) *Loopback {
	return &Loopback{wq: wq}
}

// Defer schedules deliver to run asynchronously on the loopback work
// queue, never synchronously inline with the caller.
func (l *Loopback) Defer(deliver func()) {
	l.wq.Queue(sched.NewWork(deliver))
}

// Flush waits for every deferred delivery queued so far to run — used by
// tests and by the btrt scenario runner to get a deterministic
// happens-before edge instead of sleeping.
func (l *Loopback) Flush() {
	l.wq.Flush()
}
