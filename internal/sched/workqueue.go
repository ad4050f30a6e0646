package sched

import (
	"runtime"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"
)

// WorkState is a queued closure's lifecycle (spec.md §4.4: Idle → Pending
// → Running → Idle).
type WorkState int32

const (
	WorkIdle WorkState = iota
	WorkPending
	WorkRunning
)

// Work is one queued closure plus its lifecycle state and completion flag.
type Work struct {
	fn        func()
	state     atomic.Int32
	completed atomic.Bool
	sentinel  bool
}

func NewWork(fn func()) *Work { return &Work{fn: fn} }

func (w *Work) State() WorkState    { return WorkState(w.state.Load()) }
func (w *Work) Completed() bool     { return w.completed.Load() }

// WorkQueue is a FIFO of Work items plus a single worker kthread
// (spec.md §4.4). The item list has no fixed bound: Queue always appends,
// and NewWorkQueue's capacity only sizes the wake-up channel. queue() transitions Idle→Pending; the worker drains the
// queue Pending→Running→Idle, publishing "completed" with sequential
// consistency via atomic.Bool so a waiter that observes completed==true
// is guaranteed to also observe every side effect the work closure had —
// spec.md §5's ordering guarantee for work-queue completion.
type WorkQueue struct {
	mu      deadlock.Mutex
	items   []*Work
	notify  chan struct{}
	worker  *KThread
}

// NewWorkQueue starts the worker kthread draining items as they arrive.
func NewWorkQueue(capacity int) *WorkQueue {
	wq := &WorkQueue{notify: make(chan struct{}, capacity+1)}
	wq.worker = NewKThread("workqueue", wq.drain)
	return wq
}

func (wq *WorkQueue) drain(k *KThread) {
	for {
		select {
		case <-wq.notify:
		}
		for {
			w := wq.pop()
			if w == nil {
				break
			}
			w.state.Store(int32(WorkRunning))
			if w.fn != nil {
				w.fn()
			}
			w.state.Store(int32(WorkIdle))
			w.completed.Store(true)
		}
		if k.ShouldStop() {
			return
		}
	}
}

func (wq *WorkQueue) pop() *Work {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	if len(wq.items) == 0 {
		return nil
	}
	w := wq.items[0]
	wq.items = wq.items[1:]
	return w
}

// Queue enqueues work, transitioning it Idle→Pending.
func (wq *WorkQueue) Queue(w *Work) {
	w.state.Store(int32(WorkPending))
	wq.mu.Lock()
	wq.items = append(wq.items, w)
	wq.mu.Unlock()
	select {
	case wq.notify <- struct{}{}:
	default:
	}
}

// Flush queues a sentinel and waits for it to complete — spec.md §4.4:
// "it must work correctly in the cooperative-scheduling case where the
// waiter and worker are on the same CPU; the waiter therefore issues a
// halt/WFI-with-interrupts-enabled loop that lets the timer hand control
// to the worker." Hosted on real goroutines, the Go scheduler already
// preempts between the waiter and the worker, so the busy-poll loop below
// is the hosted equivalent of that halt/WFI wait, not a literal spin.
func (wq *WorkQueue) Flush() {
	sentinel := &Work{sentinel: true}
	wq.Queue(sentinel)
	for !sentinel.Completed() {
		Yield()
	}
}

// Stop asks the worker to finish draining and exit, then waits for it.
func (wq *WorkQueue) Stop() {
	wq.worker.Stop()
	select {
	case wq.notify <- struct{}{}:
	default:
	}
	wq.worker.Join()
}

// Yield hands the OS thread back to the Go scheduler — the hosted
// equivalent of a WFI-with-interrupts-enabled spin.
func Yield() { runtime.Gosched() }
