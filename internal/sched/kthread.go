package sched

import "sync/atomic"

// KThread is a kernel-only task with no user address space: it can park
// (block on a condition), be unparked (woken), and be stopped (spec.md
// §4.4 "Kernel threads and work queues").
type KThread struct {
	name      string
	parkCh    chan struct{}
	shouldRun atomic.Bool
	done      chan struct{}
}

// NewKThread starts fn running in its own goroutine; fn should call Park
// whenever it has no work, and check ShouldStop to exit cleanly.
func NewKThread(name string, fn func(k *KThread)) *KThread {
	k := &KThread{name: name, parkCh: make(chan struct{}, 1), done: make(chan struct{})}
	k.shouldRun.Store(true)
	go func() {
		defer close(k.done)
		fn(k)
	}()
	return k
}

func (k *KThread) Name() string { return k.name }

// Park blocks until Unpark is called (or the thread is asked to stop).
func (k *KThread) Park() {
	<-k.parkCh
}

// Unpark wakes a parked kthread; it is safe to call when the thread is
// not parked (the wake is buffered, matching edge-triggered wake-ups).
func (k *KThread) Unpark() {
	select {
	case k.parkCh <- struct{}{}:
	default:
	}
}

// Stop sets the should-stop flag and unparks the thread so it observes it.
func (k *KThread) Stop() {
	k.shouldRun.Store(false)
	k.Unpark()
}

func (k *KThread) ShouldStop() bool { return !k.shouldRun.Load() }

// Join waits for the kthread's goroutine to return.
func (k *KThread) Join() { <-k.done }
