package sched_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nucleus/internal/sched"
)

func TestRunQueueFIFOAndDequeueMarksRunning(t *testing.T) {
	q := sched.NewRunQueue()
	a := sched.NewThread(1, 100)
	b := sched.NewThread(2, 100)

	q.Enqueue(a)
	q.Enqueue(b)

	require.Equal(t, a, q.Dequeue())
	require.Equal(t, sched.Running, a.State())
	require.Equal(t, b, q.Dequeue())
	require.Nil(t, q.Dequeue())
}

func TestBlockCurrentForAndWake(t *testing.T) {
	q := sched.NewRunQueue()
	th := sched.NewThread(1, 100)

	done := make(chan struct{})
	go func() {
		sched.BlockCurrentFor(th, true)
		close(done)
	}()

	// give the goroutine a moment to reach Blocked
	for th.State() != sched.Blocked {
		time.Sleep(time.Millisecond)
	}
	require.True(t, th.BlockedInSyscall())

	sched.Wake(q, th)
	<-done
	require.False(t, th.BlockedInSyscall())
}

func TestWorkQueueFlushOrdersAfterSideEffects(t *testing.T) {
	wq := sched.NewWorkQueue(8)
	defer wq.Stop()

	var counter atomic.Int64
	for i := 0; i < 5; i++ {
		wq.Queue(sched.NewWork(func() { counter.Add(1) }))
	}
	wq.Flush()
	require.EqualValues(t, 5, counter.Load())
}

func TestKThreadParkUnparkStop(t *testing.T) {
	ran := make(chan struct{}, 1)
	var k *sched.KThread
	k = sched.NewKThread("t", func(kt *sched.KThread) {
		for {
			kt.Park()
			if kt.ShouldStop() {
				return
			}
			ran <- struct{}{}
		}
	})
	k.Unpark()
	<-ran
	k.Stop()
	k.Join()
}
