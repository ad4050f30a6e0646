package procmgr

import (
	"nucleus/internal/errno"
	"nucleus/internal/sched"
	"nucleus/internal/signal"
)

// WaitOptions mirrors the waitpid() flags this module supports.
type WaitOptions uint32

const WNOHANG WaitOptions = 1

// WaitResult is what waitpid hands back on success.
type WaitResult struct {
	PID      int64
	ExitCode int
	Signaled bool
	Sig      signal.Sig
}

// EncodeStatus packs (exitCode, signaled, sig) into the POSIX wait-status
// word: low byte holds the terminating signal (0 if exited normally) and
// the next byte the exit code, matching the encoding userspace's
// WIFEXITED/WEXITSTATUS/WIFSIGNALED/WTERMSIG macros expect.
func EncodeStatus(r WaitResult) uint32 {
	if r.Signaled {
		return uint32(r.Sig) & 0x7f
	}
	return (uint32(r.ExitCode) & 0xff) << 8
}

// Wait implements waitpid(pid, options): pid > 0 waits for that specific
// child; pid == -1 waits for any child. pid == 0 and pid < -1 select by
// process group, which this core does not implement (spec.md §4.11's pid
// semantics table: "Process groups — returns ENOSYS"). It blocks the
// calling thread via sched.BlockCurrentFor unless WNOHANG is set or a
// child is already a zombie, and returns ECHILD if the caller has no
// matching children at all.
func Wait(t *Table, q *sched.RunQueue, caller *Process, callerThread *sched.Thread, pid int64, opts WaitOptions) (WaitResult, errno.Errno) {
	if pid <= 0 && pid != -1 {
		return WaitResult{}, errno.ENOSYS
	}
	for {
		zombie, matchedAny := findZombie(t, caller, pid)
		if zombie != nil {
			t.Reap(zombie.PID)
			removeChild(caller, zombie.PID)
			return WaitResult{PID: zombie.PID, ExitCode: zombie.ExitCode, Signaled: zombie.ExitedBy != 0, Sig: zombie.ExitedBy}, 0
		}
		if !matchedAny {
			return WaitResult{}, errno.ECHILD
		}
		if opts&WNOHANG != 0 {
			return WaitResult{PID: 0}, 0
		}

		caller.registerWaiter(q, callerThread)
		caller.SetBlocked(q, callerThread)
		sched.BlockCurrentFor(callerThread, true)
		caller.ClearBlocked()
		if pendingSignalAborts(caller) {
			return WaitResult{}, errno.EINTR
		}
	}
}

func findZombie(t *Table, caller *Process, pid int64) (zombie *Process, matchedAny bool) {
	for _, childPID := range childrenSnapshot(caller) {
		child, ok := t.Get(childPID)
		if !ok {
			continue
		}
		if pid > 0 && child.PID != pid {
			continue
		}
		matchedAny = true
		if child.State == ProcZombie {
			return child, true
		}
	}
	return nil, matchedAny
}

func childrenSnapshot(caller *Process) []int64 {
	return append([]int64(nil), caller.Children...)
}

func removeChild(caller *Process, pid int64) {
	for i, c := range caller.Children {
		if c == pid {
			caller.Children = append(caller.Children[:i], caller.Children[i+1:]...)
			return
		}
	}
}

// pendingSignalAborts reports whether a deliverable, unblocked signal is
// now pending — waitpid must return EINTR rather than keep blocking when
// one arrives (spec.md §4.11, consistent with §4.4's "the syscall's wait
// loop observes the pending signal on re-entry").
func pendingSignalAborts(caller *Process) bool {
	return caller.Signals.Deliverable()
}
