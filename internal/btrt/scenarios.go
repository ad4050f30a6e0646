package btrt

import (
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"nucleus/internal/errno"
	"nucleus/internal/hal"
	"nucleus/internal/procmgr"
	"nucleus/internal/sched"
	"nucleus/internal/signal"
	"nucleus/internal/virtio"
	sc "nucleus/internal/syscall"
)

// Scenario is one of spec.md §8's end-to-end scenarios: a self-contained
// run against a fresh Kernel, reporting a human-readable detail string on
// both success and failure.
type Scenario struct {
	ID   uint32
	Name string
	Run  func(k *sc.Kernel) (detail string, e errno.Errno)
}

// Scenarios lists every end-to-end scenario spec.md §8 names, in the
// order cmd/kernelctl's "selftest" subcommand and btrt's own Run walk
// them.
var Scenarios = []Scenario{
	{1, "cow-stress", scenarioCoWStress},
	{2, "signal-register-preservation", scenarioSignalRegisterPreservation},
	{3, "interval-timer", scenarioIntervalTimer},
	{4, "pipe-concurrency", scenarioPipeConcurrency},
	{5, "poll-pipe-hup", scenarioPollPipeHup},
	{6, "virtio-block-probe", scenarioVirtioBlockProbe},
}

func newTask(k *sc.Kernel) *sc.Task {
	proc := k.Procs.Create(0)
	return &sc.Task{Proc: proc, Thread: sched.NewThread(proc.PID, proc.PID)}
}

// writeUserFaulting writes data at vaddr the way a real store instruction
// would: try the copy, and if it EFAULTs against a COW page, run the page-
// fault handler (procmgr.CopyOnWrite) and retry once — exactly the path a
// trap handler takes between the faulting store and its restart.
func writeUserFaulting(k *sc.Kernel, as *procmgr.AddressSpace, vaddr uintptr, data []byte) errno.Errno {
	if e := sc.CopyToUser(as, k.Arena, vaddr, data); e != errno.EFAULT {
		return e
	}
	page := vaddr &^ (hal.Page - 1)
	if e := procmgr.CopyOnWrite(as, k.Arena, k.Frames, page); e != 0 {
		return e
	}
	return sc.CopyToUser(as, k.Arena, vaddr, data)
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// scenarioCoWStress is spec.md §8's scenario 1: parent sbrk's 128 pages,
// stamps a parent pattern into every page, forks, the child stamps its
// own pattern into every page, and each side must read back exactly its
// own pattern after the fork — the CoW split must never let one side's
// write leak into the other's frame.
func scenarioCoWStress(k *sc.Kernel) (string, errno.Errno) {
	const pages = 128
	parent := newTask(k)

	base := uintptr(sc.Dispatch(k, parent, sc.SysBrk, sc.Args{0}))
	grown := sc.Dispatch(k, parent, sc.SysBrk, sc.Args{uintptr(pages * hal.Page)})
	if grown < 0 {
		return "", errno.Errno(-grown)
	}

	for i := 0; i < pages; i++ {
		val := (uint64(0xDEADBEEF) << 32) | uint64(i)
		addr := base + uintptr(i)*hal.Page
		if e := sc.CopyToUser(parent.Proc.Space, k.Arena, addr, le64(val)); e != 0 {
			return "", e
		}
	}

	childPID := sc.Dispatch(k, parent, sc.SysFork, sc.Args{})
	if childPID < 0 {
		return "", errno.Errno(-childPID)
	}
	childProc, ok := k.Procs.Get(childPID)
	if !ok {
		return "", errno.ESRCH
	}
	child := &sc.Task{Proc: childProc, Thread: sched.NewThread(childProc.PID, childProc.PID)}

	for i := 0; i < pages; i++ {
		val := (uint64(0xCAFEBABE) << 32) | uint64(i)
		addr := base + uintptr(i)*hal.Page
		if e := writeUserFaulting(k, child.Proc.Space, addr, le64(val)); e != 0 {
			return "", e
		}
	}
	if e := sc.Exit(k, child, 0); e != 0 {
		return "", e
	}

	ret := sc.Dispatch(k, parent, sc.SysWaitpid, sc.Args{uintptr(childPID), 0})
	if ret < 0 {
		return "", errno.Errno(-ret)
	}
	gotPID := ret & 0xffffffff
	gotStatus := uint32(ret >> 32)
	if gotPID != childPID || gotStatus>>8 != 0 {
		return "", errno.ECHILD
	}

	for i := 0; i < pages; i++ {
		addr := base + uintptr(i)*hal.Page
		var buf [8]byte
		if e := sc.CopyFromUser(parent.Proc.Space, k.Arena, addr, buf[:]); e != 0 {
			return "", e
		}
		want := (uint64(0xDEADBEEF) << 32) | uint64(i)
		if leUint64(buf[:]) != want {
			return "", errno.EFAULT
		}
		if e := sc.CopyFromUser(child.Proc.Space, k.Arena, addr, buf[:]); e != 0 {
			return "", e
		}
		want = (uint64(0xCAFEBABE) << 32) | uint64(i)
		if leUint64(buf[:]) != want {
			return "", errno.EFAULT
		}
	}
	return fmt.Sprintf("%d pages round-tripped distinct parent/child patterns", pages), 0
}

// scenarioSignalRegisterPreservation is spec.md §8's scenario 2: a
// SIGUSR1 handler clobbers every callee-saved register it's handed; after
// delivery returns (sysKill's own deliverPending step), the caller's
// register file must read back exactly what it held before the signal.
func scenarioSignalRegisterPreservation(k *sc.Kernel) (string, errno.Errno) {
	task := newTask(k)
	task.Regs = signal.NewRegisterFile()
	want := map[string]uint64{
		"r12": 0xAAAABBBBCCCCDDDD,
		"r13": 0x1111222233334444,
		"r14": 0x5555666677778888,
		"r15": 0x9999AAAABBBBCCCC,
	}
	for reg, v := range want {
		task.Regs.CalleeSaved[reg] = v
	}

	e := sc.SigAction(task, signal.SIGUSR1, signal.Action{
		Disposition: signal.DispositionHandler,
		HandlerFn: func(sig signal.Sig, regs *signal.RegisterFile) {
			for reg := range want {
				regs.CalleeSaved[reg] = ^want[reg]
			}
		},
	})
	if e != 0 {
		return "", e
	}

	ret := sc.Dispatch(k, task, sc.SysKill, sc.Args{uintptr(task.Proc.PID), uintptr(signal.SIGUSR1)})
	if ret < 0 {
		return "", errno.Errno(-ret)
	}

	for reg, v := range want {
		if task.Regs.CalleeSaved[reg] != v {
			return "", errno.EFAULT
		}
	}
	return "all four callee-saved registers round-tripped through sigreturn", 0
}

// scenarioIntervalTimer is spec.md §8's scenario 3: arm SIGALRM at
// 100ms/50ms, tick the REAL timer in 10ms steps out to ~400ms, and expect
// at least four deliveries before setitimer(0,0,0) silences it.
func scenarioIntervalTimer(k *sc.Kernel) (string, errno.Errno) {
	task := newTask(k)
	fired := 0
	e := sc.SigAction(task, signal.SIGALRM, signal.Action{
		Disposition: signal.DispositionHandler,
		HandlerFn:   func(signal.Sig, *signal.RegisterFile) { fired++ },
	})
	if e != 0 {
		return "", e
	}

	ret := sc.Dispatch(k, task, sc.SysSetitimer, sc.Args{uintptr(signal.TimerReal), 100_000_000, 50_000_000})
	if ret < 0 {
		return "", errno.Errno(-ret)
	}

	const step = 10 * 1_000_000 // 10ms in nanoseconds
	for elapsed := 0; elapsed < 400_000_000; elapsed += step {
		if n := task.Proc.Signals.TickReal(step); n > 0 {
			for i := 0; i < n; i++ {
				task.Proc.Signals.Raise(signal.SIGALRM)
			}
		}
		sc.Dispatch(k, task, sc.SysGetitimer, sc.Args{uintptr(signal.TimerReal)})
	}
	if fired < 4 {
		return "", errno.EINVAL
	}

	_, interval, e := task.Proc.Signals.GetItimer(signal.TimerReal)
	if e != 0 || interval == 0 {
		return "", errno.EINVAL
	}

	if ret := sc.Dispatch(k, task, sc.SysSetitimer, sc.Args{uintptr(signal.TimerReal), 0, 0}); ret < 0 {
		return "", errno.Errno(-ret)
	}
	before := fired
	task.Proc.Signals.TickReal(1_000_000_000)
	if fired != before {
		return "", errno.EINVAL
	}
	return fmt.Sprintf("%d SIGALRM deliveries in ~400ms, disarm stopped further firing", fired), 0
}

// scenarioPipeConcurrency is spec.md §8's scenario 4: one pipe, four
// forked children each writing three 32-byte messages concurrently; the
// parent must read back all twelve in total, three per writer id. The
// four children run as concurrent goroutines coordinated with
// errgroup.Group so the first write failure aborts the whole scenario.
func scenarioPipeConcurrency(k *sc.Kernel) (string, errno.Errno) {
	const nChildren = 4
	const nMsgs = 3
	const msgLen = 32

	parent := newTask(k)
	ret := sc.Dispatch(k, parent, sc.SysPipe2, sc.Args{})
	if ret < 0 {
		return "", errno.Errno(-ret)
	}
	readFD := int(int32(ret))
	writeFD := int(int32(ret >> 32))

	var g errgroup.Group
	for i := 0; i < nChildren; i++ {
		i := i
		childPID := sc.Dispatch(k, parent, sc.SysFork, sc.Args{})
		if childPID < 0 {
			return "", errno.Errno(-childPID)
		}
		childProc, ok := k.Procs.Get(childPID)
		if !ok {
			return "", errno.ESRCH
		}
		child := &sc.Task{Proc: childProc, Thread: sched.NewThread(childProc.PID, childProc.PID)}
		g.Go(func() error {
			scratch := uintptr(sc.Dispatch(k, child, sc.SysMmap, sc.Args{0, hal.Page, uintptr(hal.ProtR | hal.ProtW)}))
			for j := 0; j < nMsgs; j++ {
				msg := make([]byte, msgLen)
				copy(msg, fmt.Sprintf("W%dM%d", i, j))
				if e := sc.CopyToUser(child.Proc.Space, k.Arena, scratch, msg); e != 0 {
					return fmt.Errorf("child %d: %v", i, e)
				}
				n := sc.Dispatch(k, child, sc.SysWrite, sc.Args{uintptr(writeFD), scratch, msgLen, 1})
				if n != msgLen {
					return fmt.Errorf("child %d write %d returned %d", i, j, n)
				}
			}
			if e := sc.Exit(k, child, 0); e != 0 {
				return fmt.Errorf("child %d exit: %v", i, e)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", errno.EIO
	}
	for i := 0; i < nChildren; i++ {
		if ret := sc.Dispatch(k, parent, sc.SysWaitpid, sc.Args{uintptr(0xffffffffffffffff), 0}); ret < 0 { // pid == -1, any child
			return "", errno.Errno(-ret)
		}
	}

	if ret := sc.Dispatch(k, parent, sc.SysClose, sc.Args{uintptr(writeFD)}); ret != 0 {
		return "", errno.Errno(-ret)
	}

	perWriter := make(map[int]int)
	total := 0
	scratch := uintptr(sc.Dispatch(k, parent, sc.SysMmap, sc.Args{0, hal.Page, uintptr(hal.ProtR | hal.ProtW)}))
	for {
		n := sc.Dispatch(k, parent, sc.SysRead, sc.Args{uintptr(readFD), scratch, msgLen})
		if n < 0 {
			return "", errno.Errno(-n)
		}
		if n == 0 {
			break
		}
		buf := make([]byte, n)
		if e := sc.CopyFromUser(parent.Proc.Space, k.Arena, scratch, buf); e != 0 {
			return "", e
		}
		total += int(n)
		s := string(buf)
		if idx := strings.IndexByte(s, 0); idx >= 0 {
			s = s[:idx]
		}
		var wid, mid int
		if _, err := fmt.Sscanf(s, "W%dM%d", &wid, &mid); err == nil {
			perWriter[wid]++
		}
	}

	if total != nChildren*nMsgs*msgLen {
		return "", errno.EIO
	}
	for i := 0; i < nChildren; i++ {
		if perWriter[i] != nMsgs {
			return "", errno.EIO
		}
	}
	return fmt.Sprintf("read back %d bytes across %d writers, 3 messages each", total, nChildren), 0
}

// scenarioPollPipeHup is spec.md §8's scenario 5: POLLIN while data sits
// unread, POLLHUP once the write end closes and the buffer drains,
// POLLNVAL against a never-issued fd number.
func scenarioPollPipeHup(k *sc.Kernel) (string, errno.Errno) {
	task := newTask(k)
	ret := sc.Dispatch(k, task, sc.SysPipe2, sc.Args{})
	if ret < 0 {
		return "", errno.Errno(-ret)
	}
	readFD := int(int32(ret))
	writeFD := int(int32(ret >> 32))

	scratch := uintptr(sc.Dispatch(k, task, sc.SysMmap, sc.Args{0, hal.Page, uintptr(hal.ProtR | hal.ProtW)}))
	if e := sc.CopyToUser(task.Proc.Space, k.Arena, scratch, []byte("Test")); e != 0 {
		return "", e
	}
	if n := sc.Dispatch(k, task, sc.SysWrite, sc.Args{uintptr(writeFD), scratch, 4, 1}); n != 4 {
		return "", errno.EIO
	}

	revents, e := pollOne(k, task, readFD, scratch)
	if e != 0 {
		return "", e
	}
	if revents&fdPOLLIN == 0 {
		return "", errno.EINVAL
	}

	n := sc.Dispatch(k, task, sc.SysRead, sc.Args{uintptr(readFD), scratch, 4})
	if n != 4 {
		return "", errno.EIO
	}
	if ret := sc.Dispatch(k, task, sc.SysClose, sc.Args{uintptr(writeFD)}); ret != 0 {
		return "", errno.Errno(-ret)
	}

	revents, e = pollOne(k, task, readFD, scratch)
	if e != 0 {
		return "", e
	}
	if revents&fdPOLLHUP == 0 {
		return "", errno.EINVAL
	}

	revents, e = pollOne(k, task, 999, scratch)
	if e != 0 {
		return "", e
	}
	if revents&fdPOLLNVAL == 0 {
		return "", errno.EINVAL
	}
	return "POLLIN, POLLHUP, and POLLNVAL each observed on schedule", 0
}

const (
	fdPOLLIN   = 1 << 0
	fdPOLLHUP  = 1 << 3
	fdPOLLNVAL = 1 << 4
)

// pollOne drives sysPoll's byte-marshaled pollfd ABI for a single fd,
// exercising the real dispatch path rather than calling fd.Poll directly.
func pollOne(k *sc.Kernel, t *sc.Task, fdNum int, scratch uintptr) (uint32, errno.Errno) {
	raw := make([]byte, 8)
	raw[0] = byte(fdNum)
	raw[1] = byte(fdNum >> 8)
	raw[2] = byte(fdNum >> 16)
	raw[3] = byte(fdNum >> 24)
	raw[4] = byte(fdPOLLIN | fdPOLLHUP)
	if e := sc.CopyToUser(t.Proc.Space, k.Arena, scratch, raw); e != 0 {
		return 0, e
	}
	sc.Dispatch(k, t, sc.SysPoll, sc.Args{scratch, 1, 0})
	out := make([]byte, 8)
	if e := sc.CopyFromUser(t.Proc.Space, k.Arena, scratch, out); e != 0 {
		return 0, e
	}
	revents := uint32(out[4]) | uint32(out[5])<<8 | uint32(out[6])<<16 | uint32(out[7])<<24
	return revents, 0
}

// scenarioVirtioBlockProbe is spec.md §8's scenario 6: scan the 32-slot
// MMIO bus for at least one block device, then drive it through the
// mandatory status sequence and confirm it lands on exactly
// ACKNOWLEDGE|DRIVER|FEATURES_OK|DRIVER_OK.
func scenarioVirtioBlockProbe(k *sc.Kernel) (string, errno.Errno) {
	bus := virtio.NewBus()
	bus.Install(3, virtio.NewSlot(virtio.DeviceBlock))

	found := bus.Probe()
	var blockSlot *virtio.Slot
	for _, s := range found {
		if s.Magic() == 0x74726976 && (s.Version() == 1 || s.Version() == 2) && s.DeviceID() == virtio.DeviceBlock {
			blockSlot = s
			break
		}
	}
	if blockSlot == nil {
		return "", errno.EIO
	}

	dev, e := virtio.Init(blockSlot, 0, []uint16{16})
	if e != 0 {
		return "", e
	}
	want := uint32(virtio.StatusAcknowledge | virtio.StatusDriver | virtio.StatusFeaturesOK | virtio.StatusDriverOK)
	if blockSlot.Status() != want {
		return "", errno.EIO
	}
	_ = dev
	return "block device probed and brought to DRIVER_OK", 0
}
