package signal

// Frame is the data pushed onto a thread's (alternate, if SA_ONSTACK) stack
// before a handler runs, and consumed by sigreturn to restore exactly what
// was there before delivery (spec.md §4.5, §8.3 "register round-trip
// preservation must hold even when the handler itself clobbers its own
// callee-saved registers, because the kernel snapshot is what sigreturn
// restores, not whatever the handler leaves behind").
type Frame struct {
	Sig          Sig
	SavedBlocked uint64
	SavedRegs    *RegisterFile
	UsedAltStack bool
}

// Deliver builds the frame for a about-to-run handler and updates process
// signal state (masks handler's own mask + itself unless SA_NODEFER). The
// caller is responsible for actually invoking a.HandlerFn with regs.
func Deliver(s *State, sig Sig, a Action, regs *RegisterFile) *Frame {
	saved := s.EnterHandler(sig, a)
	f := &Frame{
		Sig:          sig,
		SavedBlocked: saved,
		SavedRegs:    regs.Clone(),
	}
	if a.Flags&SA_ONSTACK != 0 {
		s.EnterAltStack()
		f.UsedAltStack = true
	}
	return f
}

// SigReturn restores the blocked mask and register file a Frame captured,
// undoing exactly what Deliver did — this is the sigreturn syscall's
// effect (spec.md §6). Returns the restored register file so the caller
// can resume the interrupted context with it.
func SigReturn(s *State, f *Frame) *RegisterFile {
	s.LeaveHandler(f.SavedBlocked)
	if f.UsedAltStack {
		s.LeaveAltStack()
	}
	return f.SavedRegs
}
