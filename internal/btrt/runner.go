package btrt

import (
	"time"

	sc "nucleus/internal/syscall"
)

// Run drives every scenario in Scenarios against its own fresh Kernel and
// returns the populated result table — the hosted stand-in for the
// kernel populating its BTRT region during boot self-test (spec.md §6:
// "selftest <scenario>... btrt: dump the BTRT table").
func Run(newKernel func() *sc.Kernel) *Table {
	t := NewTable()
	for _, s := range Scenarios {
		t.Record(runOne(newKernel, s))
	}
	return t
}

// RunOne runs a single named scenario, for cmd/kernelctl's
// "selftest <scenario>" subcommand.
func RunOne(newKernel func() *sc.Kernel, name string) (Result, bool) {
	for _, s := range Scenarios {
		if s.Name == name {
			return runOne(newKernel, s), true
		}
	}
	return Result{}, false
}

func runOne(newKernel func() *sc.Kernel, s Scenario) Result {
	k := newKernel()
	start := time.Now()
	detail, e := s.Run(k)
	dur := time.Since(start)

	status := StatusPass
	if e != 0 {
		status = StatusFail
		detail = e.Error()
	}
	return Result{
		TestID:    s.ID,
		Name:      s.Name,
		Status:    status,
		ErrorCode: e,
		Duration:  dur,
		Detail:    detail,
	}
}
