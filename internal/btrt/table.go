// Package btrt implements the boot-time regression table of spec.md §3:
// a fixed-layout result table the kernel populates while driving the
// end-to-end scenarios of spec.md §8, read post-mortem by the host
// (cmd/kernelctl's "btrt" subcommand dumps it as JSON in place of a real
// host reading shared memory across the VM boundary).
package btrt

import (
	"encoding/json"
	"time"

	"nucleus/internal/errno"
)

// Magic identifies a populated table the way the real BTRT region's
// magic field would to a host scanning guest memory for it.
const Magic uint32 = 0x42545254 // "BTRT"

// MaxResults bounds the table the same way the fd table and pty pool are
// fixed-capacity arrays rather than growable slices (spec.md §9: "Arena +
// index... fixed pools... use indices or bitmaps").
const MaxResults = 64

// Status is one test's outcome.
type Status int

const (
	StatusPass Status = iota
	StatusFail
	StatusSkip
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusSkip:
		return "skip"
	default:
		return "invalid"
	}
}

// Result is one scenario's entry: (test_id, status, error_code, duration,
// detail) from spec.md §3's BTRT table tuple.
type Result struct {
	TestID    uint32        `json:"test_id"`
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	ErrorCode errno.Errno   `json:"error_code"`
	Duration  time.Duration `json:"duration"`
	Detail    string        `json:"detail"`
}

// Table is the fixed-layout result region: magic, totals, and a bounded
// array of Result entries.
type Table struct {
	Magic   uint32
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Results [MaxResults]Result
}

func NewTable() *Table {
	return &Table{Magic: Magic}
}

// Record appends r to the table, dropping entries past MaxResults rather
// than growing past the fixed region — mirroring the real table's bounded
// shared-memory footprint.
func (t *Table) Record(r Result) {
	if t.Total < MaxResults {
		t.Results[t.Total] = r
	}
	t.Total++
	switch r.Status {
	case StatusPass:
		t.Passed++
	case StatusFail:
		t.Failed++
	case StatusSkip:
		t.Skipped++
	}
}

// Entries returns the recorded results, trimmed to what actually fit.
func (t *Table) Entries() []Result {
	n := t.Total
	if n > MaxResults {
		n = MaxResults
	}
	return t.Results[:n]
}

// entriesJSON is what ToJSON actually marshals — Results is a fixed
// array in Table so JSON would otherwise serialize every unused zero
// entry past Total.
type entriesJSON struct {
	Magic   uint32   `json:"magic"`
	Total   int      `json:"total"`
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Results []Result `json:"results"`
}

// ToJSON renders the table the way cmd/kernelctl's "btrt" subcommand
// prints it (spec.md §6: "btrt: dump the BTRT table as JSON"). This is
// the one place in the repo that reaches for encoding/json rather than an
// ecosystem library: nothing in the example pack's dependency surface
// offers a JSON encoder, and this module's only consumer is a CLI
// pretty-printer, not a hot path.
func (t *Table) ToJSON() ([]byte, error) {
	return json.MarshalIndent(entriesJSON{
		Magic:   t.Magic,
		Total:   t.Total,
		Passed:  t.Passed,
		Failed:  t.Failed,
		Skipped: t.Skipped,
		Results: t.Entries(),
	}, "", "  ")
}
