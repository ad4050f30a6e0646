// Package klog is the kernel's one diagnostic output path, the hosted
// replacement for mazarin's uartPuts/uartPutHex64 call sites — now a
// structured logger instead of raw UART byte writes.
package klog

import (
	"os"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// Log is the package-level logger every subsystem writes through.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// CPU returns a logger scoped to a CPU id, mirroring how mazarin's UART
// output was always implicitly scoped to "the" running core.
func CPU(id int) *logrus.Entry { return Log.WithField("cpu", id) }

// Panic logs a kernel-fatal condition (spec.md §7: "faults in kernel code
// are fatal: the kernel panics with diagnostic output on the serial
// console") and dumps the goroutine stack in place of a real panic dump.
func Panic(format string, args ...any) {
	Log.WithField("stack", string(debug.Stack())).Fatalf(format, args...)
}
