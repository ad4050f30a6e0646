// Package errno defines the flat Linux-numbered error codes that cross the
// syscall boundary, and a small Result sum type subsystems use internally
// before that boundary converts it into a -errno return value.
package errno

import "fmt"

// Errno is a Linux-compatible error number. Zero means success.
type Errno int

// Values match golang.org/x/sys/unix (and thus the Linux ABI) exactly, per
// spec.md §6. Only the subset named in the spec is declared.
const (
	EPERM       Errno = 1
	ESRCH       Errno = 3
	EINTR       Errno = 4
	EIO         Errno = 5
	EBADF       Errno = 9
	ECHILD      Errno = 10
	EAGAIN      Errno = 11
	ENOMEM      Errno = 12
	EFAULT      Errno = 14
	EINVAL      Errno = 22
	EMFILE      Errno = 24
	ENOTTY      Errno = 25
	ENOSPC      Errno = 28
	EPIPE       Errno = 32
	ERANGE      Errno = 34
	ENOSYS      Errno = 38
	EAFNOSUPPORT Errno = 97
	EADDRINUSE  Errno = 98
	ENETUNREACH Errno = 101
	ECONNREFUSED Errno = 111
)

var names = map[Errno]string{
	EPERM: "EPERM", ESRCH: "ESRCH", EINTR: "EINTR", EIO: "EIO", EBADF: "EBADF",
	ECHILD: "ECHILD", EAGAIN: "EAGAIN", ENOMEM: "ENOMEM", EFAULT: "EFAULT",
	EINVAL: "EINVAL", EMFILE: "EMFILE", ENOTTY: "ENOTTY", ENOSPC: "ENOSPC",
	EPIPE: "EPIPE", ERANGE: "ERANGE", ENOSYS: "ENOSYS",
	EAFNOSUPPORT: "EAFNOSUPPORT", EADDRINUSE: "EADDRINUSE",
	ENETUNREACH: "ENETUNREACH", ECONNREFUSED: "ECONNREFUSED",
}

func (e Errno) Error() string {
	if n, ok := names[e]; ok {
		return n
	}
	return fmt.Sprintf("errno(%d)", int(e))
}

// Negated returns the value a syscall handler writes into the ABI return
// register on failure: -errno, Linux convention (spec.md §4.6 step 4).
func (e Errno) Negated() int64 { return -int64(e) }

// Result is the sum type syscall handlers and internal subsystems return
// instead of panicking or using Go's (T, error) idiom with untyped errors;
// spec.md §9 calls this out explicitly ("no exception machinery").
type Result[T any] struct {
	value T
	err   Errno
	ok    bool
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] { return Result[T]{value: v, ok: true} }

// Err wraps a failure.
func Err[T any](e Errno) Result[T] { return Result[T]{err: e} }

// IsOk reports whether the result holds a value rather than an error.
func (r Result[T]) IsOk() bool { return r.ok }

// Unwrap returns the value and true, or the zero value and false.
func (r Result[T]) Unwrap() (T, bool) { return r.value, r.ok }

// ErrnoOr returns the wrapped errno, or 0 if the result is Ok.
func (r Result[T]) ErrnoOr() Errno {
	if r.ok {
		return 0
	}
	return r.err
}
