// Package tty implements the line discipline, termios state, foreground
// process-group tracking, and PTY master/slave pairing of spec.md §4.8.
package tty

import "golang.org/x/sys/unix"

// Termios holds the four flag words and a 20-byte c_cc array indexed by
// the unix.V* constants. It is not field-for-field unix.Termios (there is
// no c_line and there are no speed fields), so sysIoctl marshals it field
// by field instead of copying the host struct. It is declared locally so this package owns
// the zero-value/default construction instead of depending on whatever
// a real host happens to report.
type Termios struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	Cc     [20]byte
}

// c_cc indices, matching unix.V* constants used by cfmakeraw/canonical
// processing.
const (
	VINTR  = unix.VINTR
	VQUIT  = unix.VQUIT
	VERASE = unix.VERASE
	VKILL  = unix.VKILL
	VEOF   = unix.VEOF
	VMIN   = unix.VMIN
	VTIME  = unix.VTIME
	VSTART = unix.VSTART
	VSTOP  = unix.VSTOP
	VSUSP  = unix.VSUSP
)

// c_lflag bits relevant to line-discipline behavior.
const (
	ICANON = unix.ICANON
	ECHO   = unix.ECHO
	ECHOE  = unix.ECHOE
	ISIG   = unix.ISIG
	IEXTEN = unix.IEXTEN
)

// c_iflag / c_oflag bits used by cooked-mode newline translation.
const (
	ICRNL = unix.ICRNL
	ONLCR = unix.ONLCR
)

// DefaultTermios returns sane cooked-mode settings: canonical, echo,
// signal-generating, CR/NL translation — what a freshly opened PTY slave
// starts with (spec.md §4.8).
func DefaultTermios() Termios {
	var t Termios
	t.Iflag = ICRNL
	t.Oflag = ONLCR
	t.Lflag = ICANON | ECHO | ECHOE | ISIG | IEXTEN
	t.Cc[VINTR] = 3   // ^C
	t.Cc[VQUIT] = 28  // ^\
	t.Cc[VERASE] = 127 // DEL
	t.Cc[VKILL] = 21  // ^U
	t.Cc[VEOF] = 4    // ^D
	t.Cc[VMIN] = 1
	t.Cc[VTIME] = 0
	t.Cc[VSTART] = 17 // ^Q
	t.Cc[VSTOP] = 19  // ^S
	t.Cc[VSUSP] = 26  // ^Z
	return t
}

// MakeRaw applies cfmakeraw semantics in place: disables canonical mode,
// echo, signal generation, and input/output translation (spec.md §4.8).
func (t *Termios) MakeRaw() {
	t.Iflag &^= ICRNL
	t.Oflag &^= ONLCR
	t.Lflag &^= (ICANON | ECHO | ISIG | IEXTEN)
	t.Cc[VMIN] = 1
	t.Cc[VTIME] = 0
}

func (t Termios) Canonical() bool { return t.Lflag&ICANON != 0 }
func (t Termios) Echo() bool      { return t.Lflag&ECHO != 0 }
func (t Termios) SignalsEnabled() bool { return t.Lflag&ISIG != 0 }
