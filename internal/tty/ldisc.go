package tty

import (
	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/fd"
	"nucleus/internal/signal"
)

// LineDiscipline sits between a PTY master's raw byte stream and a
// reader: in canonical mode it buffers a line at a time, applies erase/
// kill editing, echoes back to the master, and raises signals on
// INTR/QUIT/SUSP (spec.md §4.8).
type LineDiscipline struct {
	mu        deadlock.Mutex
	termios   Termios
	rawQueue  []byte // bytes not yet assembled into a complete canonical line
	lines     [][]byte
	fgPgid    int32
	sigTarget *signal.State // the foreground process group's signal state, nil if none installed
}

func NewLineDiscipline() *LineDiscipline {
	return &LineDiscipline{termios: DefaultTermios()}
}

func (l *LineDiscipline) SetTermios(t Termios) {
	l.mu.Lock()
	l.termios = t
	l.mu.Unlock()
}

func (l *LineDiscipline) GetTermios() Termios {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.termios
}

func (l *LineDiscipline) SetForegroundPgid(pgid int32) { // tcsetpgrp
	l.mu.Lock()
	l.fgPgid = pgid
	l.mu.Unlock()
}

func (l *LineDiscipline) ForegroundPgid() int32 { // tcgetpgrp
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fgPgid
}

// SetSignalTarget wires the foreground process group's signal state so
// INTR/QUIT/SUSP can actually raise something; left nil in unit tests
// that only exercise editing/echo.
func (l *LineDiscipline) SetSignalTarget(s *signal.State) {
	l.mu.Lock()
	l.sigTarget = s
	l.mu.Unlock()
}

// Input feeds raw bytes typed at the slave's terminal through the line
// discipline. In canonical mode it performs erase/kill editing and only
// appends to `lines` on a newline; in raw mode every byte is delivered
// immediately. echo, if non-nil, receives the bytes that should be
// echoed back to the master side.
func (l *LineDiscipline) Input(data []byte, echo *fd.Pipe) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.termios
	for _, b := range data {
		if t.SignalsEnabled() {
			switch b {
			case t.Cc[VINTR]:
				l.raise(signal.SIGINT)
				continue
			case t.Cc[VQUIT]:
				l.raise(signal.SIGQUIT)
				continue
			case t.Cc[VSUSP]:
				l.raise(signal.SIGTSTP)
				continue
			}
		}

		if !t.Canonical() {
			l.lines = append(l.lines, []byte{b})
			l.echoByte(echo, b)
			continue
		}

		switch b {
		case t.Cc[VERASE]:
			if n := len(l.rawQueue); n > 0 {
				l.rawQueue = l.rawQueue[:n-1]
				l.echoErase(echo)
			}
		case t.Cc[VKILL]:
			n := len(l.rawQueue)
			l.rawQueue = l.rawQueue[:0]
			for i := 0; i < n; i++ {
				l.echoErase(echo)
			}
		case '\n', '\r':
			line := append([]byte(nil), l.rawQueue...)
			line = append(line, '\n')
			l.lines = append(l.lines, line)
			l.rawQueue = l.rawQueue[:0]
			l.echoByte(echo, '\n')
		default:
			l.rawQueue = append(l.rawQueue, b)
			l.echoByte(echo, b)
		}
	}
}

func (l *LineDiscipline) echoByte(echo *fd.Pipe, b byte) {
	if echo == nil || !l.termios.Echo() {
		return
	}
	echo.Write([]byte{b}, true)
}

func (l *LineDiscipline) echoErase(echo *fd.Pipe) {
	if echo == nil || !l.termios.Echo() {
		return
	}
	echo.Write([]byte{'\b', ' ', '\b'}, true)
}

func (l *LineDiscipline) raise(s signal.Sig) {
	if l.sigTarget != nil {
		l.sigTarget.Raise(s)
	}
}

// ReadLine pops the oldest complete line (canonical mode) or the oldest
// buffered byte-chunk (raw mode); ok is false if nothing is ready.
func (l *LineDiscipline) ReadLine() (line []byte, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) == 0 {
		return nil, false
	}
	line = l.lines[0]
	l.lines = l.lines[1:]
	return line, true
}

func (l *LineDiscipline) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}
