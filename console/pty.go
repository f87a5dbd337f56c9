//go:build linux

package console

import (
	"os"

	"github.com/creack/pty"
	"github.com/pkg/term/termios"
)

// PTYSink is a Sink backed by a real pseudo-terminal, so a user can
// attach a terminal program to Name() and watch kernel console output
// live — the host-simulation analogue of wiring a real UART up to a
// serial console. Grounded in Daedaluz-goserial's pty_linux.go and the
// teacher's own PTY-based serial tooling.
type PTYSink struct {
	master *os.File
	slave  *os.File
}

// NewPTYSink allocates a PTY pair and puts the slave side into raw mode
// so control characters the kernel prints are not reinterpreted by a
// line discipline.
func NewPTYSink() (*PTYSink, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}

	var attr termios.Termios
	if err := termios.Tcgetattr(slave.Fd(), &attr); err == nil {
		termios.Cfmakeraw(&attr)
		_ = termios.Tcsetattr(slave.Fd(), termios.TCSANOW, &attr)
	}

	return &PTYSink{master: master, slave: slave}, nil
}

// Name returns the slave device path (e.g. /dev/pts/3) a terminal
// program can open to observe console output.
func (p *PTYSink) Name() string { return p.slave.Name() }

// PutChar writes c to the master side of the PTY, where it becomes
// readable on the slave device.
func (p *PTYSink) PutChar(c byte) {
	_, _ = p.master.Write([]byte{c})
}

// Close releases both ends of the PTY pair.
func (p *PTYSink) Close() error {
	sErr := p.slave.Close()
	mErr := p.master.Close()
	if sErr != nil {
		return sErr
	}
	return mErr
}
