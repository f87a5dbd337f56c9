//go:build linux

package arch

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// TickSource drives a periodic tick hook at a configured rate using a
// Linux timerfd — the host-simulation analogue of the periodic SysTick
// ISR spec.md §6 treats as an external collaborator. Grounded in
// Daedaluz-goserial's direct syscall/ioctl style (the pack's one example
// of talking to the kernel at the raw-syscall level), generalized here
// from "configure a UART" to "arm a periodic timer."
type TickSource struct {
	fd   int
	stop chan struct{}
	done chan struct{}
}

// NewTickSource creates a timerfd armed to fire every period. hz must be
// positive.
func NewTickSource(hz int) (*TickSource, error) {
	if hz <= 0 {
		return nil, fmt.Errorf("arch: tick rate must be positive, got %d", hz)
	}

	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return nil, fmt.Errorf("arch: timerfd_create: %w", err)
	}

	period := time.Second / time.Duration(hz)
	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(period.Nanoseconds()),
		Value:    unix.NsecToTimespec(period.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("arch: timerfd_settime: %w", err)
	}

	return &TickSource{fd: fd, stop: make(chan struct{}), done: make(chan struct{})}, nil
}

// Run blocks, calling onTick once per timerfd wakeup, until Stop is
// called. The expiration count the timerfd reports is not used: ticks
// the process fell behind on collapse into that single call and are not
// replayed.
func (t *TickSource) Run(onTick func()) {
	defer close(t.done)
	buf := make([]byte, 8)
	for {
		n, err := unix.Read(t.fd, buf)
		if err != nil || n != 8 {
			select {
			case <-t.stop:
				return
			default:
				continue
			}
		}
		select {
		case <-t.stop:
			return
		default:
		}
		onTick()
	}
}

// Stop halts the timer and closes the underlying file descriptor. Safe
// to call once; blocks until Run has observed the stop signal and
// returned, if Run is currently executing.
func (t *TickSource) Stop() {
	select {
	case <-t.stop:
		return
	default:
		close(t.stop)
	}
	unix.Close(t.fd)
	<-t.done
}
