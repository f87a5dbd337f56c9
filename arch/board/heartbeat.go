//go:build linux

// Package board provides optional hardware bring-up glue for the host
// kernel: a GPIO line toggled once per context switch and once per
// idle-thread entry, giving a real, observable heartbeat on SBC targets
// (Raspberry Pi class). It is never required — kernel.Kernel accepts a
// nil Heartbeat and simply skips the hook — and it has no place in the
// core's critical section: toggling a line is pure side effect, done
// after the scheduler has already committed to a switch.
//
// Grounded in the teacher's own GPIO-via-hidraw PTT keying
// (doismellburning-samoyed's src/cm108.go, cm108_set_gpio_pin),
// repurposed from "key the transmitter" to "blink on reschedule," and in
// the teacher's go.mod dependency on github.com/warthog618/go-gpiocdev,
// which the teacher's own tree never actually imported.
package board

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Heartbeat drives a single GPIO output line, flipping its level on
// every call to Toggle.
type Heartbeat struct {
	line  *gpiocdev.Line
	level int
}

// NewHeartbeat requests offset on chip (e.g. "gpiochip0") as an output,
// initially low.
func NewHeartbeat(chip string, offset int) (*Heartbeat, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("board: request line %s:%d: %w", chip, offset, err)
	}
	return &Heartbeat{line: line}, nil
}

// Toggle flips the line's output level.
func (h *Heartbeat) Toggle() {
	h.level ^= 1
	_ = h.line.SetValue(h.level)
}

// Close releases the underlying GPIO line request.
func (h *Heartbeat) Close() error {
	return h.line.Close()
}
