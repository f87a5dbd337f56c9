//go:build !linux

package arch

import (
	"fmt"
	"time"
)

// TickSource is the non-Linux fallback tick source, built on a plain
// time.Ticker rather than timerfd. Behaviorally equivalent from the
// portable kernel's point of view; only the underlying wakeup mechanism
// differs.
type TickSource struct {
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// NewTickSource creates a ticker firing at hz Hz. hz must be positive.
func NewTickSource(hz int) (*TickSource, error) {
	if hz <= 0 {
		return nil, fmt.Errorf("arch: tick rate must be positive, got %d", hz)
	}
	period := time.Second / time.Duration(hz)
	return &TickSource{
		ticker: time.NewTicker(period),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Run blocks, calling onTick once per tick, until Stop is called.
func (t *TickSource) Run(onTick func()) {
	defer close(t.done)
	for {
		select {
		case <-t.ticker.C:
			onTick()
		case <-t.stop:
			return
		}
	}
}

// Stop halts the ticker. Safe to call once; blocks until Run returns, if
// Run is currently executing.
func (t *TickSource) Stop() {
	select {
	case <-t.stop:
		return
	default:
		close(t.stop)
	}
	t.ticker.Stop()
	<-t.done
}
