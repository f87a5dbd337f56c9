// Package timer implements the software timer engine: spec.md §4.4's
// ordered-list armed-timer set and the global tick counter, grounded on
// original_source/src/timer.c. That source declares a multi-level
// "skip list" of timer lists but only ever inserts into level 0; this
// port keeps a single ordered list for the same reason — the extra
// levels were configuration surface with no behavior behind them.
package timer

import (
	"github.com/nanort/nanort/arch"
	"github.com/nanort/nanort/kerrors"
	"github.com/nanort/nanort/list"
)

// Timer is a one-shot software timer. It is not restarted automatically
// on expiry; a periodic timer is built by having its callback call
// Start again, the same convention s_thread's sleep-wake callback uses.
type Timer struct {
	link        list.Node[*Timer]
	callback    func()
	initTick    uint32
	timeoutTick uint32
	armed       bool
}

// New constructs a Timer with the given callback and default duration in
// ticks. The timer is not armed until Start is called.
func New(callback func(), initTick uint32) (*Timer, error) {
	if callback == nil {
		return nil, kerrors.ErrNull
	}
	t := &Timer{callback: callback, initTick: initTick}
	t.link.Init()
	t.link.Value = t
	return t, nil
}

// Duration returns the configured duration in ticks (init_tick).
func (t *Timer) Duration() uint32 { return t.initTick }

// SetDuration updates the configured duration. Takes effect on the next
// Start; does not affect a currently armed expiration.
func (t *Timer) SetDuration(tick uint32) { t.initTick = tick }

// Engine is the per-kernel ordered set of armed timers plus the
// monotonic tick counter, guarded by the same shared interrupt lock the
// scheduler uses.
type Engine struct {
	lock   *arch.Lock
	head   list.Node[*Timer]
	tick   uint32
	tickHZ uint32
}

// NewEngine constructs a timer Engine. tickHZ is the configured tick frequency,
// used only by TickFromMillis.
func NewEngine(lock *arch.Lock, tickHZ uint32) (*Engine, error) {
	if lock == nil {
		return nil, kerrors.ErrNull
	}
	e := &Engine{lock: lock, tickHZ: tickHZ}
	e.head.Init()
	return e, nil
}

// Tick returns the current global tick count.
func (e *Engine) Tick() uint32 {
	mask := e.lock.Disable()
	defer e.lock.Enable(mask)
	return e.tick
}

// TickFromMillis converts a millisecond duration to ticks at the
// engine's configured frequency, rounding down. Zero milliseconds maps
// to zero ticks (spec.md: a zero duration means "no delay").
func (e *Engine) TickFromMillis(ms uint32) uint32 {
	if ms == 0 {
		return 0
	}
	return (ms * e.tickHZ) / 1000
}

// removeLocked unlinks t from the active list if it is linked; a no-op
// on an unarmed or already-expired timer.
func (e *Engine) removeLocked(t *Timer) {
	t.link.Remove()
	t.armed = false
}

// Stop removes t from the active set. Safe to call on an unarmed timer.
func (e *Engine) Stop(t *Timer) {
	mask := e.lock.Disable()
	defer e.lock.Enable(mask)
	e.removeLocked(t)
}

// Start (re-)arms t to fire initTick ticks from now, in absolute tick
// terms. If t is already armed it is first removed, so restarting a
// running timer never produces duplicate list nodes.
func (e *Engine) Start(t *Timer) {
	mask := e.lock.Disable()
	defer e.lock.Enable(mask)
	e.startLocked(t)
}

func (e *Engine) startLocked(t *Timer) {
	e.removeLocked(t)

	t.timeoutTick = e.tick + t.initTick
	t.armed = true

	cursor := &e.head
	for cursor.Next() != &e.head {
		candidate := cursor.Next().Value
		if int32(candidate.timeoutTick-t.timeoutTick) > 0 {
			break
		}
		cursor = cursor.Next()
	}
	cursor.InsertAfter(&t.link)
}

// Increment advances the global tick counter by one. Split out from
// Check so kernel.Tick can reproduce s_tick_increase's exact ordering:
// advance the counter, then let the thread manager decrement the
// current thread's time slice and yield if exhausted, and only then
// scan for timer expirations.
func (e *Engine) Increment() {
	mask := e.lock.Disable()
	e.tick++
	e.lock.Enable(mask)
}

// TickIncrease advances the global tick counter by one and runs Check,
// for callers (tests, and any Engine used without a thread manager) that
// don't need the time-slice step interleaved between the two.
func (e *Engine) TickIncrease() {
	e.Increment()
	e.Check()
}

// Check scans the ordered list for timers whose timeout_tick has been
// reached or passed, using wrap-safe signed-difference comparison so a
// timer armed near the 32-bit tick boundary still fires correctly once
// the counter wraps. Expired timers are spliced onto a private list
// first and their callbacks run after the lock is released, so a
// callback that re-arms a timer (the sleep-wake pattern) or calls back
// into the scheduler never does so while holding the lock.
func (e *Engine) Check() {
	var expired list.Node[*Timer]
	expired.Init()

	mask := e.lock.Disable()
	for e.head.Next() != &e.head {
		node := e.head.Next()
		t := node.Value
		if int32(e.tick-t.timeoutTick) < 0 {
			break
		}
		node.Remove()
		t.armed = false
		expired.InsertBefore(node)
	}
	e.lock.Enable(mask)

	for expired.Next() != &expired {
		node := expired.Next()
		t := node.Value
		node.Remove()
		if t.callback != nil {
			t.callback()
		}
	}
}
