package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanort/nanort/kerrors"
	"github.com/nanort/nanort/thread"
)

func TestMutexUncontestedTakeRelease(t *testing.T) {
	h := newHarness(t)
	m, err := NewMutex(h.sched, h.timers, h.threads, h.lock, OrderFIFO)
	require.NoError(t, err)

	done := make(chan error, 1)
	h.spawn("owner", 2, func() {
		self := h.self()
		if err := m.Take(self, 0); err != nil {
			done <- err
			return
		}
		if m.Owner() != self {
			done <- kerrors.ErrGeneric
			return
		}
		done <- m.Release(self)
	})

	require.NoError(t, waitErr(t, done))
}

func TestMutexRecursiveTakeRelease(t *testing.T) {
	h := newHarness(t)
	m, err := NewMutex(h.sched, h.timers, h.threads, h.lock, OrderFIFO)
	require.NoError(t, err)

	done := make(chan error, 1)
	h.spawn("owner", 2, func() {
		self := h.self()
		for i := 0; i < 3; i++ {
			if err := m.Take(self, 0); err != nil {
				done <- err
				return
			}
		}
		if m.Owner() != self {
			done <- kerrors.ErrGeneric
			return
		}
		// Two releases must still leave it held (hold count 3).
		if err := m.Release(self); err != nil {
			done <- err
			return
		}
		if err := m.Release(self); err != nil {
			done <- err
			return
		}
		if m.Owner() != self {
			done <- kerrors.ErrGeneric
			return
		}
		done <- m.Release(self)
	})

	require.NoError(t, waitErr(t, done))
	assert.Nil(t, m.Owner())
}

// Holder and waiter priorities in the tests below always give the
// holder the lower (numerically higher) priority and spawn it first: it
// must reach the take before the waiter exists, and it must remain the
// only thread competing for the CPU (via cooperative spinUntilClosed)
// until the waiter is ready to preempt it, since nothing else drives
// the scheduler's single logical CPU token forward otherwise.

func TestMutexContendedTakeBlocksUntilRelease(t *testing.T) {
	h := newHarness(t)
	m, err := NewMutex(h.sched, h.timers, h.threads, h.lock, OrderFIFO)
	require.NoError(t, err)

	holding := make(chan struct{})
	releaseNow := make(chan struct{})
	holderDone := make(chan error, 1)
	h.spawn("holder", 3, func() {
		self := h.self()
		if err := m.Take(self, 0); err != nil {
			holderDone <- err
			return
		}
		close(holding)
		h.spinUntilClosed(releaseNow)
		holderDone <- m.Release(self)
	})

	requireSoon(t, holding, "holder never took the mutex")

	waiterDone := make(chan error, 1)
	h.spawn("waiter", 2, func() {
		waiterDone <- m.Take(h.self(), -1)
	})

	close(releaseNow)

	require.NoError(t, waitErr(t, holderDone))
	require.NoError(t, waitErr(t, waiterDone))
}

func TestMutexPriorityInheritanceBoostsAndRestoresOwner(t *testing.T) {
	h := newHarness(t)
	m, err := NewMutex(h.sched, h.timers, h.threads, h.lock, OrderFIFO)
	require.NoError(t, err)

	const lowPrio = 6
	const highPrio = 1

	holding := make(chan struct{})
	boosted := make(chan struct{})
	holderDone := make(chan error, 1)

	var owner *thread.Thread
	h.spawn("low", lowPrio, func() {
		owner = h.self()
		if err := m.Take(owner, 0); err != nil {
			holderDone <- err
			return
		}
		close(holding)
		h.spinUntilClosed(boosted)
		holderDone <- m.Release(owner)
	})

	requireSoon(t, holding, "low-priority thread never took the mutex")

	waiterDone := make(chan error, 1)
	h.spawn("high", highPrio, func() {
		waiterDone <- m.Take(h.self(), -1)
	})

	// Give the high-priority waiter a chance to preempt and block,
	// triggering inheritance.
	h.spinFor(5)
	assert.Equal(t, highPrio, owner.Priority(), "owner was not boosted to the waiter's priority")
	close(boosted)

	require.NoError(t, waitErr(t, holderDone))
	assert.Equal(t, lowPrio, owner.Priority(), "owner's original priority was not restored on release")
	require.NoError(t, waitErr(t, waiterDone))
}

func TestMutexTakeTimesOutWhenContended(t *testing.T) {
	h := newHarness(t)
	m, err := NewMutex(h.sched, h.timers, h.threads, h.lock, OrderFIFO)
	require.NoError(t, err)

	// Mutex.Take always reads self.Priority() on an uncontested take (to
	// seed originalPriority), unlike Semaphore.Take: pass a real thread,
	// not nil.
	require.NoError(t, m.Take(h.idle, 0))

	done := make(chan error, 1)
	h.spawn("waiter", 1, func() {
		done <- m.Take(h.self(), 5)
	})

	h.tickN(10)
	assert.ErrorIs(t, waitErr(t, done), kerrors.ErrTimeout)
}

func TestMutexDeleteWakesWaitersAndRestoresPriority(t *testing.T) {
	h := newHarness(t)
	m, err := NewMutex(h.sched, h.timers, h.threads, h.lock, OrderFIFO)
	require.NoError(t, err)

	holding := make(chan struct{})
	var owner *thread.Thread
	h.spawn("low", 6, func() {
		owner = h.self()
		if err := m.Take(owner, 0); err != nil {
			return
		}
		close(holding)
		h.spinFor(20) // holds the mutex without releasing until Delete tears it down
	})

	requireSoon(t, holding, "low-priority thread never took the mutex")

	waiterDone := make(chan error, 1)
	h.spawn("high", 1, func() {
		waiterDone <- m.Take(h.self(), -1)
	})

	h.spinFor(5)
	assert.Equal(t, 1, owner.Priority())

	require.NoError(t, m.Delete())
	assert.ErrorIs(t, waitErr(t, waiterDone), kerrors.ErrDeleted)
	assert.Equal(t, 6, owner.Priority(), "delete must restore the owner's inherited priority")
}
