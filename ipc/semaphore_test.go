package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanort/nanort/kerrors"
)

func TestSemaphoreImmediateTakeDecrementsCount(t *testing.T) {
	h := newHarness(t)
	sem, err := NewSemaphore(h.sched, h.timers, h.threads, h.lock, 2, OrderFIFO)
	require.NoError(t, err)

	require.NoError(t, sem.Take(nil, 0))
	assert.Equal(t, uint16(1), sem.Count())
	require.NoError(t, sem.Take(nil, 0))
	assert.Equal(t, uint16(0), sem.Count())

	assert.ErrorIs(t, sem.Take(nil, 0), kerrors.ErrBusy)
}

func TestSemaphoreReleaseIncrementsCount(t *testing.T) {
	h := newHarness(t)
	sem, err := NewSemaphore(h.sched, h.timers, h.threads, h.lock, 0, OrderFIFO)
	require.NoError(t, err)

	require.NoError(t, sem.Release())
	assert.Equal(t, uint16(1), sem.Count())
}

func TestSemaphoreReleaseAtMaxReturnsBusy(t *testing.T) {
	h := newHarness(t)
	sem, err := NewSemaphore(h.sched, h.timers, h.threads, h.lock, SemValueMax, OrderFIFO)
	require.NoError(t, err)

	assert.ErrorIs(t, sem.Release(), kerrors.ErrBusy)
}

func TestSemaphoreBlockingTakeWokenByRelease(t *testing.T) {
	h := newHarness(t)
	sem, err := NewSemaphore(h.sched, h.timers, h.threads, h.lock, 0, OrderFIFO)
	require.NoError(t, err)

	done := make(chan error, 1)
	h.spawn("waiter", 1, func() {
		done <- sem.Take(h.self(), -1)
	})
	h.spinFor(3) // let the waiter actually run and block on the empty semaphore

	require.NoError(t, sem.Release())
	require.NoError(t, waitErr(t, done))
}

func TestSemaphoreTakeTimesOut(t *testing.T) {
	h := newHarness(t)
	sem, err := NewSemaphore(h.sched, h.timers, h.threads, h.lock, 0, OrderFIFO)
	require.NoError(t, err)

	done := make(chan error, 1)
	h.spawn("waiter", 1, func() {
		done <- sem.Take(h.self(), 5)
	})

	h.tickN(10)
	err2 := waitErr(t, done)
	assert.ErrorIs(t, err2, kerrors.ErrTimeout)
}

func TestSemaphoreDeleteWakesWaitersWithDeletedError(t *testing.T) {
	h := newHarness(t)
	sem, err := NewSemaphore(h.sched, h.timers, h.threads, h.lock, 0, OrderFIFO)
	require.NoError(t, err)

	done := make(chan error, 1)
	h.spawn("waiter", 1, func() {
		done <- sem.Take(h.self(), -1)
	})
	h.spinFor(3)

	require.NoError(t, sem.Delete())
	err2 := waitErr(t, done)
	assert.ErrorIs(t, err2, kerrors.ErrDeleted)
}
