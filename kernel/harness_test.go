package kernel

import (
	"testing"
	"time"
)

// requireSoonK waits for ch to fire within a generous bound, matching
// the ipc package's requireSoon: progress here only happens as fast as
// the idle thread's own Switch/poll cadence (or an explicit Switch the
// test drives itself).
func requireSoonK(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal(msg)
	}
}

// waitErrK waits for a result on ch within a generous bound.
func waitErrK(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

// spinForK calls Switch directly from the test's own goroutine a fixed
// number of times. Only safe to use between ticks, never from inside a
// spawned thread's own body (spawned bodies must call k.Sched.Switch
// themselves, synchronously, to yield their own CPU token correctly).
func spinForK(k *Kernel, rounds int) {
	for i := 0; i < rounds; i++ {
		k.Sched.Switch()
		time.Sleep(time.Millisecond)
	}
}

// tickN drives the virtual clock n times, settling after each tick
// before advancing — every timer expiry and slice exhaustion due on a
// given tick fully resolves (any woken thread runs its cooperative
// react-then-block body and yields back) before Tick returns, since
// Scheduler.Switch blocks its caller until the baton returns.
func tickN(k *Kernel, n int) {
	for i := 0; i < n; i++ {
		k.Tick()
	}
}
