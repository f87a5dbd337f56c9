package ipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nanort/nanort/arch"
	"github.com/nanort/nanort/kernlog"
	"github.com/nanort/nanort/sched"
	"github.com/nanort/nanort/thread"
	"github.com/nanort/nanort/timer"
)

const priorityMax = 8
const idlePriority = priorityMax - 1

// harness wires a minimal live kernel (scheduler + timer engine + thread
// manager + an idle filler thread) so IPC tests can run real blocking
// Take/SendWait/Recv calls across goroutines, the same baton model
// arch.HostPort realizes production-side.
type harness struct {
	t       *testing.T
	port    *arch.HostPort
	lock    *arch.Lock
	sched   *sched.Scheduler
	timers  *timer.Engine
	threads *thread.Manager
	idle    *thread.Thread
	stop    chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	port := arch.NewHostPort()
	lock := &arch.Lock{}

	s, err := sched.New(port, lock, priorityMax)
	require.NoError(t, err)
	te, err := timer.NewEngine(lock, 1000)
	require.NoError(t, err)
	tm, err := thread.NewManager(s, te, lock, port, kernlog.Discard())
	require.NoError(t, err)

	h := &harness{t: t, port: port, lock: lock, sched: s, timers: te, threads: tm, stop: make(chan struct{})}

	idle, err := tm.Init("idle", h.idleLoop, make([]byte, 256), idlePriority, 10)
	require.NoError(t, err)
	h.idle = idle
	require.NoError(t, tm.Startup(idle))

	t.Cleanup(func() {
		close(h.stop)
		port.Shutdown()
	})

	go s.Start()
	return h
}

func (h *harness) idleLoop() {
	for {
		select {
		case <-h.stop:
			return
		default:
		}
		h.sched.Switch()
		time.Sleep(time.Millisecond)
	}
}

// spawn starts a new thread running body and returns it. body typically
// blocks on an IPC call and reports its outcome over a channel the test
// owns; it can recover its own *thread.Thread via h.self() once
// scheduled, since s.Current() is only ever read from the goroutine
// that a prior Switch/Start just resumed into (see sched.Scheduler).
func (h *harness) spawn(name string, priority int, body func()) *thread.Thread {
	h.t.Helper()
	th, err := h.threads.Init(name, body, make([]byte, 256), priority, 10)
	require.NoError(h.t, err)
	require.NoError(h.t, h.threads.Startup(th))
	return th
}

// self returns the *thread.Thread currently running, for use from
// inside a spawned thread's body.
func (h *harness) self() *thread.Thread {
	return h.sched.Current().(*thread.Thread)
}

func (h *harness) tickN(n int) {
	for i := 0; i < n; i++ {
		h.timers.Increment()
		h.threads.TickHook()
		h.timers.Check()
		time.Sleep(time.Millisecond)
	}
}

func requireSoon(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal(msg)
	}
}

// spinUntilClosed cooperatively yields the calling thread's own
// goroutine until ch is closed. Call this ONLY from inside a spawned
// thread's body: the kernel model here is a single logical CPU passed
// between goroutines by Scheduler.Switch, so a thread that blocks on a
// plain Go channel instead of cooperatively yielding would stall every
// other thread (including the idle filler) until it unblocks.
func (h *harness) spinUntilClosed(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
			return
		default:
		}
		h.sched.Switch()
		time.Sleep(time.Millisecond)
	}
}

// spinFor cooperatively yields the calling thread's own goroutine for a
// fixed number of rounds, for tests that need the rest of the system to
// make progress but have no natural signal to wait on.
func (h *harness) spinFor(rounds int) {
	for i := 0; i < rounds; i++ {
		h.sched.Switch()
		time.Sleep(time.Millisecond)
	}
}

// waitErr waits for a result on ch, failing the test if none arrives
// within a generous bound (blocking IPC tests only make progress as
// fast as the idle loop's Switch/tick cadence, which is real wall-clock
// time in this host port).
func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return nil
	}
}
