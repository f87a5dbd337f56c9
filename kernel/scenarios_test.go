package kernel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanort/nanort/arch"
	"github.com/nanort/nanort/ipc"
	"github.com/nanort/nanort/kerrors"
	"github.com/nanort/nanort/thread"
)

// The six end-to-end scenarios below drive the real scheduler, timer
// engine, and IPC code through a manually-advanced virtual clock
// (Kernel.Tick), never a wall clock, so they are fully deterministic.
// Every spawned thread body follows the same discipline the ipc
// package's harness tests do: a brief bit of business logic, then
// immediately back into a blocking kernel call (Sleep, Take,
// SendWait...). Nothing ever busy-computes across a Tick boundary,
// which is what lets an external caller (the test's own goroutine,
// standing in for the tick ISR) safely drive the scheduler forward: the
// only thread ever actually "current" while that caller is active is
// idle, whose own loop body touches nothing but shared, lock-protected
// state.

func scenarioConfig() Config {
	cfg := DefaultConfig()
	cfg.PriorityMax = 32
	cfg.IdleStackSize = 256
	return cfg
}

func newScenarioKernel(t *testing.T) *Kernel {
	t.Helper()
	k, err := New(scenarioConfig())
	require.NoError(t, err)
	t.Cleanup(k.Shutdown)
	go k.Sched.Start()
	return k
}

// currentThread recovers the *thread.Thread for whichever goroutine
// calls it, valid only from inside a spawned thread's own body once it
// has actually been scheduled.
func currentThread(k *Kernel) *thread.Thread {
	return k.Sched.Current().(*thread.Thread)
}

// spawnCounterThread spawns a thread that loops incrementing its own
// named counter (via bump) then sleeping delay ticks, forever.
func spawnCounterThread(t *testing.T, k *Kernel, name string, prio int, delay uint32, bump func(string)) {
	t.Helper()
	_, err := k.Spawn(name, func() {
		self := currentThread(k)
		for {
			bump(name)
			k.Threads.Sleep(self, delay)
		}
	}, make([]byte, 256), prio, 10)
	require.NoError(t, err)
}

// 1. Priority/slice alternation: T1(10), T2(12), T3(15) each loop
// incrementing their own counter then Sleep(40/50/10). Over 1000 ticks,
// T1 and T3 (the shortest sleepers) dominate the ready set; T2, with
// the longest delay, runs the least.
func TestScenarioPriorityAndSliceAlternation(t *testing.T) {
	k := newScenarioKernel(t)

	var mu sync.Mutex
	counts := map[string]int{}
	bump := func(name string) {
		mu.Lock()
		counts[name]++
		mu.Unlock()
	}

	spawnCounterThread(t, k, "t1", 10, 40, bump)
	spawnCounterThread(t, k, "t2", 12, 50, bump)
	spawnCounterThread(t, k, "t3", 15, 10, bump)

	// Give the scheduler a chance to discover the three newly-ready
	// threads before the virtual clock starts advancing.
	k.Sched.Switch()

	tickN(k, 1000)

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, counts["t1"], 0, "T1 never ran")
	assert.Greater(t, counts["t3"], 0, "T3 never ran")
	assert.Greater(t, counts["t3"], counts["t1"], "T3 sleeps far less than T1 and should run more often")
	assert.GreaterOrEqual(t, counts["t1"], counts["t2"], "T2 has the longest delay of the three and must never outrun T1")
}

// 2. Mutex priority inheritance: T_low(15) takes the mutex, then sleeps
// 120 ticks five times while holding it. T_high(10) then attempts a take
// and blocks, boosting T_low's current priority to 10 (checked by tick
// 100) for the duration of the hold; on release it returns to 15.
func TestScenarioMutexInheritance(t *testing.T) {
	k := newScenarioKernel(t)
	mu, err := k.NewMutex(ipc.OrderPriority)
	require.NoError(t, err)

	const lowPrio = 15
	const highPrio = 10

	holding := make(chan struct{})
	var low *thread.Thread
	_, err = k.Spawn("low", func() {
		low = currentThread(k)
		if err := mu.Take(low, 0); err != nil {
			return
		}
		close(holding)
		for i := 0; i < 5; i++ {
			k.Threads.Sleep(low, 120)
		}
		_ = mu.Release(low)
	}, make([]byte, 256), lowPrio, 10)
	require.NoError(t, err)

	k.Sched.Switch()
	requireSoonK(t, holding, "low-priority thread never took the mutex")

	highDone := make(chan error, 1)
	_, err = k.Spawn("high", func() {
		self := currentThread(k)
		highDone <- mu.Take(self, -1)
	}, make([]byte, 256), highPrio, 10)
	require.NoError(t, err)

	tickN(k, 100)
	spinForK(k, 5)

	assert.Equal(t, highPrio, low.Priority(), "holder was not boosted to the waiter's priority by tick 100")

	tickN(k, 501)

	require.NoError(t, waitErrK(t, highDone))
	assert.Equal(t, lowPrio, low.Priority(), "holder's original priority was not restored on release")
}

// 3. Bounded message queue: capacity 3, four back-to-back sends with
// timeout=0 → first three succeed, the fourth returns ErrBusy. One Recv
// frees a slot, then Urgent(X) jumps the FIFO head so the next Recv
// returns X before the original send order resumes.
func TestScenarioMessageQueueCapacityAndUrgent(t *testing.T) {
	k := newScenarioKernel(t)
	mq, err := k.NewMessageQueue(8, 3, ipc.OrderFIFO)
	require.NoError(t, err)

	require.NoError(t, mq.Send([]byte("one")))
	require.NoError(t, mq.Send([]byte("two")))
	require.NoError(t, mq.Send([]byte("three")))
	assert.ErrorIs(t, mq.Send([]byte("four")), kerrors.ErrBusy)

	buf := make([]byte, 8)
	n, err := mq.Recv(nil, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "one", string(buf[:n]))

	require.NoError(t, mq.Urgent([]byte("X")))

	n, err = mq.Recv(nil, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "X", string(buf[:n]))

	for _, want := range []string{"two", "three"} {
		n, err := mq.Recv(nil, buf, 0)
		require.NoError(t, err)
		assert.Equal(t, want, string(buf[:n]))
	}
}

// 4. Sleep accuracy: Sleep(100) resumes at or after start+100, within
// one tick of the requested duration.
func TestScenarioSleepAccuracy(t *testing.T) {
	k := newScenarioKernel(t)

	startTick := k.Timers.Tick()
	resumeTick := make(chan uint32, 1)
	_, err := k.Spawn("sleeper", func() {
		self := currentThread(k)
		k.Threads.Sleep(self, 100)
		resumeTick <- k.Timers.Tick()
	}, make([]byte, 256), 5, 10)
	require.NoError(t, err)

	k.Sched.Switch()
	tickN(k, 105)

	got := <-resumeTick
	elapsed := got - startTick
	assert.GreaterOrEqual(t, elapsed, uint32(100))
	assert.LessOrEqual(t, elapsed, uint32(101))
}

// 5. Delete-while-waiting: T1 blocks forever on an empty semaphore; T2
// deletes it; T1's Take returns ErrDeleted.
func TestScenarioDeleteWhileWaiting(t *testing.T) {
	k := newScenarioKernel(t)
	sem, err := k.NewSemaphore(0, ipc.OrderFIFO)
	require.NoError(t, err)

	done := make(chan error, 1)
	_, err = k.Spawn("waiter", func() {
		self := currentThread(k)
		done <- sem.Take(self, -1)
	}, make([]byte, 256), 3, 10)
	require.NoError(t, err)

	spinForK(k, 5)
	require.NoError(t, sem.Delete())
	assert.ErrorIs(t, waitErrK(t, done), kerrors.ErrDeleted)
}

// 6. FFS correctness: every single-bit word 1<<k (k=0..31) maps to k+1;
// ffs(0) == 0.
func TestScenarioFFSCorrectness(t *testing.T) {
	assert.Equal(t, 0, arch.FFS(0))
	for k := 0; k < 32; k++ {
		assert.Equal(t, k+1, arch.FFS(uint32(1)<<uint(k)), "ffs(1<<%d)", k)
	}
}
