// Package thread implements the thread control block and the manager
// that drives its lifecycle, grounded on
// original_source/src/thread.c. The TCB itself satisfies
// sched.Schedulable so the scheduler can queue it without knowing
// anything about timers, stacks, or entry points.
package thread

import (
	"github.com/nanort/nanort/arch"
	"github.com/nanort/nanort/kerrors"
	"github.com/nanort/nanort/kernlog"
	"github.com/nanort/nanort/list"
	"github.com/nanort/nanort/sched"
	"github.com/nanort/nanort/timer"
)

// Thread is a kernel thread control block. The zero value is not
// usable; construct one through Manager.Init.
type Thread struct {
	name            string
	entry           func()
	stack           []byte
	initPriority    int
	currentPriority int
	initTick        uint32
	remainingTick   uint32
	status          sched.Status
	sp              *arch.StackPointer
	link            list.Node[sched.Schedulable]
	sleepTimer      *timer.Timer
}

// Name returns the thread's diagnostic name.
func (t *Thread) Name() string { return t.name }

// InitPriority returns the priority the thread was created or last
// restarted with, before any priority-inheritance boost.
func (t *Thread) InitPriority() int { return t.initPriority }

// Priority implements sched.Schedulable.
func (t *Thread) Priority() int { return t.currentPriority }

// Status implements sched.Schedulable.
func (t *Thread) Status() sched.Status { return t.status }

// SetStatus implements sched.Schedulable.
func (t *Thread) SetStatus(s sched.Status) { t.status = s }

// ResetSlice implements sched.Schedulable, reloading the round-robin
// time slice from the thread's configured tick count.
func (t *Thread) ResetSlice() { t.remainingTick = t.initTick }

// StackPtr implements sched.Schedulable.
func (t *Thread) StackPtr() *arch.StackPointer { return t.sp }

// Link implements sched.Schedulable. The same node is reused across the
// ready queue, an IPC wait list, and the defunct list, in whichever of
// the three the thread currently belongs to — mirroring thread->tlist's
// single reused link field in the source this is grounded on.
func (t *Thread) Link() *list.Node[sched.Schedulable] { return &t.link }

// SleepTimer returns the thread's own timer, reused by package ipc to
// arm wait timeouts exactly the way s_sem_take/s_mutex_take/
// s_msgqueue_send_wait reuse thread->timer instead of allocating a
// separate one per blocking call.
func (t *Thread) SleepTimer() *timer.Timer { return t.sleepTimer }

// Manager owns thread lifecycle transitions: creation, startup, sleep,
// suspend, exit, delete, restart, and the ctrl get/set operations.
// Grounded on original_source/src/thread.c, generalized so multiple
// kernel instances (e.g. in tests) don't share package-level state the
// way the C source's externs do.
type Manager struct {
	sched   *sched.Scheduler
	timers  *timer.Engine
	lock    *arch.Lock
	port    arch.Port
	log     *kernlog.Logger
	defunct list.Node[sched.Schedulable]
}

// NewManager constructs a Manager sharing the scheduler, timer engine,
// lock, and architecture port of a single kernel instance.
func NewManager(s *sched.Scheduler, timers *timer.Engine, lock *arch.Lock, port arch.Port, log *kernlog.Logger) (*Manager, error) {
	if s == nil || timers == nil || lock == nil || port == nil {
		return nil, kerrors.ErrNull
	}
	m := &Manager{sched: s, timers: timers, lock: lock, port: port, log: log}
	m.defunct.Init()
	return m, nil
}

// Init allocates and validates a new Thread in the INIT state: entry
// must be non-nil, stack non-empty, priority within the scheduler's
// configured range, and tick non-zero — the same checks s_thread_init
// performs before _s_thread_init touches any field.
func (m *Manager) Init(name string, entry func(), stack []byte, priority int, tick uint32) (*Thread, error) {
	if entry == nil {
		return nil, kerrors.ErrNull
	}
	if len(stack) == 0 {
		return nil, kerrors.ErrNull
	}
	if priority < 0 || priority >= m.sched.PriorityMax() {
		return nil, kerrors.ErrInvalid
	}
	if tick == 0 {
		return nil, kerrors.ErrInvalid
	}

	t := &Thread{
		name:            name,
		entry:           entry,
		stack:           stack,
		initPriority:    priority,
		currentPriority: priority,
		initTick:        tick,
		remainingTick:   tick,
		status:          sched.StatusInit,
	}
	t.link.Init()
	t.link.Value = t

	sleepTimer, err := timer.New(func() { m.wakeFromSleep(t) }, tick)
	if err != nil {
		return nil, err
	}
	t.sleepTimer = sleepTimer

	sp, err := m.port.StackInit(func() { entry(); m.Exit() }, stack)
	if err != nil {
		return nil, err
	}
	t.sp = sp

	m.log.Debug("thread initialized", "name", name, "priority", priority, "tick", tick)
	return t, nil
}

// Startup transitions t from INIT (or a restart's READY pre-set) into
// the ready queue at its init priority with a fresh time slice.
func (m *Manager) Startup(t *Thread) error {
	if t == nil {
		return kerrors.ErrNull
	}
	if t.status == sched.StatusDeleted {
		return kerrors.ErrGeneric
	}

	mask := m.lock.Disable()
	t.currentPriority = t.initPriority
	t.status = sched.StatusReady
	t.remainingTick = t.initTick
	m.sched.Insert(t)
	m.lock.Enable(mask)

	m.log.Debug("thread started", "name", t.name)
	return nil
}

// Sleep removes t from the ready queue, arms its sleep timer for tick
// ticks, and switches away. t must be the currently running thread;
// callers invoke this synchronously from within the thread's own body.
func (m *Manager) Sleep(t *Thread, tick uint32) {
	mask := m.lock.Disable()
	m.sched.Remove(t)
	t.status = sched.StatusSuspend
	m.timers.Stop(t.sleepTimer)
	t.sleepTimer.SetDuration(tick)
	m.timers.Start(t.sleepTimer)
	m.lock.Enable(mask)

	m.sched.Switch()
}

// wakeFromSleep is the sleep timer's expiration callback: the Go
// analogue of timeout_function in original_source/src/timer.c. It runs
// on whatever goroutine is executing timer.Engine.Check at the time,
// outside that engine's lock, so the Insert/Switch pair below is free to
// take the shared kernel lock itself without nesting into a caller that
// already holds it.
func (m *Manager) wakeFromSleep(t *Thread) {
	mask := m.lock.Disable()
	// A timeout on a blocking IPC wait fires this same timer while t is
	// still linked into that primitive's wait list, not the ready queue;
	// Remove is safe to call regardless of which list currently holds
	// the node (or none, for a plain Sleep) since it only ever touches
	// its own prev/next.
	t.link.Remove()
	t.status = sched.StatusReady
	m.sched.Insert(t)
	m.lock.Enable(mask)

	m.sched.Switch()
}

// Suspend removes t from the ready queue without arming any timer; only
// an explicit Resume (or a priority-inheriting IPC wake) brings it back.
func (m *Manager) Suspend(t *Thread) error {
	if t == nil {
		return kerrors.ErrNull
	}

	mask := m.lock.Disable()
	m.sched.Remove(t)
	t.status = sched.StatusSuspend
	m.lock.Enable(mask)
	return nil
}

// Resume reinserts a SUSPEND thread into the ready queue. Used by IPC
// primitives (semaphore release, mutex release, message arrival) to wake
// a waiter that isn't using the sleep timer.
func (m *Manager) Resume(t *Thread) error {
	if t == nil {
		return kerrors.ErrNull
	}

	mask := m.lock.Disable()
	defer m.lock.Enable(mask)
	if t.status != sched.StatusSuspend {
		return kerrors.ErrGeneric
	}
	t.status = sched.StatusReady
	m.sched.Insert(t)
	return nil
}

// Exit terminates the currently running thread and switches away. Once
// it has switched away it does not return: the architecture port's
// NormalSwitch parks the calling goroutine until Shutdown, since no one
// resumes a TERMINATED thread. It does return without switching when the
// current thread is not a *Thread or when no other thread is ready.
func (m *Manager) Exit() {
	cur := m.sched.Current()
	t, ok := cur.(*Thread)
	if !ok {
		return
	}

	mask := m.lock.Disable()
	m.sched.Remove(t)
	m.timers.Stop(t.sleepTimer)
	t.status = sched.StatusTerminated
	m.defunct.InsertBefore(t.Link())
	m.lock.Enable(mask)

	m.log.Debug("thread exited", "name", t.name)
	m.sched.Switch()
}

// Delete marks t TERMINATED and queues it for reclamation by
// CleanupDefunct. Idempotent once already TERMINATED; an error once
// already DELETED. Unlike Exit, this targets a thread other than the
// caller, so (unlike s_thread_delete in the source, which performs this
// sequence without taking the IRQ lock) this implementation holds the
// shared lock across the whole remove/stop/mark sequence: the source's
// version is safe only because nothing else can run between those steps
// on a single core, and this port's tick source is a genuinely
// concurrent goroutine.
func (m *Manager) Delete(t *Thread) error {
	if t == nil {
		return kerrors.ErrNull
	}
	if t.status == sched.StatusTerminated {
		return nil
	}
	if t.status == sched.StatusDeleted {
		return kerrors.ErrGeneric
	}

	mask := m.lock.Disable()
	m.sched.Remove(t)
	m.timers.Stop(t.sleepTimer)
	t.status = sched.StatusTerminated
	m.defunct.InsertBefore(t.Link())
	m.lock.Enable(mask)
	return nil
}

// CleanupDefunct drains the defunct list, marking every TERMINATED
// thread on it DELETED. Intended to run on the idle thread, the same
// role s_cleanup_defunct_threads plays in the source.
func (m *Manager) CleanupDefunct() {
	mask := m.lock.Disable()
	defer m.lock.Enable(mask)

	for m.defunct.Next() != &m.defunct {
		node := m.defunct.Next()
		t := node.Value.(*Thread)
		t.status = sched.StatusDeleted
		node.Remove()
	}
}

// Restart reinitializes a DELETED thread's stack and timer in place and
// starts it again, preserving its identity (same *Thread value, same
// name) for any caller still holding a reference.
func (m *Manager) Restart(t *Thread) error {
	if t == nil {
		return kerrors.ErrNull
	}
	if t.status != sched.StatusDeleted {
		return kerrors.ErrGeneric
	}

	mask := m.lock.Disable()
	t.link.Remove()
	m.lock.Enable(mask)

	sp, err := m.port.StackInit(func() { t.entry(); m.Exit() }, t.stack)
	if err != nil {
		return err
	}
	t.sp = sp
	t.sleepTimer.SetDuration(t.initTick)

	t.status = sched.StatusReady
	return m.Startup(t)
}

// CtrlCmd selects the operation Ctrl performs.
type CtrlCmd int

const (
	CtrlGetStatus CtrlCmd = iota
	CtrlGetPriority
	CtrlSetPriority
)

// Ctrl implements the get/set status and priority operations
// s_thread_ctrl exposes. Unlike the source (which updates number_mask in
// place without relocating a queued thread), CtrlSetPriority removes and
// reinserts t when it is currently READY or RUNNING (both are linked in
// the ready queue), so the ready-bitmap and queue stay consistent with
// the new priority.
func (m *Manager) Ctrl(t *Thread, cmd CtrlCmd, arg int) (int, error) {
	if t == nil {
		return 0, kerrors.ErrNull
	}

	switch cmd {
	case CtrlGetStatus:
		return int(t.status), nil
	case CtrlGetPriority:
		return t.currentPriority, nil
	case CtrlSetPriority:
		if arg < 0 || arg >= m.sched.PriorityMax() {
			return 0, kerrors.ErrInvalid
		}
		mask := m.lock.Disable()
		wasReady := t.status == sched.StatusReady || t.status == sched.StatusRunning
		if wasReady {
			m.sched.Remove(t)
		}
		t.currentPriority = arg
		if wasReady {
			m.sched.Insert(t)
		}
		m.lock.Enable(mask)
		return 0, nil
	default:
		return 0, kerrors.ErrUnsupported
	}
}

// TickHook implements the thread-manager half of s_tick_increase:
// decrementing the running thread's remaining time slice and yielding
// once it is exhausted. kernel.Tick calls this between
// timer.Engine.Increment and timer.Engine.Check, matching the source's
// exact ordering.
func (m *Manager) TickHook() {
	cur := m.sched.Current()
	t, ok := cur.(*Thread)
	if !ok {
		return
	}

	mask := m.lock.Disable()
	t.remainingTick--
	exhausted := t.remainingTick == 0
	if exhausted {
		t.remainingTick = t.initTick
	}
	m.lock.Enable(mask)

	if exhausted {
		m.sched.Yield()
	}
}
