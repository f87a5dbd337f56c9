// Package sched implements the ready-bitmap, per-priority-queue
// scheduler: spec.md §4.3. It knows nothing about thread lifecycle,
// timers, or IPC — it only knows how to queue, dequeue, and switch
// between Schedulable values, the same separation
// original_source/src/scheduler.c draws from thread.c and ipc.c.
package sched

import (
	"github.com/nanort/nanort/arch"
	"github.com/nanort/nanort/kerrors"
	"github.com/nanort/nanort/list"
)

// Status is a thread's lifecycle state, spec.md §6's status-flags
// enumeration. Defined here (rather than in package thread) because the
// scheduler itself reads and writes the RUNNING/READY transition; thread
// imports sched for this type instead of the other way around, keeping
// the dependency graph a straight line: sched -> thread -> ipc.
type Status uint8

const (
	StatusInit       Status = 0x80
	StatusReady      Status = 0x01
	StatusSuspend    Status = 0x02
	StatusTerminated Status = 0x08
	StatusRunning    Status = 0x10
	StatusDeleted    Status = 0x20
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusReady:
		return "READY"
	case StatusSuspend:
		return "SUSPEND"
	case StatusTerminated:
		return "TERMINATED"
	case StatusRunning:
		return "RUNNING"
	case StatusDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// Schedulable is anything the scheduler can queue and dispatch: a
// current priority, a status it can read and set, the opaque stack
// pointer the architecture port switches to, and the one intrusive link
// node shared between the ready queue and any IPC wait list (spec.md
// §3: "a thread is in at most one such list at any time").
type Schedulable interface {
	Priority() int
	Status() Status
	SetStatus(Status)
	ResetSlice()
	StackPtr() *arch.StackPointer
	Link() *list.Node[Schedulable]
}

// Mask returns the ready-bitmap bit corresponding to priority p.
func Mask(p int) uint32 { return 1 << uint(p) }

// Scheduler holds the ready bitmap and per-priority FIFO queues for a
// single kernel instance. All mutating methods are safe to call from
// any goroutine: they take lock for the duration of the state mutation
// and release it before invoking the architecture port's switch
// primitives, matching spec.md §5's "critical sections must be short;
// ...the actual context switch run outside it."
type Scheduler struct {
	lock        *arch.Lock
	port        arch.Port
	priorityMax int
	queues      []list.Node[Schedulable]
	bitmap      uint32
	current     Schedulable

	onSwitch func()
}

// New constructs a Scheduler for priorityMax priority levels (0 is
// highest), sharing lock and port with the rest of the kernel instance.
func New(port arch.Port, lock *arch.Lock, priorityMax int) (*Scheduler, error) {
	if port == nil || lock == nil {
		return nil, kerrors.ErrNull
	}
	if priorityMax <= 0 || priorityMax > 32 {
		return nil, kerrors.ErrInvalid
	}

	s := &Scheduler{
		port:        port,
		lock:        lock,
		priorityMax: priorityMax,
		queues:      make([]list.Node[Schedulable], priorityMax),
	}
	for i := range s.queues {
		s.queues[i].Init()
	}
	return s, nil
}

// PriorityMax returns the number of priority levels this scheduler was
// constructed with.
func (s *Scheduler) PriorityMax() int { return s.priorityMax }

// Lock returns the shared interrupt-mask lock, so callers composing
// multi-step operations (thread sleep, IPC suspend) can hold it across
// several Scheduler/Timer calls atomically instead of taking and
// releasing it once per call.
func (s *Scheduler) Lock() *arch.Lock { return s.lock }

// Current returns the currently RUNNING Schedulable, or nil before Start
// has been called.
func (s *Scheduler) Current() Schedulable { return s.current }

// SetSwitchHook installs fn to run after every actual thread change
// performed by Switch (never on Switch's no-op paths, and never from
// Start's first dispatch). nil disables the hook. Kernel uses this to
// drive the heartbeat GPIO from the one place a real context hand-off
// happens, instead of unconditionally once per tick.
func (s *Scheduler) SetSwitchHook(fn func()) {
	mask := s.lock.Disable()
	s.onSwitch = fn
	s.lock.Enable(mask)
}

// Insert appends t to the tail of its priority's ready queue and sets
// the corresponding ready-bitmap bit. The caller guarantees t is not
// already queued anywhere.
func (s *Scheduler) Insert(t Schedulable) {
	mask := s.lock.Disable()
	defer s.lock.Enable(mask)
	s.insertLocked(t)
}

func (s *Scheduler) insertLocked(t Schedulable) {
	s.queues[t.Priority()].InsertBefore(t.Link())
	s.bitmap |= Mask(t.Priority())
}

// Remove unlinks t from whatever ready queue it is in and clears the
// bitmap bit if that queue is now empty.
func (s *Scheduler) Remove(t Schedulable) {
	mask := s.lock.Disable()
	defer s.lock.Enable(mask)
	s.removeLocked(t)
}

func (s *Scheduler) removeLocked(t Schedulable) {
	t.Link().Remove()
	if s.queues[t.Priority()].Empty() {
		s.bitmap &^= Mask(t.Priority())
	}
}

func (s *Scheduler) highestReadyLocked() Schedulable {
	idx := s.port.FFS(s.bitmap) - 1
	if idx < 0 {
		return nil
	}
	head := &s.queues[idx]
	if head.Empty() {
		return nil
	}
	return head.Next().Value
}

// Start selects the highest-priority ready thread, marks it RUNNING with
// a freshly reloaded time slice, and performs the architecture port's
// first switch into it. Never returns. Panics if no thread is ready —
// callers must always have at least the idle thread ready before
// starting the scheduler.
func (s *Scheduler) Start() {
	mask := s.lock.Disable()
	next := s.highestReadyLocked()
	if next == nil {
		s.lock.Enable(mask)
		panic("sched: Start called with no ready thread")
	}
	next.SetStatus(StatusRunning)
	next.ResetSlice()
	s.current = next
	s.lock.Enable(mask)

	s.port.FirstSwitch(next.StackPtr())
}

// Switch recomputes the highest-priority ready thread and, if it differs
// from the currently running one, performs the hand-off. A no-op if the
// current thread is already the highest-priority ready thread.
func (s *Scheduler) Switch() {
	mask := s.lock.Disable()
	next := s.highestReadyLocked()
	if next == nil {
		s.lock.Enable(mask)
		return
	}
	// next == s.current only means "no one of higher priority is ready
	// yet"; it's only a true no-op if that same Schedulable is already
	// RUNNING. A restarted thread can reuse its *Thread identity while
	// genuinely needing a fresh switch into its rebuilt stack.
	if next == s.current && next.Status() == StatusRunning {
		s.lock.Enable(mask)
		return
	}

	prev := s.current
	if prev != nil && prev.Status() == StatusRunning {
		prev.SetStatus(StatusReady)
	}
	next.SetStatus(StatusRunning)
	s.current = next
	hook := s.onSwitch
	s.lock.Enable(mask)

	// Fire at the tail of the decision to switch, not after next has run
	// and control eventually returns here — NormalSwitch blocks until
	// prev is resumed again, which could be an arbitrarily long time
	// later and would misrepresent "toggled on this switch."
	if hook != nil {
		hook()
	}

	var prevSP *arch.StackPointer
	if prev != nil {
		prevSP = prev.StackPtr()
	}
	s.port.NormalSwitch(prevSP, next.StackPtr())
}

// Yield rotates the running thread to the tail of its own priority
// queue (a no-op if it is alone at that priority) and then attempts a
// Switch. Every return path restores the interrupt mask before this
// function returns, including the solitary-thread no-op path (spec.md
// §9 flags a source path that skipped this).
func (s *Scheduler) Yield() {
	mask := s.lock.Disable()
	cur := s.current
	queue := &s.queues[cur.Priority()]
	solo := queue.Next() == cur.Link()
	if !solo {
		cur.Link().Remove()
		queue.InsertBefore(cur.Link())
	}
	s.lock.Enable(mask)

	if solo {
		return
	}
	s.Switch()
}
