package ipc

import (
	"github.com/nanort/nanort/arch"
	"github.com/nanort/nanort/kerrors"
	"github.com/nanort/nanort/list"
	"github.com/nanort/nanort/sched"
	"github.com/nanort/nanort/thread"
	"github.com/nanort/nanort/timer"
)

// SemValueMax caps a semaphore's count, mirroring SEM_VALUE_MAX in the
// source this is grounded on.
const SemValueMax = 0xFFFF

// Semaphore is a counting semaphore with FIFO or priority-ordered
// waiters, grounded on s_sem_init/s_sem_take/s_sem_release/s_sem_delete
// in original_source/src/ipc.c.
type Semaphore struct {
	lock    *arch.Lock
	sched   *sched.Scheduler
	timers  *timer.Engine
	threads *thread.Manager
	waiters list.Node[sched.Schedulable]
	order   WaitOrder
	count   uint16
	alive   bool
}

// NewSemaphore constructs a Semaphore with the given initial count and
// wait ordering, sharing the kernel instance's scheduler, timer engine,
// thread manager, and lock.
func NewSemaphore(s *sched.Scheduler, timers *timer.Engine, threads *thread.Manager, lock *arch.Lock, value uint16, order WaitOrder) (*Semaphore, error) {
	if s == nil || timers == nil || threads == nil || lock == nil {
		return nil, kerrors.ErrNull
	}
	sem := &Semaphore{
		lock:    lock,
		sched:   s,
		timers:  timers,
		threads: threads,
		order:   order,
		count:   value,
		alive:   true,
	}
	sem.waiters.Init()
	return sem, nil
}

// Delete wakes every waiter (they will observe ErrDeleted, see Take) and
// marks the semaphore dead. Safe to call more than once.
func (sem *Semaphore) Delete() error {
	mask := sem.lock.Disable()
	needSchedule := resumeAll(sem.threads, &sem.waiters)
	sem.count = 0
	sem.alive = false
	sem.lock.Enable(mask)

	if needSchedule {
		sem.sched.Switch()
	}
	return nil
}

// Take acquires the semaphore on behalf of self, blocking according to
// timeoutTick: 0 never blocks, a negative value blocks indefinitely, a
// positive value blocks for up to that many ticks before returning
// ErrTimeout.
func (sem *Semaphore) Take(self *thread.Thread, timeoutTick int32) error {
	mask := sem.lock.Disable()
	if !sem.alive {
		sem.lock.Enable(mask)
		return kerrors.ErrDeleted
	}
	if sem.count > 0 {
		sem.count--
		sem.lock.Enable(mask)
		return nil
	}
	if timeoutTick == 0 {
		sem.lock.Enable(mask)
		return kerrors.ErrBusy
	}

	suspend(sem.sched, &sem.waiters, self, sem.order)
	if timeoutTick > 0 {
		armTimeout(sem.timers, self, uint32(timeoutTick))
	}
	sem.lock.Enable(mask)

	sem.sched.Switch()

	mask = sem.lock.Disable()
	defer sem.lock.Enable(mask)
	if !sem.alive {
		return kerrors.ErrDeleted
	}
	if timeoutTick > 0 {
		stopTimeout(sem.timers, self)
	}
	if sem.count > 0 {
		sem.count--
		return nil
	}
	return kerrors.ErrTimeout
}

// Release increments the count (failing with ErrBusy at SemValueMax)
// and wakes the thread at the head of the wait list, if any: the
// longest-waiting one under OrderFIFO, the highest-priority one under
// OrderPriority.
func (sem *Semaphore) Release() error {
	mask := sem.lock.Disable()
	if !sem.alive {
		sem.lock.Enable(mask)
		return kerrors.ErrDeleted
	}
	if sem.count >= SemValueMax {
		sem.lock.Enable(mask)
		return kerrors.ErrBusy
	}
	sem.count++

	needSchedule := false
	if !sem.waiters.Empty() {
		node := sem.waiters.Next()
		node.Remove()
		t := node.Value.(*thread.Thread)
		if err := sem.threads.Resume(t); err == nil {
			needSchedule = true
		}
	}
	sem.lock.Enable(mask)

	if needSchedule {
		sem.sched.Switch()
	}
	return nil
}

// Count returns the current available count (not a stable snapshot
// under concurrent access; intended for diagnostics and tests).
func (sem *Semaphore) Count() uint16 {
	mask := sem.lock.Disable()
	defer sem.lock.Enable(mask)
	return sem.count
}
