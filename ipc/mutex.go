package ipc

import (
	"github.com/nanort/nanort/arch"
	"github.com/nanort/nanort/kerrors"
	"github.com/nanort/nanort/list"
	"github.com/nanort/nanort/sched"
	"github.com/nanort/nanort/thread"
	"github.com/nanort/nanort/timer"
)

// MutexHoldMax caps recursive Take depth, mirroring MUTEX_HOLD_MAX in
// the source this is grounded on.
const MutexHoldMax = 0xFFFF

// noPriority is the "no saved priority" sentinel, the Go analogue of
// the source's 0xFF original_priority marker.
const noPriority = -1

// Mutex is a recursive, priority-inheriting mutex grounded on
// s_mutex_init/s_mutex_take/s_mutex_release/s_mutex_delete in
// original_source/src/ipc.c.
//
// original_priority is captured as the NEW owner's own current priority
// at the moment of an uncontested Take (spec.md §9's corrected
// semantics), not the priority of whichever thread happened to trigger
// the take — so Release always has the right value to restore even
// after one or more priority-inheritance boosts have been layered on
// top of it.
type Mutex struct {
	lock             *arch.Lock
	sched            *sched.Scheduler
	timers           *timer.Engine
	threads          *thread.Manager
	waiters          list.Node[sched.Schedulable]
	order            WaitOrder
	owner            *thread.Thread
	count            int
	hold             int
	originalPriority int
	alive            bool
}

// NewMutex constructs an unheld Mutex.
func NewMutex(s *sched.Scheduler, timers *timer.Engine, threads *thread.Manager, lock *arch.Lock, order WaitOrder) (*Mutex, error) {
	if s == nil || timers == nil || threads == nil || lock == nil {
		return nil, kerrors.ErrNull
	}
	m := &Mutex{
		lock:             lock,
		sched:            s,
		timers:           timers,
		threads:          threads,
		order:            order,
		count:            1,
		originalPriority: noPriority,
		alive:            true,
	}
	m.waiters.Init()
	return m, nil
}

// Owner returns the current owner, or nil if unheld.
func (m *Mutex) Owner() *thread.Thread {
	mask := m.lock.Disable()
	defer m.lock.Enable(mask)
	return m.owner
}

// Delete wakes every waiter and restores the owner's inherited priority
// if one is outstanding.
func (m *Mutex) Delete() error {
	mask := m.lock.Disable()
	needSchedule := resumeAll(m.threads, &m.waiters)

	if m.owner != nil && m.originalPriority != noPriority && m.owner.Priority() != m.originalPriority {
		_, _ = m.threads.Ctrl(m.owner, thread.CtrlSetPriority, m.originalPriority)
	}

	m.owner = nil
	m.count = 0
	m.hold = 0
	m.originalPriority = noPriority
	m.alive = false
	m.lock.Enable(mask)

	if needSchedule {
		m.sched.Switch()
	}
	return nil
}

// Take acquires the mutex for self, recursing if self already holds it.
// timeoutTick follows Semaphore.Take's convention (0 = no wait, <0 =
// wait forever, >0 = tick timeout).
func (m *Mutex) Take(self *thread.Thread, timeoutTick int32) error {
	for {
		mask := m.lock.Disable()
		if !m.alive {
			m.lock.Enable(mask)
			return kerrors.ErrDeleted
		}

		if m.owner == self {
			if m.hold < MutexHoldMax {
				m.hold++
				m.lock.Enable(mask)
				return nil
			}
			m.lock.Enable(mask)
			return kerrors.ErrBusy
		}

		if m.count > 0 {
			m.count--
			m.owner = self
			m.hold = 1
			m.originalPriority = self.Priority()
			m.lock.Enable(mask)
			return nil
		}

		if timeoutTick == 0 {
			m.lock.Enable(mask)
			return kerrors.ErrBusy
		}

		if m.owner != nil && self.Priority() < m.owner.Priority() {
			if m.originalPriority == noPriority {
				m.originalPriority = m.owner.Priority()
			}
			_, _ = m.threads.Ctrl(m.owner, thread.CtrlSetPriority, self.Priority())
		}

		suspend(m.sched, &m.waiters, self, m.order)
		if timeoutTick > 0 {
			armTimeout(m.timers, self, uint32(timeoutTick))
		}
		m.lock.Enable(mask)

		m.sched.Switch()

		mask = m.lock.Disable()
		if !m.alive {
			m.lock.Enable(mask)
			return kerrors.ErrDeleted
		}
		if m.owner == self {
			if timeoutTick > 0 {
				stopTimeout(m.timers, self)
			}
			m.lock.Enable(mask)
			return nil
		}
		if timeoutTick > 0 && m.count == 0 {
			m.lock.Enable(mask)
			return kerrors.ErrTimeout
		}
		m.lock.Enable(mask)
		// Spurious wake with the mutex still free: retry the take.
	}
}

// Release hands the mutex to the next waiter (if any) or frees it,
// restoring self's inherited priority either way once its hold count
// reaches zero.
func (m *Mutex) Release(self *thread.Thread) error {
	mask := m.lock.Disable()
	if !m.alive {
		m.lock.Enable(mask)
		return kerrors.ErrDeleted
	}
	if self != m.owner {
		m.lock.Enable(mask)
		return kerrors.ErrGeneric
	}

	if m.hold > 0 {
		m.hold--
	}
	if m.hold > 0 {
		m.lock.Enable(mask)
		return nil
	}

	restore := func() {
		if m.originalPriority != noPriority && self.Priority() != m.originalPriority {
			_, _ = m.threads.Ctrl(self, thread.CtrlSetPriority, m.originalPriority)
		}
	}

	needSchedule := false
	if !m.waiters.Empty() {
		node := m.waiters.Next()
		node.Remove()
		next := node.Value.(*thread.Thread)

		restore()

		m.owner = next
		m.hold = 1
		m.count = 0
		m.originalPriority = next.Priority()

		if err := m.threads.Resume(next); err == nil {
			needSchedule = true
		}
	} else {
		restore()
		m.owner = nil
		m.originalPriority = noPriority
		if m.count < 1 {
			m.count++
		}
	}
	m.lock.Enable(mask)

	if needSchedule {
		m.sched.Switch()
	}
	return nil
}
