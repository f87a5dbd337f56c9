// Package ipc implements the counting semaphore, recursive
// priority-inheriting mutex, and bounded message queue: spec.md §4.5,
// grounded on original_source/src/ipc.c. All three share the same
// suspend/resume-all shape that file factors into s_ipc_suspend and
// s_ipc_list_resume_all; this file holds the Go equivalents plus the
// WaitOrder type they're parameterized on.
package ipc

import (
	"github.com/nanort/nanort/list"
	"github.com/nanort/nanort/sched"
	"github.com/nanort/nanort/thread"
	"github.com/nanort/nanort/timer"
)

// WaitOrder selects how a blocked thread is inserted into an IPC
// primitive's wait list.
type WaitOrder uint8

const (
	// OrderFIFO appends arriving waiters to the tail: first blocked,
	// first woken.
	OrderFIFO WaitOrder = iota
	// OrderPriority inserts ahead of any waiter of strictly lower
	// priority (a higher current_priority value), so the highest
	// priority waiter is always woken first.
	OrderPriority
)

// suspend removes self from the ready queue, marks it SUSPEND, and
// links it into waiters according to order. The caller holds the
// shared lock across this call and releases it before calling the
// scheduler's Switch.
func suspend(s *sched.Scheduler, waiters *list.Node[sched.Schedulable], self *thread.Thread, order WaitOrder) {
	s.Remove(self)
	self.SetStatus(sched.StatusSuspend)

	if order == OrderPriority {
		insertByPriority(waiters, self)
		return
	}
	waiters.InsertBefore(self.Link())
}

func insertByPriority(waiters *list.Node[sched.Schedulable], self *thread.Thread) {
	for p := waiters.Next(); p != waiters; p = p.Next() {
		candidate := p.Value.(*thread.Thread)
		if self.Priority() < candidate.Priority() {
			p.InsertBefore(self.Link())
			return
		}
	}
	waiters.InsertBefore(self.Link())
}

// resumeAll drains waiters, moving every thread on it back to READY.
// Reports whether anything was resumed, so the caller knows whether a
// Switch is worth attempting.
func resumeAll(tm *thread.Manager, waiters *list.Node[sched.Schedulable]) bool {
	resumed := false
	for waiters.Next() != waiters {
		node := waiters.Next()
		node.Remove()
		t := node.Value.(*thread.Thread)
		if err := tm.Resume(t); err == nil {
			resumed = true
		}
	}
	return resumed
}

// armTimeout (re-)starts self's own sleep timer for tick ticks, reusing
// the same timer and wake callback thread.Manager.Sleep uses, so a
// timeout firing while self is parked on an IPC wait list unlinks it
// from that list (see thread.Manager's wakeFromSleep) rather than only
// working for a plain Sleep.
func armTimeout(timers *timer.Engine, self *thread.Thread, tick uint32) {
	t := self.SleepTimer()
	t.SetDuration(tick)
	timers.Start(t)
}

// stopTimeout cancels a timeout armed by armTimeout, for the case where
// the primitive was acquired before the timer fired.
func stopTimeout(timers *timer.Engine, self *thread.Thread) {
	timers.Stop(self.SleepTimer())
}
