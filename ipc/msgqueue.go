package ipc

import (
	"github.com/nanort/nanort/arch"
	"github.com/nanort/nanort/kerrors"
	"github.com/nanort/nanort/list"
	"github.com/nanort/nanort/sched"
	"github.com/nanort/nanort/thread"
	"github.com/nanort/nanort/timer"
)

// MessageQueue is a bounded, fixed-slot message queue grounded on
// s_msgqueue_init/s_msgqueue_send_wait/s_msgqueue_urgent/
// s_msgqueue_recv/s_msgqueue_delete in
// original_source/src/ipc.c. The source manages its own fixed memory
// pool with a hand-rolled singly-linked free list over caller-supplied
// storage; this port keeps the "no allocation once built" property
// without pointer arithmetic by preallocating maxMsgs fixed-size
// []byte slots up front and tracking free/occupied slots by index.
//
// Per-call blocking timeouts are accounted against a single startTick
// sampled once per call and never rebased (spec.md §9: the source
// recomputes elapsed time and rebases start_tick on every retry
// iteration, which accumulates rounding error across spurious wakes;
// this keeps one fixed reference point for the whole call).
type MessageQueue struct {
	lock        *arch.Lock
	sched       *sched.Scheduler
	timers      *timer.Engine
	threads     *thread.Manager
	recvWaiters list.Node[sched.Schedulable]
	sendWaiters list.Node[sched.Schedulable]
	order       WaitOrder

	msgSize int
	maxMsgs int
	pool    [][]byte
	msgLen  []int
	free    []int

	occupied []int
	occHead  int
	occCount int

	alive bool
}

// NewMessageQueue constructs a MessageQueue holding up to maxMsgs
// messages of up to msgSize bytes each.
func NewMessageQueue(s *sched.Scheduler, timers *timer.Engine, threads *thread.Manager, lock *arch.Lock, msgSize, maxMsgs int, order WaitOrder) (*MessageQueue, error) {
	if s == nil || timers == nil || threads == nil || lock == nil {
		return nil, kerrors.ErrNull
	}
	if msgSize <= 0 || maxMsgs <= 0 {
		return nil, kerrors.ErrInvalid
	}

	mq := &MessageQueue{
		lock:     lock,
		sched:    s,
		timers:   timers,
		threads:  threads,
		order:    order,
		msgSize:  msgSize,
		maxMsgs:  maxMsgs,
		pool:     make([][]byte, maxMsgs),
		msgLen:   make([]int, maxMsgs),
		free:     make([]int, 0, maxMsgs),
		occupied: make([]int, maxMsgs),
		alive:    true,
	}
	for i := 0; i < maxMsgs; i++ {
		mq.pool[i] = make([]byte, msgSize)
		mq.free = append(mq.free, i)
	}
	mq.recvWaiters.Init()
	mq.sendWaiters.Init()
	return mq, nil
}

func (mq *MessageQueue) pushBack(idx int) {
	pos := (mq.occHead + mq.occCount) % mq.maxMsgs
	mq.occupied[pos] = idx
	mq.occCount++
}

func (mq *MessageQueue) pushFront(idx int) {
	mq.occHead = (mq.occHead - 1 + mq.maxMsgs) % mq.maxMsgs
	mq.occupied[mq.occHead] = idx
	mq.occCount++
}

func (mq *MessageQueue) popFront() int {
	idx := mq.occupied[mq.occHead]
	mq.occHead = (mq.occHead + 1) % mq.maxMsgs
	mq.occCount--
	return idx
}

func (mq *MessageQueue) takeFreeSlot(buf []byte) int {
	idx := mq.free[len(mq.free)-1]
	mq.free = mq.free[:len(mq.free)-1]
	copy(mq.pool[idx], buf)
	mq.msgLen[idx] = len(buf)
	return idx
}

// Delete wakes every sender and receiver waiter and resets the pool to
// fully free.
func (mq *MessageQueue) Delete() error {
	mask := mq.lock.Disable()
	needSchedule := resumeAll(mq.threads, &mq.recvWaiters)
	if resumeAll(mq.threads, &mq.sendWaiters) {
		needSchedule = true
	}

	mq.occHead = 0
	mq.occCount = 0
	mq.free = mq.free[:0]
	for i := 0; i < mq.maxMsgs; i++ {
		mq.free = append(mq.free, i)
	}
	mq.alive = false
	mq.lock.Enable(mask)

	if needSchedule {
		mq.sched.Switch()
	}
	return nil
}

// Send is the non-blocking wrapper around SendWait.
func (mq *MessageQueue) Send(buf []byte) error {
	return mq.SendWait(nil, buf, 0)
}

// SendWait enqueues buf at the tail, blocking according to timeoutTick
// (0 = no wait, <0 = wait forever, >0 = tick timeout) while the pool is
// full. self may be nil when timeoutTick is 0, since that path never
// blocks.
func (mq *MessageQueue) SendWait(self *thread.Thread, buf []byte, timeoutTick int32) error {
	if len(buf) == 0 || len(buf) > mq.msgSize {
		return kerrors.ErrInvalid
	}

	var startTick uint32
	haveStart := false
	remaining := timeoutTick
	armed := false

	for {
		mask := mq.lock.Disable()
		if !mq.alive {
			mq.lock.Enable(mask)
			return kerrors.ErrDeleted
		}

		if len(mq.free) > 0 {
			idx := mq.takeFreeSlot(buf)
			mq.pushBack(idx)
			if armed {
				stopTimeout(mq.timers, self)
			}

			needSchedule := mq.wakeOneLocked(&mq.recvWaiters)
			mq.lock.Enable(mask)
			if needSchedule {
				mq.sched.Switch()
			}
			return nil
		}

		if remaining == 0 {
			mq.lock.Enable(mask)
			return kerrors.ErrBusy
		}

		suspend(mq.sched, &mq.sendWaiters, self, mq.order)
		if remaining > 0 {
			if !haveStart {
				startTick = mq.timers.Tick()
				haveStart = true
			}
			armTimeout(mq.timers, self, uint32(remaining))
			armed = true
		}
		mq.lock.Enable(mask)

		mq.sched.Switch()

		if !mq.isAlive() {
			return kerrors.ErrDeleted
		}
		if remaining > 0 {
			next, timedOut := nextRemaining(mq.timers, startTick, timeoutTick)
			if timedOut {
				return kerrors.ErrTimeout
			}
			remaining = next
		}
	}
}

// Urgent enqueues buf at the head (non-blocking): the next Recv sees it
// before any message already queued.
func (mq *MessageQueue) Urgent(buf []byte) error {
	if len(buf) == 0 || len(buf) > mq.msgSize {
		return kerrors.ErrInvalid
	}

	mask := mq.lock.Disable()
	if !mq.alive {
		mq.lock.Enable(mask)
		return kerrors.ErrDeleted
	}
	if len(mq.free) == 0 {
		mq.lock.Enable(mask)
		return kerrors.ErrBusy
	}

	idx := mq.takeFreeSlot(buf)
	mq.pushFront(idx)

	needSchedule := mq.wakeOneLocked(&mq.recvWaiters)
	mq.lock.Enable(mask)
	if needSchedule {
		mq.sched.Switch()
	}
	return nil
}

// Recv dequeues the head message into buf, returning the number of
// bytes copied. Blocks according to timeoutTick like SendWait.
func (mq *MessageQueue) Recv(self *thread.Thread, buf []byte, timeoutTick int32) (int, error) {
	if len(buf) == 0 {
		return 0, kerrors.ErrInvalid
	}

	var startTick uint32
	haveStart := false
	remaining := timeoutTick
	armed := false

	for {
		mask := mq.lock.Disable()
		if !mq.alive {
			mq.lock.Enable(mask)
			return 0, kerrors.ErrDeleted
		}

		if mq.occCount > 0 {
			idx := mq.popFront()
			n := mq.msgLen[idx]
			if len(buf) < n {
				n = len(buf)
			}
			copy(buf, mq.pool[idx][:n])
			mq.free = append(mq.free, idx)
			if armed {
				stopTimeout(mq.timers, self)
			}

			needSchedule := mq.wakeOneLocked(&mq.sendWaiters)
			mq.lock.Enable(mask)
			if needSchedule {
				mq.sched.Switch()
			}
			return n, nil
		}

		if remaining == 0 {
			mq.lock.Enable(mask)
			return 0, kerrors.ErrBusy
		}

		suspend(mq.sched, &mq.recvWaiters, self, mq.order)
		if remaining > 0 {
			if !haveStart {
				startTick = mq.timers.Tick()
				haveStart = true
			}
			armTimeout(mq.timers, self, uint32(remaining))
			armed = true
		}
		mq.lock.Enable(mask)

		mq.sched.Switch()

		if !mq.isAlive() {
			return 0, kerrors.ErrDeleted
		}
		if remaining > 0 {
			next, timedOut := nextRemaining(mq.timers, startTick, timeoutTick)
			if timedOut {
				return 0, kerrors.ErrTimeout
			}
			remaining = next
		}
	}
}

func (mq *MessageQueue) isAlive() bool {
	mask := mq.lock.Disable()
	defer mq.lock.Enable(mask)
	return mq.alive
}

// wakeOneLocked wakes the head of waiters, if any. Caller holds the
// lock.
func (mq *MessageQueue) wakeOneLocked(waiters *list.Node[sched.Schedulable]) bool {
	if waiters.Empty() {
		return false
	}
	node := waiters.Next()
	node.Remove()
	t := node.Value.(*thread.Thread)
	return mq.threads.Resume(t) == nil
}

// nextRemaining computes ticks left by subtracting total elapsed time
// since startTick from the call's original timeoutTick — never from a
// previously-computed remaining value, which would double-count the
// elapsed time of every retry pass before the most recent one (see
// MessageQueue's doc comment).
func nextRemaining(timers *timer.Engine, startTick uint32, timeoutTick int32) (next int32, timedOut bool) {
	elapsed := int32(timers.Tick() - startTick)
	next = timeoutTick - elapsed
	return next, next <= 0
}
