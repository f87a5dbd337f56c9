// Package arch is the architecture-port boundary the portable kernel
// relies on: stack-frame construction, the two context-switch entry
// points, nesting interrupt mask save/restore, and find-first-set. The
// real kernel this is modeled on hand-writes this layer in Cortex-M3
// assembly (see original_source/libcpu/CM3/cpuport.c); since this module
// targets development-host execution rather than real silicon, Port is
// an interface and HostPort below is the one concrete realization this
// repo ships.
package arch

import (
	"bytes"
	"math/bits"
	"runtime"
	"strconv"
	"sync"

	"github.com/nanort/nanort/kerrors"
)

// Port is the contract the scheduler and thread manager consume. Nothing
// above this package inspects a StackPointer's fields or assumes
// anything about how switches are actually carried out.
type Port interface {
	// StackInit builds a synthetic first-run context for body and
	// returns the opaque stack pointer FirstSwitch/NormalSwitch use to
	// resume it. stack is the caller-owned buffer the thread will run
	// on; it is validated but not written to need not be by name
	// contiguous machine bytes. body must not return without the
	// portable kernel having first exited the thread — in this port, body
	// is always "run the user entry, then call thread.Exit", composed as
	// a closure by the thread package (see DESIGN.md: callbacks are
	// ordinary closures here, not the source's raw fn+arg pairs).
	StackInit(body func(), stack []byte) (*StackPointer, error)

	// FirstSwitch begins execution in *next. Never returns while the
	// kernel is running; it returns only after Shutdown has been
	// called, to allow clean process exit in tests and demo binaries.
	FirstSwitch(next *StackPointer)

	// NormalSwitch saves the caller's context into prev and resumes
	// next. The scheduler calls it after releasing the Lock (see Lock
	// below): the ready-queue and current-thread updates are already
	// complete by then, so the hand-off itself touches no shared state.
	NormalSwitch(prev, next *StackPointer)

	// FFS returns the 1-based index of the least-significant set bit of
	// word, or 0 if word is zero.
	FFS(word uint32) int

	// Shutdown releases every parked thread goroutine and any goroutine
	// blocked in FirstSwitch. Used by tests and demo binaries to tear a
	// kernel down cleanly; the portable kernel itself never calls it.
	Shutdown()
}

// FFS returns the 1-based index of the least-significant set bit of
// word, or 0 if word is zero. Exposed as a free function too since it
// needs no state: find-first-set is a pure bit operation, not something
// that depends on which port realization is in use.
func FFS(word uint32) int {
	if word == 0 {
		return 0
	}
	return bits.TrailingZeros32(word) + 1
}

// StackPointer is the opaque handle the portable kernel stores per
// thread (spec.md's "saved stack pointer, opaque to portable code"). In
// the host port it wraps a parked goroutine and the channel used to
// resume it; no portable code anywhere reads resume directly.
type StackPointer struct {
	resume chan struct{}
}

func newStackPointer() *StackPointer {
	return &StackPointer{resume: make(chan struct{}, 1)}
}

func (sp *StackPointer) signalResume() {
	select {
	case sp.resume <- struct{}{}:
	default:
		// Already has a pending resume queued; a thread can only be
		// resumed once between suspensions, so this should not happen
		// in a well-behaved caller, but a duplicate signal must not
		// block the critical section that sent it.
	}
}

// HostPort is the development-host realization of Port. A thread's
// "stack pointer" becomes a goroutine parked on a channel; IRQDisable/
// IRQEnable become a nesting-aware lock (see Lock); the tick source
// that would drive a real board's SysTick is provided separately by
// TickSource (unixtick.go, tick_other.go), which calls an onTick
// callback (Kernel.Tick, in Kernel.Run) rather than going through Port.
type HostPort struct {
	shutdown chan struct{}
	once     sync.Once
}

// NewHostPort constructs a HostPort ready for use.
func NewHostPort() *HostPort {
	return &HostPort{shutdown: make(chan struct{})}
}

// StackInit validates the caller-supplied stack buffer (the host port
// never writes into it — there is no real register frame to place — but
// a nil or empty buffer is still a caller bug worth catching; no minimum
// size beyond one byte is checked) and parks body on a fresh goroutine
// until first resumed.
func (p *HostPort) StackInit(body func(), stack []byte) (*StackPointer, error) {
	if body == nil {
		return nil, kerrors.ErrNull
	}
	if len(stack) == 0 {
		return nil, kerrors.ErrInvalid
	}

	sp := newStackPointer()
	go func() {
		select {
		case <-sp.resume:
		case <-p.shutdown:
			return
		}
		body()
	}()
	return sp, nil
}

// FirstSwitch resumes next and blocks the calling goroutine (the
// kernel's boot path) until Shutdown is called.
func (p *HostPort) FirstSwitch(next *StackPointer) {
	next.signalResume()
	<-p.shutdown
}

// NormalSwitch resumes next and parks the caller until it is next
// resumed or the kernel shuts down.
func (p *HostPort) NormalSwitch(prev, next *StackPointer) {
	next.signalResume()
	select {
	case <-prev.resume:
	case <-p.shutdown:
	}
}

// FFS delegates to the package-level FFS.
func (p *HostPort) FFS(word uint32) int { return FFS(word) }

// Shutdown releases every goroutine parked in StackInit, FirstSwitch, or
// NormalSwitch. Idempotent.
func (p *HostPort) Shutdown() {
	p.once.Do(func() { close(p.shutdown) })
}

// Mask is the interrupt-nesting depth captured by Lock.Disable and
// restored by Lock.Enable — the host analogue of a saved PRIMASK value.
type Mask uint32

// Lock emulates a single-core CPU's interrupt-mask register. Disable
// nests: a thread (or the tick ISR, which is just another goroutine in
// this port) may call Disable while already holding it, and Enable must
// be called once per Disable to unwind back to the exact prior depth.
// While any depth is outstanding, every other goroutine's call to
// Disable blocks — standing in for "an interrupt source cannot run while
// interrupts are masked."
//
// Go's sync.Mutex is intentionally non-reentrant, and there is no
// portable notion of "the calling goroutine" to hang ownership off of,
// so Lock identifies the holder by parsing its goroutine id out of a
// runtime.Stack dump. This is the standard trick reached for whenever
// genuine reentrant-mutex semantics are unavoidable in Go. The sched,
// thread and ipc packages rely on that nesting: for example
// Manager.Sleep and Manager.Ctrl call Scheduler.Remove and
// Scheduler.Insert, which take the Lock again, while already holding it.
type Lock struct {
	gate  sync.Mutex
	meta  sync.Mutex
	owner uint64
	depth uint32
}

// Disable acquires the lock if not already held by the calling
// goroutine, or increments the nesting depth if it is. Returns the
// depth to restore on Enable.
func (l *Lock) Disable() Mask {
	gid := goroutineID()

	l.meta.Lock()
	if l.depth > 0 && l.owner == gid {
		saved := Mask(l.depth)
		l.depth++
		l.meta.Unlock()
		return saved
	}
	l.meta.Unlock()

	l.gate.Lock()

	l.meta.Lock()
	l.owner = gid
	l.depth = 1
	l.meta.Unlock()
	return Mask(0)
}

// Enable restores the nesting depth saved by the paired Disable call,
// releasing the underlying lock once depth returns to zero.
func (l *Lock) Enable(saved Mask) {
	l.meta.Lock()
	l.depth = uint32(saved)
	if l.depth == 0 {
		l.owner = 0
		l.meta.Unlock()
		l.gate.Unlock()
		return
	}
	l.meta.Unlock()
}

func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i >= 0 {
		field = field[:i]
	}
	id, _ := strconv.ParseUint(string(field), 10, 64)
	return id
}
