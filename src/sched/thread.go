// Package sched implements the thread scheduler: the ready queue ordered
// by effective priority, the sleep list keyed by wake tick, priority
// donation through nested lock waits, and the MLFQS statistics loop
// (spec.md §4.1).
//
// There is no portable way to context-switch a real CPU stack from Go, so
// this package follows the same substitution the teacher (biscuit) makes:
// a "thread" is a goroutine, and the scheduler hands it a baton — a
// buffered channel it parks on between turns — rather than saving and
// restoring a stack pointer. Exactly one thread's goroutine is ever
// runnable at a time; every other thread's goroutine is parked on its
// baton channel. The scheduler's dispatch mutex stands in for "interrupts
// disabled" (spec §5): every mutation of the ready list, sleep list, or
// thread-all list happens while it is held.
package sched

import "fixedpt"

// / Tid_t identifies a thread.
type Tid_t int

// / Status_t is a thread's scheduling state.
type Status_t int

const (
	Running Status_t = iota
	Ready
	Blocked
	Dying
)

// Priority range and defaults (spec §4.1 / §6).
const (
	PriMin     = 0
	PriMax     = 63
	PriDefault = 31

	NiceMin     = -20
	NiceMax     = 20
	NiceDefault = 0

	// TimeSlice is the number of ticks a thread runs before preemption.
	TimeSlice = 4

	// MaxDonationDepth bounds the priority-donation chain walk (spec §4.1
	// step 2, and the defensive cap spec §9 recommends against malformed
	// donation graphs).
	MaxDonationDepth = 8

	// NumReservedFds is the count of file-descriptor table slots reserved
	// for stdio (spec §3, Thread data model).
	NumReservedFds = 2

	// MaxOpenFiles bounds the fixed-capacity file-descriptor table.
	MaxOpenFiles = 128
)

// / AddressSpace is implemented by a process's virtual-address table
// / (package vm's AddrSpace_t). sched only needs to know that a thread owns
// / exactly one and that it must be torn down on exit — not its internals.
// / Keeping this as an interface, rather than importing package vm directly,
// / avoids a sched<->vm import cycle: vm's AddrSpace_t holds a back-pointer
// / to its owning *Thread_t (spec §3's "per-process" ownership), so sched
// / cannot also import vm.
type AddressSpace interface {
	Teardown()
}

// / Thread_t is a schedulable thread (spec §3, "Thread").
type Thread_t struct {
	Tid  Tid_t
	Name string

	// Priority is the effective priority currently used by the scheduler;
	// InitPriority is the baseline before any donation. Invariant:
	// Priority >= InitPriority, and Priority == max(InitPriority, every
	// donor's effective priority) (spec §3).
	Priority     int
	InitPriority int
	Status       Status_t

	Parent   *Thread_t
	Children []*Thread_t

	// SemaExit is the exit handshake: Exit() ups it once, after recording
	// ExitStatus; Wait() downs it to block until the child has finished.
	// This doubles as the original's sema_wait (spec §3): nothing in this
	// package distinguishes "child has exited" from "parent may collect
	// the exit status" as two separate events, so one semaphore serves
	// both roles (see DESIGN.md).
	SemaExit *Semaphore_t

	ExitStatus int
	Exited     bool

	// Loaded and SemaLoad implement the exec/child load handshake (spec
	// §3, "sema_load"): a parent waiting in WaitLoad blocks on SemaLoad
	// until the child reports, via ReportLoad, whether its program image
	// loaded successfully. The ELF loader itself is out of scope (spec
	// §1); this is only the synchronization contract it relies on.
	Loaded   bool
	SemaLoad *Semaphore_t

	// WakeupTick is the absolute tick at which a sleeping thread should be
	// unblocked; only meaningful while the thread is on the sleep list.
	WakeupTick int64

	// WaitOnLock is the lock currently blocking this thread's progress, or
	// nil. Donations is the set of threads that have donated priority to
	// this thread through a lock it holds.
	WaitOnLock *Lock_t
	Donations  []*Thread_t

	// ExtendLock is the per-thread extend lock of the Thread data model
	// (spec §3). Nothing in this repository acquires it: inode growth is
	// serialized by the inode package's own per-inode extend lock (spec
	// §4.3).
	ExtendLock *Lock_t

	// Fds is the fixed-capacity file-descriptor table; indices
	// [0,NumReservedFds) are reserved for stdio.
	Fds [MaxOpenFiles]interface{}

	// VM is the thread's virtual-address table owner, installed by
	// package vm; nil for kernel-only threads that never fault.
	VM AddressSpace

	// Nice and RecentCpu are the MLFQS accounting fields.
	Nice      int
	RecentCpu fixedpt.Fixedpt_t

	// turn is the baton: the scheduler sends on it to let this thread's
	// goroutine run, and the thread blocks reading from it whenever it
	// gives up the CPU.
	turn chan struct{}
}

func newThread(tid Tid_t, name string, priority int) *Thread_t {
	t := &Thread_t{
		Tid:          tid,
		Name:         name,
		Priority:     priority,
		InitPriority: priority,
		Status:       Blocked,
		ExitStatus:   0,
		Nice:         NiceDefault,
		RecentCpu:    fixedpt.Zero,
		turn:         make(chan struct{}, 1),
	}
	t.SemaExit = NewSemaphore(0)
	t.SemaLoad = NewSemaphore(0)
	t.ExtendLock = NewLock()
	return t
}
