package sched

import (
	"runtime"
	"sync"

	"fixedpt"
)

// / Sched_t owns every piece of scheduler-global state: the ready list, the
// / sleep list, the registry of live threads, and the MLFQS accounting.
// / mu is the stand-in for "interrupts disabled" (spec §5): it is held for
// / every mutation of that state, and released only around the baton
// / handoff itself, which is the one place a goroutine actually blocks.
type Sched_t struct {
	mu sync.Mutex

	ready    []*Thread_t
	sleeping map[Tid_t]*Thread_t
	all      map[Tid_t]*Thread_t

	idle    *Thread_t
	current *Thread_t
	nextTid Tid_t

	ticks       int64
	threadTicks int

	// Mlfqs selects the scheduling policy: when true, priorities are
	// recomputed from Nice/RecentCpu/loadAvg rather than set directly
	// (spec §4.1, "MLFQS"; mirrors the -o mlfqs boot option).
	Mlfqs   bool
	loadAvg fixedpt.Fixedpt_t
}

// / NewSched builds a scheduler and registers the calling goroutine itself
// / as the initial ("main") thread, already running. This mirrors
// / thread_init's treatment of the boot thread: unlike every other thread,
// / main never passes through the <-turn gate because it is already the
// / thread in control when NewSched returns.
func NewSched(mainName string, mlfqs bool) (*Sched_t, *Thread_t) {
	sc := &Sched_t{
		all:      make(map[Tid_t]*Thread_t),
		sleeping: make(map[Tid_t]*Thread_t),
		Mlfqs:    mlfqs,
	}

	idle := newThread(0, "idle", PriMin)
	sc.idle = idle
	sc.all[idle.Tid] = idle
	sc.ready = append(sc.ready, idle)
	sc.nextTid = 1

	main := newThread(sc.nextTid, mainName, PriDefault)
	sc.nextTid++
	main.Status = Running
	sc.all[main.Tid] = main
	sc.current = main

	go func() {
		<-idle.turn
		for {
			sc.Yield(idle)
			runtime.Gosched()
		}
	}()

	return sc, main
}

// / CreateThread spawns a new thread running fn, with the given name and
// / base priority, and makes it ready to run. If the new thread outranks
// / the caller, the caller yields immediately (spec §4.1 step 1; mirrors
// / thread_create's call to thread_yield on the preempting case).
func (sc *Sched_t) CreateThread(cur *Thread_t, name string, priority int, fn func(*Thread_t)) *Thread_t {
	sc.mu.Lock()
	tid := sc.nextTid
	sc.nextTid++
	t := newThread(tid, name, priority)
	t.Parent = cur
	sc.all[tid] = t
	sc.mu.Unlock()

	go func() {
		<-t.turn
		fn(t)
		sc.exit(t)
	}()

	sc.mu.Lock()
	sc.unblock(t)
	sc.mu.Unlock()

	sc.TestMaxPriority(cur)
	return t
}

// / Exit records status and wakes any thread waiting on t via Wait, then
// / relinquishes the CPU for good: it ends the calling goroutine, which
// / must be t's own, and never returns.
func (sc *Sched_t) Exit(t *Thread_t, status int) {
	t.ExitStatus = status
	sc.exit(t)
	runtime.Goexit()
}

// exit is the shared tail of Exit and of a thread function returning
// normally from CreateThread's wrapper goroutine.
func (sc *Sched_t) exit(t *Thread_t) {
	sc.mu.Lock()
	t.Status = Dying
	t.Exited = true
	delete(sc.all, t.Tid)
	if t.VM != nil {
		t.VM.Teardown()
	}
	t.SemaExit.up(sc)
	sc.dispatch(t)
}

// / Wait blocks parent until child has exited, then returns child's exit
// / status (spec §3, Thread.Children/ExitStatus).
func (sc *Sched_t) Wait(parent, child *Thread_t) int {
	sc.mu.Lock()
	child.SemaExit.down(sc, parent)
	sc.mu.Unlock()
	return child.ExitStatus
}

// / ReportLoad records whether t's program image loaded successfully and
// / wakes a parent blocked in WaitLoad (spec §3, "sema_load"; grounded on
// / process.c's start_process signalling sema_load after load() returns,
// / without the ELF loader itself, which is out of scope per spec §1).
func (sc *Sched_t) ReportLoad(t *Thread_t, ok bool) {
	sc.mu.Lock()
	t.Loaded = ok
	t.SemaLoad.up(sc)
	sc.mu.Unlock()
}

// / WaitLoad blocks cur until child has called ReportLoad, then returns
// / whether the load succeeded (spec §7, "exec returns -1 after observing
// / child's loaded=false").
func (sc *Sched_t) WaitLoad(cur, child *Thread_t) bool {
	sc.mu.Lock()
	child.SemaLoad.down(sc, cur)
	sc.mu.Unlock()
	return child.Loaded
}

// / Block parks cur off the ready list until some other call (typically a
// / Semaphore_t.up via a Lock_t.Release, or Unblock) puts it back.
func (sc *Sched_t) Block(cur *Thread_t) {
	sc.mu.Lock()
	sc.block(cur)
	sc.mu.Unlock()
}

// / Unblock makes t ready to run without yielding the caller's own turn;
// / matches thread_unblock's contract that the caller decides separately
// / whether to test for preemption (spec §4.1 step 3).
func (sc *Sched_t) Unblock(t *Thread_t) {
	sc.mu.Lock()
	sc.unblock(t)
	sc.mu.Unlock()
}

// / Yield gives up the CPU but keeps cur ready to run again immediately.
func (sc *Sched_t) Yield(cur *Thread_t) {
	sc.mu.Lock()
	sc.unblock(cur)
	sc.dispatch(cur)
}

// / Sleep parks cur until at least ticks timer ticks have elapsed (spec
// / §4.1, "alarm clock"; grounded on timer_sleep's busy-free redesign: the
// / thread blocks rather than spinning, and Tick does the waking).
func (sc *Sched_t) Sleep(cur *Thread_t, ticks int64) {
	if ticks <= 0 {
		return
	}
	sc.mu.Lock()
	cur.WakeupTick = sc.ticks + ticks
	sc.sleeping[cur.Tid] = cur
	sc.block(cur)
	sc.mu.Unlock()
}

// / Tick simulates one timer interrupt for the currently running thread
// / cur: it advances the clock, runs the MLFQS recompute cadence, wakes
// / any threads whose alarm has elapsed, and preempts cur if its time
// / slice is spent (spec §4.1, "timer tick").
func (sc *Sched_t) Tick(cur *Thread_t) {
	sc.mu.Lock()
	sc.ticks++
	sc.threadTicks++

	if sc.Mlfqs && cur != sc.idle {
		cur.RecentCpu = fixedpt.AddInt(cur.RecentCpu, 1)
	}

	woken := sc.collectWake()

	if sc.Mlfqs {
		switch {
		case sc.ticks%100 == 0:
			sc.mlfqsRecalcLoadAvg(cur)
			sc.mlfqsRecalcAllRecentCpu()
			sc.mlfqsRecalcAllPriority()
		case sc.ticks%4 == 0:
			sc.mlfqsRecalcAllPriority()
		}
	}

	forcePreempt := sc.threadTicks >= TimeSlice
	sc.mu.Unlock()

	for _, w := range woken {
		sc.Unblock(w)
	}
	if forcePreempt {
		sc.Yield(cur)
	} else if len(woken) > 0 {
		sc.TestMaxPriority(cur)
	}
}

// / TestMaxPriority yields cur if some ready thread now outranks it (spec
// / §4.1 step 3).
func (sc *Sched_t) TestMaxPriority(cur *Thread_t) {
	sc.mu.Lock()
	if len(sc.ready) == 0 {
		sc.mu.Unlock()
		return
	}
	best := sc.ready[0]
	for _, t := range sc.ready {
		if t.Priority > best.Priority {
			best = t
		}
	}
	if best.Priority <= cur.Priority {
		sc.mu.Unlock()
		return
	}
	sc.mu.Unlock()
	sc.Yield(cur)
}

// / SetPriority sets cur's base priority directly; a no-op under MLFQS,
// / where priority is derived rather than assigned (spec §4.1, "MLFQS").
func (sc *Sched_t) SetPriority(cur *Thread_t, pri int) {
	sc.mu.Lock()
	if sc.Mlfqs {
		sc.mu.Unlock()
		return
	}
	cur.InitPriority = pri
	refreshPriority(cur)
	sc.mu.Unlock()
	sc.TestMaxPriority(cur)
}

// GetPriority returns t's current effective priority.
func (sc *Sched_t) GetPriority(t *Thread_t) int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return t.Priority
}

// / ReadyLen reports the current ready-queue depth, for diagnostics
// / (cmd/kdiag) rather than any scheduling decision.
func (sc *Sched_t) ReadyLen() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.ready)
}

// / SleepingLen reports how many threads are currently parked on the
// / sleep list, for diagnostics.
func (sc *Sched_t) SleepingLen() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.sleeping)
}

// block parks t off the ready list and dispatches away from it. Caller
// must hold mu; returns with mu held again.
func (sc *Sched_t) block(t *Thread_t) {
	t.Status = Blocked
	sc.dispatch(t)
	sc.mu.Lock()
}

// unblock makes t ready to run. Caller must hold mu; returns with mu
// still held.
func (sc *Sched_t) unblock(t *Thread_t) {
	t.Status = Ready
	sc.ready = append(sc.ready, t)
}

// collectWake removes and returns every sleeping thread whose wakeup tick
// has arrived. Caller must hold mu.
func (sc *Sched_t) collectWake() []*Thread_t {
	var woken []*Thread_t
	for tid, t := range sc.sleeping {
		if t.WakeupTick <= sc.ticks {
			woken = append(woken, t)
			delete(sc.sleeping, tid)
		}
	}
	return woken
}

// nextThreadToRun removes and returns the highest-priority ready thread,
// or nil if none is ready. Caller must hold mu.
func (sc *Sched_t) nextThreadToRun() *Thread_t {
	if len(sc.ready) == 0 {
		return nil
	}
	best := 0
	for i, t := range sc.ready {
		if t.Priority > sc.ready[best].Priority {
			best = i
		}
	}
	t := sc.ready[best]
	sc.ready = append(sc.ready[:best], sc.ready[best+1:]...)
	return t
}

// dispatch hands the CPU to the next ready thread, or keeps cur running
// if it is still the best candidate (the self-reselection case: a
// yielding thread whose priority is still highest). Caller must hold mu;
// dispatch always releases it, whether or not a baton handoff occurs, so
// that the receiving end of the channel exchange never happens under the
// lock.
func (sc *Sched_t) dispatch(cur *Thread_t) {
	next := sc.nextThreadToRun()
	if next == nil {
		next = cur
	}
	sc.threadTicks = 0
	if next == cur {
		cur.Status = Running
		sc.current = cur
		sc.mu.Unlock()
		return
	}

	next.Status = Running
	sc.current = next
	wasDying := cur.Status == Dying
	sc.mu.Unlock()

	next.turn <- struct{}{}
	if !wasDying {
		<-cur.turn
	}
}
