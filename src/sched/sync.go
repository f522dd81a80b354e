package sched

// / Semaphore_t is a counting semaphore whose wait list is kept in arrival
// / order; up scans it and always wakes the highest-priority waiter
// / (spec §4.1, "Semaphore").
type Semaphore_t struct {
	count   int
	waiters []*Thread_t
}

// / NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(count int) *Semaphore_t {
	return &Semaphore_t{count: count}
}

// down blocks t (via sched) until the semaphore's count is positive, then
// decrements it. Caller must hold sched.mu.
func (s *Semaphore_t) down(sc *Sched_t, t *Thread_t) {
	for s.count == 0 {
		s.waiters = append(s.waiters, t)
		sc.block(t)
	}
	s.count--
}

// up wakes the highest-priority waiter, if any, and increments the count.
// Caller must hold sched.mu.
func (s *Semaphore_t) up(sc *Sched_t) *Thread_t {
	s.count++
	if len(s.waiters) == 0 {
		return nil
	}
	best := 0
	for i, w := range s.waiters {
		if w.Priority > s.waiters[best].Priority {
			best = i
		}
	}
	w := s.waiters[best]
	s.waiters = append(s.waiters[:best], s.waiters[best+1:]...)
	sc.unblock(w)
	return w
}

// / Lock_t is a mutex built on a binary semaphore that additionally tracks
// / its holder, so it can participate in priority donation (spec §4.1,
// / "Lock").
type Lock_t struct {
	sema   *Semaphore_t
	holder *Thread_t
}

// / NewLock creates an unheld lock.
func NewLock() *Lock_t {
	return &Lock_t{sema: NewSemaphore(1)}
}

// / Acquire blocks cur (via sc) until lk is free, donating cur's priority
// / up the holder chain while it waits (spec §4.1 step 2).
func (lk *Lock_t) Acquire(sc *Sched_t, cur *Thread_t) {
	sc.mu.Lock()
	if lk.holder != nil && lk.holder != cur {
		cur.WaitOnLock = lk
		lk.holder.Donations = append(lk.holder.Donations, cur)
		donatePriority(cur)
	}
	lk.sema.down(sc, cur)
	cur.WaitOnLock = nil
	lk.holder = cur
	sc.mu.Unlock()
}

// / Release gives up lk, restores cur's own priority, wakes the
// / highest-priority waiter, and (unlike plain Unblock) immediately checks
// / whether the wakeup should preempt cur — matching the original
// / lock_release contract, under which a freshly woken higher-priority
// / thread runs right away rather than waiting for cur's own time slice to
// / expire.
func (lk *Lock_t) Release(sc *Sched_t, cur *Thread_t) {
	sc.mu.Lock()
	lk.holder = nil
	removeWithLock(cur, lk)
	refreshPriority(cur)
	lk.sema.up(sc)
	sc.mu.Unlock()
	sc.TestMaxPriority(cur)
}

// donatePriority walks up the chain of locks cur is waiting on, raising
// each holder's effective priority to at least cur's, for at most
// MaxDonationDepth hops (spec §4.1 step 2; the depth cap guards against a
// malformed or cyclic donation graph per spec §9).
func donatePriority(cur *Thread_t) {
	donor := cur
	for depth := 0; depth < MaxDonationDepth; depth++ {
		lk := donor.WaitOnLock
		if lk == nil || lk.holder == nil {
			return
		}
		holder := lk.holder
		if holder.Priority >= donor.Priority {
			return
		}
		holder.Priority = donor.Priority
		donor = holder
	}
}

// refreshPriority recomputes t's effective priority from its base priority
// and the priorities of the threads currently donating to it. This
// replaces the original's recursive refresh_priority walk: every donor's
// own Priority field is already kept current by the donation step above
// (and by its own refreshPriority when it released a lock), so a single
// max() over direct donors is sufficient — no recursive descent into
// donors-of-donors is needed to satisfy the Thread priority invariant.
func refreshPriority(t *Thread_t) {
	best := t.InitPriority
	for _, d := range t.Donations {
		if d.Priority > best {
			best = d.Priority
		}
	}
	t.Priority = best
}

// removeWithLock drops from holder.Donations every thread that was waiting
// specifically on lk, since releasing lk resolves their donation (spec
// §4.1 step 2, lock_release).
func removeWithLock(holder *Thread_t, lk *Lock_t) {
	kept := holder.Donations[:0]
	for _, d := range holder.Donations {
		if d.WaitOnLock != lk {
			kept = append(kept, d)
		}
	}
	holder.Donations = kept
}
