package sched

import "testing"

// A thread holding a lock a higher-priority thread is waiting on should
// have its effective priority raised to the waiter's, then restored once
// the lock is released (spec §8, priority donation - basic case).
func TestPriorityDonationBasic(t *testing.T) {
	sc, main := NewSched("main", false)
	sc.SetPriority(main, 20)

	lk := NewLock()
	lk.Acquire(sc, main)

	done := make(chan struct{})
	sc.CreateThread(main, "high", 50, func(high *Thread_t) {
		lk.Acquire(sc, high)
		lk.Release(sc, high)
		close(done)
	})

	if main.Priority != 50 {
		t.Fatalf("holder priority = %d, want 50 (donated)", main.Priority)
	}

	lk.Release(sc, main)

	if main.Priority != 20 {
		t.Fatalf("holder priority after release = %d, want 20 (restored)", main.Priority)
	}

	<-done
}

// Donation must propagate transitively: low holds lockA, mid waits on
// lockA while holding lockB, high waits on lockB. high's priority should
// reach low through mid (spec §8, nested donation).
func TestPriorityDonationChain(t *testing.T) {
	sc, main := NewSched("main", false)
	sc.SetPriority(main, 10)

	lockA := NewLock()
	lockB := NewLock()
	lockA.Acquire(sc, main) // main == "low"

	midReady := make(chan struct{})
	midDone := make(chan struct{})
	var mid *Thread_t
	mid = sc.CreateThread(main, "mid", 30, func(m *Thread_t) {
		lockB.Acquire(sc, m)
		close(midReady)
		lockA.Acquire(sc, m) // blocks; donates to main through lockA
		lockA.Release(sc, m)
		lockB.Release(sc, m)
		close(midDone)
	})
	<-midReady

	if main.Priority != 30 {
		t.Fatalf("low priority after mid donation = %d, want 30", main.Priority)
	}

	highDone := make(chan struct{})
	sc.CreateThread(main, "high", 50, func(h *Thread_t) {
		lockB.Acquire(sc, h) // blocks on mid; donates 50 to mid, then to main
		lockB.Release(sc, h)
		close(highDone)
	})

	if main.Priority != 50 {
		t.Fatalf("low priority after chained high donation = %d, want 50", main.Priority)
	}
	if mid.Priority != 50 {
		t.Fatalf("mid priority after high donation = %d, want 50", mid.Priority)
	}

	lockA.Release(sc, main)
	<-midDone
	<-highDone

	if main.Priority != 10 {
		t.Fatalf("low priority after full release = %d, want 10 (restored)", main.Priority)
	}
}
