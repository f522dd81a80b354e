package sched

import "fixedpt"

// mlfqsRecalcLoadAvg updates the system-wide load average once every
// TIMER_FREQ (100) ticks: load_avg = (59/60)*load_avg + (1/60)*ready_threads,
// where ready_threads counts every runnable thread including the one
// currently running, but excludes idle (spec §4.1, "MLFQS"). Caller must
// hold mu.
func (sc *Sched_t) mlfqsRecalcLoadAvg(cur *Thread_t) {
	readyThreads := len(sc.ready)
	for _, t := range sc.ready {
		if t == sc.idle {
			readyThreads--
		}
	}
	if cur != sc.idle {
		readyThreads++
	}

	fiftyNine60 := fixedpt.Div(fixedpt.FromInt(59), fixedpt.FromInt(60))
	oneOver60 := fixedpt.Div(fixedpt.FromInt(1), fixedpt.FromInt(60))

	term1 := fixedpt.Mul(fiftyNine60, sc.loadAvg)
	term2 := fixedpt.MulInt(oneOver60, readyThreads)
	sc.loadAvg = fixedpt.Add(term1, term2)
}

// mlfqsRecalcAllRecentCpu recomputes recent_cpu for every thread:
// recent_cpu = (2*load_avg)/(2*load_avg+1) * recent_cpu + nice (spec
// §4.1, "MLFQS"). Caller must hold mu.
func (sc *Sched_t) mlfqsRecalcAllRecentCpu() {
	loadAvg2 := fixedpt.MulInt(sc.loadAvg, 2)
	coeff := fixedpt.Div(loadAvg2, fixedpt.AddInt(loadAvg2, 1))
	for _, t := range sc.all {
		if t == sc.idle {
			continue
		}
		t.RecentCpu = fixedpt.AddInt(fixedpt.Mul(coeff, t.RecentCpu), t.Nice)
	}
}

// mlfqsRecalcAllPriority recomputes priority for every thread:
// priority = PRI_MAX - (recent_cpu/4) - (nice*2), clamped to
// [PriMin,PriMax] (spec §4.1, "MLFQS"). Caller must hold mu.
func (sc *Sched_t) mlfqsRecalcAllPriority() {
	for _, t := range sc.all {
		if t == sc.idle {
			continue
		}
		p := PriMax - fixedpt.ToIntTrunc(fixedpt.DivInt(t.RecentCpu, 4)) - t.Nice*2
		t.Priority = clampPriority(p)
	}
}

func clampPriority(p int) int {
	if p < PriMin {
		return PriMin
	}
	if p > PriMax {
		return PriMax
	}
	return p
}
