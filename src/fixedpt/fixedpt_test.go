package fixedpt

import "testing"

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, -1, 63, -63, 1000} {
		x := FromInt(n)
		if got := ToIntTrunc(x); got != n {
			t.Errorf("ToIntTrunc(FromInt(%d)) = %d", n, got)
		}
		if got := ToIntRound(x); got != n {
			t.Errorf("ToIntRound(FromInt(%d)) = %d", n, got)
		}
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	half := Fixedpt_t(F / 2)
	if got := ToIntRound(half); got != 1 {
		t.Errorf("ToIntRound(0.5) = %d, want 1", got)
	}
	if got := ToIntRound(-half); got != -1 {
		t.Errorf("ToIntRound(-0.5) = %d, want -1", got)
	}
}

func TestArith(t *testing.T) {
	a := FromInt(4)
	b := FromInt(2)
	if got := ToIntTrunc(Add(a, b)); got != 6 {
		t.Errorf("4+2 = %d", got)
	}
	if got := ToIntTrunc(Sub(a, b)); got != 2 {
		t.Errorf("4-2 = %d", got)
	}
	if got := ToIntTrunc(Mul(a, b)); got != 8 {
		t.Errorf("4*2 = %d", got)
	}
	if got := ToIntTrunc(Div(a, b)); got != 2 {
		t.Errorf("4/2 = %d", got)
	}
	if got := ToIntTrunc(MulInt(a, 3)); got != 12 {
		t.Errorf("4*3 = %d", got)
	}
	if got := ToIntTrunc(DivInt(a, 4)); got != 1 {
		t.Errorf("4/4 = %d", got)
	}
}

// Mirrors mlfqs_recent_cpu's formula: (2*load_avg)/(2*load_avg+1) * recent_cpu + nice.
func TestMlfqsRecentCpuFormula(t *testing.T) {
	loadAvg := FromInt(1) // load_avg == 1.0
	recentCpu := FromInt(10)
	nice := 2

	loadAvg2 := MulInt(loadAvg, 2)
	loadAdded1 := AddInt(loadAvg2, 1)
	coeff := Div(loadAvg2, loadAdded1)
	result := Mul(coeff, recentCpu)
	result = AddInt(result, nice)

	// coeff = 2/3, * 10 = 6.67, + 2 = 8.67 -> rounds to 9
	if got := ToIntRound(result); got != 9 {
		t.Errorf("mlfqs_recent_cpu-shaped formula = %d, want 9", got)
	}
}
